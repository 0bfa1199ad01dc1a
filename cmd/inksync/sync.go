package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inksight/inksync/internal/config"
	"github.com/inksight/inksync/internal/daemon"
	"github.com/inksight/inksync/internal/jsonx"
	isync "github.com/inksight/inksync/internal/sync"
)

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func newSyncCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a single full sync and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return err
			}

			d, err := daemon.New(cfg)
			if err != nil {
				return err
			}

			res, err := d.SyncOnce(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				data, err := jsonx.MarshalIndent(res, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}

			printResult(cmd, res)
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d document(s) failed to sync", len(res.Failed))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON")

	return cmd
}

func printResult(cmd *cobra.Command, res *isync.Result) {
	out := cmd.OutOrStdout()
	if !res.HasChanges() {
		fmt.Fprintln(out, "Already up to date")
		return
	}

	fmt.Fprintf(out, "Synced:  %s\n", green.Render(fmt.Sprint(len(res.Synced))))
	fmt.Fprintf(out, "Deleted: %s\n", cyan.Render(fmt.Sprint(len(res.Deleted))))
	fmt.Fprintf(out, "Skipped: %s\n", gray.Render(fmt.Sprint(len(res.Skipped))))
	fmt.Fprintf(out, "Failed:  %s\n", red.Render(fmt.Sprint(len(res.Failed))))
	for _, id := range res.Failed {
		fmt.Fprintf(out, "  %s %s\n", red.Render("✗"), id)
	}
}
