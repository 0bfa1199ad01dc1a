package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/inksight/inksync/internal/config"
	"github.com/inksight/inksync/internal/document"
	"github.com/inksight/inksync/internal/jsonx"
	"github.com/inksight/inksync/internal/outbox"
	isync "github.com/inksight/inksync/internal/sync"
)

func init() {
	rootCmd.AddCommand(newQueueCmd())
}

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the outbox of synced documents",
	}
	cmd.AddCommand(newQueueListCmd(), newQueueAckCmd())
	return cmd
}

// openQueue loads the config and opens the outbox store behind it.
func openQueue(cmd *cobra.Command) (*outbox.Store, *config.Config, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Outbox.Enabled {
		return nil, nil, fmt.Errorf("the outbox is disabled in config")
	}
	st := outbox.NewStore(cfg.OutboxDBPath())
	if err := st.Open(); err != nil {
		return nil, nil, err
	}
	return st, cfg, nil
}

func newQueueListCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			st, cfg, err := openQueue(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			entries, err := st.Pending()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				data, err := jsonx.MarshalIndent(entries, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			if len(entries) == 0 {
				fmt.Fprintln(out, "Queue is empty")
				return nil
			}

			cache, err := isync.NewCache(cfg.Cache.Dir)
			if err != nil {
				return err
			}
			names, err := document.NewNames(cache.Root, nameCacheSize)
			if err != nil {
				return err
			}

			for _, e := range entries {
				change := green.Render(e.ChangeType)
				if e.ChangeType == outbox.ChangeDeleted {
					change = red.Render(e.ChangeType)
				}
				fmt.Fprintf(out, "%-8s %s  %-40s %s (x%d)\n",
					change,
					gray.Render(e.DocID),
					names.DisplayName(e.DocID),
					humanize.Time(e.QueuedAt),
					e.Attempts)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "print entries as JSON")

	return cmd
}

func newQueueAckCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "ack [doc-id]",
		Short: "Acknowledge pending entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			if !all && len(args) == 0 {
				return fmt.Errorf("provide a document id or --all")
			}

			st, _, err := openQueue(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			if all {
				n, err := st.AckAll()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Acked %d entr%s\n", n, plural(n, "y", "ies"))
				return nil
			}

			ok, err := st.Ack(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no pending entry for %s", args[0])
			}
			fmt.Fprintf(out, "Acked %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "acknowledge every pending entry")

	return cmd
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
