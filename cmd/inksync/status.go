package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/inksight/inksync/internal/config"
	"github.com/inksight/inksync/internal/document"
	isync "github.com/inksight/inksync/internal/sync"
)

const nameCacheSize = 512

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

// status reads the ledger straight from disk, so it works whether or not a
// daemon is running and never takes the cache lock.
func newStatusCmd() *cobra.Command {
	var showDocs bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return err
			}

			cache, err := isync.NewCache(cfg.Cache.Dir)
			if err != nil {
				return err
			}
			ledger := isync.NewLedger(cache.LedgerPath(), cache.Root)
			if err := ledger.Load(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if ledger.LastSync().IsZero() {
				fmt.Fprintf(out, "Cache %s has never been synced. Run %s first.\n",
					cyan.Render(cache.Root), green.Render("inksync sync"))
				return nil
			}

			fmt.Fprintf(out, "Cache:     %s\n", cyan.Render(cache.Root))
			fmt.Fprintf(out, "Documents: %s\n", green.Render(fmt.Sprint(ledger.Len())))
			fmt.Fprintf(out, "Last sync: %s %s\n",
				humanize.Time(ledger.LastSync()),
				gray.Render("("+ledger.LastSync().Local().Format("2006-01-02 15:04:05")+")"))

			if !showDocs {
				return nil
			}

			names, err := document.NewNames(cache.Root, nameCacheSize)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			for _, id := range ledger.IDs() {
				rec, _ := ledger.Get(id)
				fmt.Fprintf(out, "%s  %-40s %s\n",
					gray.Render(id),
					names.DisplayName(id),
					humanize.Time(rec.ModifiedAt))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showDocs, "docs", false, "list every synced document")

	return cmd
}
