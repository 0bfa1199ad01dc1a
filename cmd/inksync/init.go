package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inksight/inksync/internal/config"
	"github.com/inksight/inksync/internal/utils"
)

func init() {
	rootCmd.AddCommand(newInitCmd())
}

func newInitCmd() *cobra.Command {
	var host string
	var cacheDir string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			path := configPath(cmd)
			out := cmd.OutOrStdout()

			if utils.FileExists(path) && !force {
				fmt.Fprintln(out, "InkSync is already initialized")
				fmt.Fprintf(out, "Config: %s\n", green.Render(path))
				fmt.Fprintf(out, "Re-run with %s to overwrite\n", cyan.Render("--force"))
				return nil
			}

			cfg := config.Default()
			if host != "" {
				cfg.Device.Host = host
			}
			if cacheDir != "" {
				cfg.Cache.Dir = cacheDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}

			fmt.Fprintln(out, "InkSync initialized")
			fmt.Fprintf(out, "Config: %s\n", green.Render(path))
			fmt.Fprintf(out, "Device: %s\n", cyan.Render(cfg.Device.Host))
			fmt.Fprintf(out, "Cache:  %s\n", cyan.Render(cfg.Cache.Dir))
			return nil
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringVarP(&host, "host", "H", "", "device address (default "+config.DefaultDeviceHost+")")
	cmd.Flags().StringVarP(&cacheDir, "cache-dir", "d", "", "local cache directory (default "+config.DefaultCacheDir+")")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config")

	return cmd
}
