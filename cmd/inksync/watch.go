package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/inksight/inksync/internal/config"
	"github.com/inksight/inksync/internal/daemon"
	"github.com/inksight/inksync/internal/utils"
	"github.com/inksight/inksync/internal/version"
)

func init() {
	rootCmd.AddCommand(newWatchCmd())
}

func newWatchCmd() *cobra.Command {
	var apiAddr string
	var apiToken string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the sync daemon",
		Long: "Connects to the device, runs a full sync and then keeps the local cache\n" +
			"updated as documents change, until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			path := configPath(cmd)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if cmd.Flag("api-addr").Changed {
				cfg.API.Addr = apiAddr
			}
			if cmd.Flag("api-token").Changed {
				cfg.API.Token = apiToken
			}

			closeLog, err := setupDaemonLogging(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			slog.Info("inksync",
				"version", version.Version,
				"revision", version.Revision,
				"build", version.BuildDate,
				"config", path)

			d, err := daemon.New(cfg)
			if err != nil {
				return err
			}

			defer slog.Info("Bye!")
			if err := d.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringVarP(&apiAddr, "api-addr", "a", "localhost:7438", "address for the local status API")
	cmd.Flags().StringVarP(&apiToken, "api-token", "t", "", "access token for the local status API")

	return cmd
}

// setupDaemonLogging mirrors every record to the console and the log file.
func setupDaemonLogging(cfg *config.Config) (func() error, error) {
	logFile := cfg.LogFilePath()
	if err := utils.EnsureParent(logFile); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	level := parseLogLevel(cfg.Log.Level)
	fileHandler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(consoleHandler(level), fileHandler)))
	return f.Close, nil
}
