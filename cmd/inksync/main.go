package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/inksight/inksync/internal/config"
	"github.com/inksight/inksync/internal/version"
)

const logTimeFormat = "2006-01-02T15:04:05.000Z07:00"

var rootCmd = &cobra.Command{
	Use:     "inksync",
	Short:   "Keep a local folder in sync with an e-ink tablet",
	Version: version.Detailed(),
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "path to config file")
}

func main() {
	_ = godotenv.Load()

	// Logs go to stderr so command output stays pipeable.
	slog.SetDefault(slog.New(consoleHandler(slog.LevelInfo)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func consoleHandler(level slog.Level) slog.Handler {
	return tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: logTimeFormat,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
}

// configPath resolves the config location: the --config flag when set, then
// the INKSYNC_CONFIG env var, then the default.
func configPath(cmd *cobra.Command) string {
	if f := cmd.Flag("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	if env := os.Getenv("INKSYNC_CONFIG"); env != "" {
		return env
	}
	return config.DefaultConfigPath
}

func parseLogLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
