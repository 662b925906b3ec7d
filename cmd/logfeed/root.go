package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/archon-research/stl-logfeed/internal/pkg/env"
)

const defaultConfigPath = "networks.yaml"

// rootOptions holds global flags for all commands.
type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "logfeed",
		Short: "Follow contract logs of an EVM network",
		Long: `logfeed keeps one ordered, de-duplicated list of contract logs for the
selected network. New logs arrive over a WebSocket subscription, older ones
are paged in over JSON-RPC on request.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load(".env")
			_ = godotenv.Load(".env.local")
			if !cmd.Flags().Changed("config") {
				opts.configPath = env.Get("LOGFEED_CONFIG", opts.configPath)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "path to the networks file (env LOGFEED_CONFIG)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newNetworksCommand(opts))

	return cmd
}

func (o *rootOptions) logger() *slog.Logger {
	level := env.ParseLogLevel(slog.LevelInfo)
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
