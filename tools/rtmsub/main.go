// Package main implements rtmsub, a command line subscriber that prints the
// messages of one RTM channel as JSON lines.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// flagKeys maps command line flags to configuration paths.
var flagKeys = map[string]string{
	"endpoint":        "endpoint",
	"endpoints":       "endpoints",
	"appkey":          "appkey",
	"channel":         "channel",
	"filter":          "filter",
	"count":           "count",
	"timeout":         "timeout",
	"subscription-id": "subscription.id",
	"position":        "subscription.position",
	"fast-forward":    "subscription.fast_forward",
	"history-count":   "subscription.history_count",
	"role":            "auth.role",
	"secret":          "auth.secret",
	"reconnect":       "reconnect.enabled",
	"log-level":       "log.level",
	"log-json":        "log.json",
	"position-file":   "position_file",
	"metrics-addr":    "metrics_addr",
}

// RootCmd returns the rtmsub command.
func RootCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "rtmsub [channel]",
		Short: "Subscribe to an RTM channel and print its messages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := flagOverrides(cmd)
			if len(args) == 1 {
				overrides["channel"] = args[0]
			}
			config, err := LoadConfig(configFile, overrides)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, config, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "Path to a YAML configuration file")
	flags.String("endpoint", "", "RTM endpoint, e.g. wss://host")
	flags.String("endpoints", "", "Comma-separated fallback endpoints")
	flags.String("appkey", "", "Application key")
	flags.String("channel", "", "Channel to subscribe to")
	flags.String("filter", "", "Server-side filter expression")
	flags.Int("count", 0, "Exit after printing this many messages (0 runs until interrupted)")
	flags.Duration("timeout", 0, "Exit after this long (0 disables)")
	flags.String("subscription-id", "", "Subscription id, defaults to the channel")
	flags.String("position", "", "Resume from this position")
	flags.Bool("fast-forward", false, "Let the server skip expired positions")
	flags.Int("history-count", 0, "Replay this many past messages on subscribe")
	flags.String("role", "", "Role for role-secret authentication")
	flags.String("secret", "", "Secret for role-secret authentication")
	flags.Bool("reconnect", true, "Reconnect and resubscribe after a lost connection")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Write logs as JSON")
	flags.String("position-file", "", "Persist subscription positions to this file")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

// flagOverrides returns the values of flags set on the command line.
func flagOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		overrides[key] = flag.Value.String()
	}
	return overrides
}

func main() {
	if err := RootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
