// Command studioctl is the quick-action client: it sends requests to the
// background context and edits shared settings from a terminal.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Version is overwritten at build time using -ldflags.
var Version = "dev"

type options struct {
	backgroundURL string
	redisAddr     string
	databaseURL   string
	secret        string
	contextName   string
	target        string
	timeout       time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "studioctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "studioctl",
		Short:         "Quick actions for the script studio",
		Long:          "studioctl sends requests to the background context and edits shared settings.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("background", envOr("STUDIOCTL_BACKGROUND_URL", "http://localhost:8091"), "background context base URL")
	flags.String("redis", os.Getenv("REDIS_ADDR"), "redis address; sends over the redis transport when set")
	flags.String("db", envOr("DATABASE_URL", "data/studio.db"), "settings database")
	flags.String("secret", os.Getenv("CONTEXT_TOKEN_SECRET"), "context token secret")
	flags.String("context", "popup", "name of this context")
	flags.String("target", "background", "receiving context")
	flags.Duration("timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(
		newAddScriptCmd(),
		newOpenPageCmd(),
		newPrimeCmd(),
		newThemeCmd(),
		newValidateLineCmd(),
		newStripCmd(),
		newValidatePromptCmd(),
	)
	return cmd
}

func optionsFrom(cmd *cobra.Command) options {
	flags := cmd.Flags()
	opts := options{}
	opts.backgroundURL, _ = flags.GetString("background")
	opts.redisAddr, _ = flags.GetString("redis")
	opts.databaseURL, _ = flags.GetString("db")
	opts.secret, _ = flags.GetString("secret")
	opts.contextName, _ = flags.GetString("context")
	opts.target, _ = flags.GetString("target")
	opts.timeout, _ = flags.GetDuration("timeout")
	return opts
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
