package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "termproxy-cli",
	Short: "termproxy client - attach to a relayed terminal",
	Long: `termproxy-cli talks to a running termproxy relay.

It can attach the local terminal to a relayed session and mint tickets for
relays that verify JWT tickets locally.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
