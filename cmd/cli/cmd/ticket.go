package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/opencomputer/termproxy/internal/auth"
	"github.com/spf13/cobra"
)

var (
	ticketSecret string
	ticketPath   string
	ticketPrivs  string
	ticketTTL    time.Duration
)

var ticketCmd = &cobra.Command{
	Use:   "ticket <user>",
	Short: "Issue a ticket for relays that verify tickets locally",
	Long: `Sign a short-lived ticket for relays started with TERMPROXY_TICKET_SECRET.
Example: termproxy-cli ticket root@pam --path /vms/100 --secret $TERMPROXY_TICKET_SECRET`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ticketSecret == "" {
			return fmt.Errorf("ticket secret is required. Set TERMPROXY_TICKET_SECRET or use --secret")
		}
		if ticketPath == "" {
			return fmt.Errorf("--path is required")
		}

		issuer := auth.NewJWTVerifier(ticketSecret, ticketPath, ticketPrivs)
		tkt, err := issuer.IssueTicket(args[0], ticketPath, ticketPrivs, ticketTTL)
		if err != nil {
			return fmt.Errorf("failed to issue ticket: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), tkt)
		return nil
	},
}

func init() {
	ticketCmd.Flags().StringVar(&ticketSecret, "secret", os.Getenv("TERMPROXY_TICKET_SECRET"), "HS256 signing secret")
	ticketCmd.Flags().StringVar(&ticketPath, "path", getEnvOrDefault("TERMPROXY_PATH", ""), "ACL path the ticket grants")
	ticketCmd.Flags().StringVar(&ticketPrivs, "privs", "", "privileges the ticket grants on --path")
	ticketCmd.Flags().DurationVar(&ticketTTL, "ttl", 2*time.Minute, "ticket lifetime")
	rootCmd.AddCommand(ticketCmd)
}
