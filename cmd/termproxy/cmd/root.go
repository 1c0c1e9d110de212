package cmd

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// options are the command-line settings. Zero values defer to config.Load.
type options struct {
	port     int
	command  []string
	portAsFD bool

	authPort    int
	path        string
	perm        string
	websocket   bool
	listenHost  string
	idleTimeout time.Duration
	logLevel    string
	metricsAddr string
}

var opts options

var rootCmd = &cobra.Command{
	Use:   "termproxy [flags] <port> -- <command> [args...]",
	Short: "Relay one authenticated client to a program in a pseudo-terminal",
	Long: `termproxy waits for a single client on <port>, checks its ticket, then
starts <command> in a pseudo-terminal and relays the session until either
side goes away or the client stays silent for too long.

Example: termproxy --path /vms/100 5900 -- /bin/login -f root`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args: func(cmd *cobra.Command, args []string) error {
		port, command, err := splitArgs(args, cmd.ArgsLenAtDash(), opts.portAsFD)
		if err != nil {
			return err
		}
		opts.port = port
		opts.command = command
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), cmd, opts)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	f := rootCmd.Flags()
	f.IntVar(&opts.authPort, "authport", 85, "local port of the ticket verification service")
	f.BoolVar(&opts.portAsFD, "port-as-fd", false, "treat <port> as an inherited listening socket descriptor")
	f.StringVar(&opts.path, "path", "", "ACL path the ticket must grant (required)")
	f.StringVar(&opts.perm, "perm", "", "privileges the ticket must grant on --path")
	f.BoolVar(&opts.websocket, "websocket", false, "accept the client over websocket on /ws instead of raw TCP")
	f.StringVar(&opts.listenHost, "listen-host", "localhost", "interface to listen on")
	f.DurationVar(&opts.idleTimeout, "idle-timeout", 5*time.Minute, "close the session after this long without client messages")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	_ = rootCmd.MarkFlagRequired("path")
}

// splitArgs separates <port> from the program command line. dashAt is the
// number of arguments before "--", or -1 when there was none.
func splitArgs(args []string, dashAt int, portAsFD bool) (int, []string, error) {
	if dashAt == -1 {
		return 0, nil, errors.New("missing '--' before the command to run")
	}
	if dashAt != 1 {
		return 0, nil, fmt.Errorf("expected exactly one argument before '--', got %d", dashAt)
	}
	if len(args) < 2 {
		return 0, nil, errors.New("no command given after '--'")
	}

	limit := uint64(math.MaxUint16)
	if portAsFD {
		limit = math.MaxInt32
	}
	port, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid port %q: %w", args[0], err)
	}
	if port > limit {
		return 0, nil, fmt.Errorf("port %d too big", port)
	}
	return int(port), args[1:], nil
}
