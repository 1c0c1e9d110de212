package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opencomputer/termproxy/pkg/client"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const defaultPingInterval = 30 * time.Second

var (
	attachUser      string
	attachTicket    string
	attachWebSocket bool
	attachPing      time.Duration
)

var attachCmd = &cobra.Command{
	Use:   "attach <addr>",
	Short: "Attach the local terminal to a relay",
	Long: `Connect to a termproxy relay, authenticate with a ticket and hand the
local terminal over to the remote program. The session ends when the
program exits or the relay closes the connection.

Example: termproxy-cli attach localhost:5900 --user root@pam --ticket PVE:...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if attachUser == "" || attachTicket == "" {
			return fmt.Errorf("--user and --ticket are required (or set TERMPROXY_USER and TERMPROXY_TICKET)")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		conn, err := dial(ctx, args[0])
		if err != nil {
			return err
		}
		defer conn.Close()

		stdin := int(os.Stdin.Fd())
		if term.IsTerminal(stdin) {
			oldState, err := term.MakeRaw(stdin)
			if err != nil {
				return fmt.Errorf("set raw mode: %w", err)
			}
			defer term.Restore(stdin, oldState)
		}

		winch := make(chan os.Signal, 1)
		signal.Notify(winch, syscall.SIGWINCH)
		defer signal.Stop(winch)

		return pump(ctx, conn, pumpIO{
			In:        os.Stdin,
			Out:       os.Stdout,
			Size:      func() (int, int, error) { return term.GetSize(int(os.Stdout.Fd())) },
			Resized:   winch,
			PingEvery: attachPing,
		})
	},
}

func init() {
	attachCmd.Flags().StringVar(&attachUser, "user", os.Getenv("TERMPROXY_USER"), "user name sent with the ticket")
	attachCmd.Flags().StringVar(&attachTicket, "ticket", os.Getenv("TERMPROXY_TICKET"), "authentication ticket")
	attachCmd.Flags().BoolVar(&attachWebSocket, "websocket", false, "connect over websocket (addr may be host:port or a ws:// URL)")
	attachCmd.Flags().DurationVar(&attachPing, "ping-interval", defaultPingInterval, "how often to send keep-alives")
	rootCmd.AddCommand(attachCmd)
}

func dial(ctx context.Context, addr string) (*client.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if attachWebSocket {
		return client.DialWebSocket(dialCtx, webSocketURL(addr), attachUser, attachTicket)
	}
	return client.Dial(dialCtx, addr, attachUser, attachTicket)
}

func webSocketURL(addr string) string {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	return "ws://" + addr + "/ws"
}

// pumpIO are the local ends of an attached session.
type pumpIO struct {
	In        io.Reader
	Out       io.Writer
	Size      func() (cols, rows int, err error)
	Resized   <-chan os.Signal
	PingEvery time.Duration
}

// pump relays between the local terminal and conn until the relay closes
// the connection, local input ends, or ctx is done.
func pump(ctx context.Context, conn *client.Conn, local pumpIO) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sendSize := func() error {
		if local.Size == nil {
			return nil
		}
		cols, rows, err := local.Size()
		if err != nil || cols <= 0 || rows <= 0 {
			return nil
		}
		return conn.Resize(uint16(cols), uint16(rows))
	}
	if err := sendSize(); err != nil {
		return fmt.Errorf("send initial size: %w", err)
	}

	outputDone := make(chan error, 1)
	go func() {
		_, err := io.Copy(local.Out, conn)
		outputDone <- err
	}()

	inputDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := local.In.Read(buf)
			if n > 0 {
				if serr := conn.SendInput(buf[:n]); serr != nil {
					inputDone <- serr
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				inputDone <- err
				return
			}
		}
	}()

	// A failed send after the relay hung up is a normal end of session.
	fail := func(err error) error {
		conn.Close()
		if outErr := <-outputDone; outErr == nil {
			return nil
		}
		return err
	}

	every := local.PingEvery
	if every <= 0 {
		every = defaultPingInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case err := <-outputDone:
			return err
		case err := <-inputDone:
			if err != nil {
				return fail(err)
			}
			conn.Close()
			<-outputDone
			return nil
		case <-local.Resized:
			if err := sendSize(); err != nil {
				return fail(fmt.Errorf("send resize: %w", err))
			}
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return fail(fmt.Errorf("send ping: %w", err))
			}
		case <-ctx.Done():
			conn.Close()
			<-outputDone
			return nil
		}
	}
}
