package cmd

import (
	"context"
	"errors"
	"io"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/opencomputer/termproxy/internal/auth"
	"github.com/opencomputer/termproxy/internal/config"
	"github.com/opencomputer/termproxy/internal/events"
	"github.com/opencomputer/termproxy/internal/listener"
	"github.com/opencomputer/termproxy/internal/logging"
	"github.com/opencomputer/termproxy/internal/metrics"
	"github.com/opencomputer/termproxy/internal/relay"
	"github.com/opencomputer/termproxy/internal/terminal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// settings is the merged environment and flag configuration.
type settings struct {
	*config.Config
	options
}

// merge applies flags the user set explicitly on top of cfg.
func merge(cfg *config.Config, o options, changed func(string) bool) settings {
	s := settings{Config: cfg, options: o}
	if changed("authport") {
		s.AuthPort = o.authPort
	}
	if changed("listen-host") {
		s.ListenHost = o.listenHost
	}
	if changed("idle-timeout") {
		s.IdleTimeout = o.idleTimeout
	}
	if changed("log-level") {
		s.LogLevel = o.logLevel
	}
	if changed("metrics-addr") {
		s.MetricsAddr = o.metricsAddr
	}
	return s
}

func run(ctx context.Context, cmd *cobra.Command, o options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	s := merge(cfg, o, func(name string) bool { return cmd.Flags().Changed(name) })

	log, err := logging.New(s.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	if s.SecretsApplied > 0 {
		log.Info("loaded secrets from Secrets Manager", zap.Int("applied", s.SecretsApplied))
	}

	if s.MetricsAddr != "" {
		srv, errCh := metrics.StartMetricsServer(s.MetricsAddr)
		defer srv.Close()
		go func() {
			if err := <-errCh; err != nil {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		log.Info("serving metrics", zap.String("addr", s.MetricsAddr))
	}

	var publisher events.Publisher = events.Nop{}
	if s.NATSURL != "" {
		p, err := events.NewNATSPublisher(s.NATSURL, log)
		if err != nil {
			log.Warn("session events disabled", zap.Error(err))
		} else {
			defer p.Close()
			publisher = p
		}
	}

	lis, err := openListener(s)
	if err != nil {
		return err
	}
	boundPort := 0
	if tcp, ok := lis.Addr().(*net.TCPAddr); ok {
		boundPort = tcp.Port
	}

	conn, err := acceptClient(ctx, s, lis, log)
	if err != nil {
		return err
	}

	handshake := &auth.Handshake{
		Verifier: newVerifier(s, boundPort),
		Timeout:  s.AuthTimeout,
		Log:      log,
	}

	engine := relay.New(relay.Config{
		Terminal: terminal.Config{
			Program:   s.command[0],
			Args:      s.command[1:],
			KillGrace: s.KillGrace,
		},
		IdleTimeout: s.IdleTimeout,
		MaxPayload:  s.MaxPayload,
	},
		relay.WithLogger(log),
		relay.WithAuthenticator(handshake),
		relay.WithPublisher(publisher),
	)

	err = engine.Run(ctx, conn)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openListener(s settings) (net.Listener, error) {
	if s.portAsFD {
		return listener.FromFD(s.port)
	}
	return listener.Listen(s.ListenHost, s.port)
}

func acceptClient(ctx context.Context, s settings, lis net.Listener, log *zap.Logger) (io.ReadWriteCloser, error) {
	if s.websocket {
		ws := listener.NewWebSocketServer(lis, log)
		return ws.AcceptOne(ctx, s.AcceptTimeout)
	}
	return listener.AcceptOne(ctx, lis, s.AcceptTimeout, log)
}

// newVerifier picks local JWT verification when a ticket secret is
// configured and the access API otherwise. The port is only reported to
// the access API for inherited sockets.
func newVerifier(s settings, boundPort int) auth.Verifier {
	if s.TicketSecret != "" {
		return auth.NewJWTVerifier(s.TicketSecret, s.path, s.perm)
	}
	v := auth.NewHTTPVerifier(s.AuthPort, s.path, s.perm)
	v.Client.Timeout = s.AuthTimeout + time.Second
	if s.portAsFD {
		v.Port = boundPort
	}
	return v
}
