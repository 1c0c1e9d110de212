package auth

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds the whole handshake.
const DefaultTimeout = 10 * time.Second

// okReply is written to the client once the ticket is accepted.
var okReply = []byte("OK")

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Handshake reads and verifies the client's ticket.
type Handshake struct {
	Verifier Verifier
	Timeout  time.Duration
	Log      *zap.Logger
}

// Authenticate runs the handshake on conn. It returns the bytes that
// followed the ticket line so the caller can parse them as frames.
func (h *Handshake) Authenticate(ctx context.Context, conn io.ReadWriteCloser) ([]byte, error) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := h.Log
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if d, ok := conn.(readDeadliner); ok {
		_ = d.SetReadDeadline(time.Now().Add(timeout))
		defer d.SetReadDeadline(time.Time{})
		// Cancellation cuts the deadline short.
		stop := context.AfterFunc(ctx, func() { _ = d.SetReadDeadline(time.Now()) })
		defer stop()
	} else {
		// No deadline support: closing the conn is the only way to
		// interrupt a blocked read.
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()
	}

	ticket, rest, err := ReadTicket(conn)
	if err != nil {
		return nil, fmt.Errorf("failed reading ticket: %w", err)
	}

	if err := h.Verifier.Verify(ctx, ticket); err != nil {
		log.Warn("authentication rejected", zap.String("user", ticket.Username), zap.Error(err))
		return nil, fmt.Errorf("authenticate %s: %w", ticket.Username, err)
	}

	if _, err := conn.Write(okReply); err != nil {
		return nil, fmt.Errorf("write handshake reply: %w", err)
	}
	log.Info("client authenticated", zap.String("user", ticket.Username))
	return rest, nil
}
