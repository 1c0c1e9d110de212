// Package client speaks the client side of the terminal relay protocol.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/opencomputer/termproxy/pkg/wsstream"
)

// ErrAuthFailed is returned when the relay closes the connection instead
// of acknowledging the ticket.
var ErrAuthFailed = errors.New("relay rejected the ticket")

var okReply = []byte("OK")

// Conn is an authenticated relay connection. Reads return raw program
// output; the send methods frame their input. Send methods are safe for
// concurrent use.
type Conn struct {
	rw io.ReadWriteCloser

	mu  sync.Mutex
	buf []byte
}

// NewConn wraps an established byte stream. Call Handshake before sending.
func NewConn(rw io.ReadWriteCloser) *Conn {
	return &Conn{rw: rw}
}

// Dial connects over TCP and performs the handshake.
func Dial(ctx context.Context, addr, username, ticket string) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c := NewConn(nc)
	if err := c.Handshake(username, ticket); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// DialWebSocket connects to a websocket relay endpoint and performs the
// handshake.
func DialWebSocket(ctx context.Context, url, username, ticket string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	stream := wsstream.New(ws)
	c := NewConn(stream)
	if err := c.Handshake(username, ticket); err != nil {
		stream.Close()
		return nil, err
	}
	return c, nil
}

// Handshake sends the ticket line and waits for the relay's OK.
func (c *Conn) Handshake(username, ticket string) error {
	if _, err := fmt.Fprintf(c.rw, "%s:%s\n", username, ticket); err != nil {
		return fmt.Errorf("send ticket: %w", err)
	}
	reply := make([]byte, len(okReply))
	if _, err := io.ReadFull(c.rw, reply); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrAuthFailed
		}
		return fmt.Errorf("read handshake reply: %w", err)
	}
	if !bytes.Equal(reply, okReply) {
		return fmt.Errorf("%w: unexpected reply %q", ErrAuthFailed, reply)
	}
	return nil
}

// SendInput forwards p to the program's input.
func (c *Conn) SendInput(p []byte) error {
	return c.send(func(dst []byte) []byte { return AppendNormal(dst, p) })
}

// Resize asks the relay to change the terminal size.
func (c *Conn) Resize(cols, rows uint16) error {
	return c.send(func(dst []byte) []byte { return AppendResize(dst, cols, rows) })
}

// Ping keeps the session from idling out.
func (c *Conn) Ping() error {
	return c.send(AppendPing)
}

func (c *Conn) send(build func([]byte) []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = build(c.buf[:0])
	_, err := c.rw.Write(c.buf)
	return err
}

// Read returns program output exactly as produced.
func (c *Conn) Read(p []byte) (int, error) {
	return c.rw.Read(p)
}

// Close closes the underlying stream.
func (c *Conn) Close() error {
	return c.rw.Close()
}
