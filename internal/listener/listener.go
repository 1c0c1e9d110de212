// Package listener accepts the single client a relay process serves.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// DefaultAcceptTimeout is how long a relay waits for its client.
const DefaultAcceptTimeout = 10 * time.Second

// ErrAcceptTimeout is returned when no client connected in time.
var ErrAcceptTimeout = errors.New("listener: timed out waiting for client")

type deadliner interface {
	SetDeadline(t time.Time) error
}

// Listen binds a TCP listener on host:port.
func Listen(host string, port int) (net.Listener, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return lis, nil
}

// FromFD wraps an already listening socket inherited from the parent
// process.
func FromFD(fd int) (net.Listener, error) {
	f := os.NewFile(uintptr(fd), "listener-fd-"+strconv.Itoa(fd))
	if f == nil {
		return nil, fmt.Errorf("invalid listener fd %d", fd)
	}
	// FileListener dups the descriptor.
	defer f.Close()

	lis, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("listener fd %d: %w", fd, err)
	}
	return lis, nil
}

// AcceptOne waits for one connection and closes lis. A non-positive
// timeout selects DefaultAcceptTimeout.
func AcceptOne(ctx context.Context, lis net.Listener, timeout time.Duration, log *zap.Logger) (net.Conn, error) {
	if timeout <= 0 {
		timeout = DefaultAcceptTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	defer lis.Close()

	if d, ok := lis.(deadliner); ok {
		if err := d.SetDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("set accept deadline: %w", err)
		}
	}

	accepted := make(chan acceptResult, 1)
	go func() {
		conn, err := lis.Accept()
		accepted <- acceptResult{conn, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-accepted:
		if r.err != nil {
			var ne net.Error
			if errors.As(r.err, &ne) && ne.Timeout() {
				return nil, ErrAcceptTimeout
			}
			return nil, fmt.Errorf("accept: %w", r.err)
		}
		log.Info("client connected", zap.Stringer("remote", r.conn.RemoteAddr()))
		return r.conn, nil
	case <-timer.C:
		abandon(lis, accepted)
		return nil, ErrAcceptTimeout
	case <-ctx.Done():
		abandon(lis, accepted)
		return nil, ctx.Err()
	}
}

type acceptResult struct {
	conn net.Conn
	err  error
}

// abandon stops accepting and closes a connection that still arrives.
func abandon(lis net.Listener, pending <-chan acceptResult) {
	lis.Close()
	go func() {
		if r := <-pending; r.conn != nil {
			r.conn.Close()
		}
	}()
}
