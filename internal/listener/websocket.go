package listener

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/opencomputer/termproxy/pkg/wsstream"
	"go.uber.org/zap"
)

// WebSocketPath is the endpoint a websocket client upgrades on.
const WebSocketPath = "/ws"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the ticket handshake authenticates the client
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// WebSocketServer hands out exactly one upgraded connection.
type WebSocketServer struct {
	lis    net.Listener
	srv    *http.Server
	log    *zap.Logger
	taken  atomic.Bool
	conns  chan *wsstream.Stream
	served chan error
}

// NewWebSocketServer starts serving on lis.
func NewWebSocketServer(lis net.Listener, log *zap.Logger) *WebSocketServer {
	if log == nil {
		log = zap.NewNop()
	}
	s := &WebSocketServer{
		lis:    lis,
		log:    log,
		conns:  make(chan *wsstream.Stream, 1),
		served: make(chan error, 1),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET(WebSocketPath, s.upgrade)

	s.srv = &http.Server{Handler: e, ReadHeaderTimeout: 10 * time.Second}
	go func() { s.served <- s.srv.Serve(lis) }()
	return s
}

// Addr returns the listening address.
func (s *WebSocketServer) Addr() net.Addr { return s.lis.Addr() }

func (s *WebSocketServer) upgrade(c echo.Context) error {
	if !s.taken.CompareAndSwap(false, true) {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "session already in progress",
		})
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.taken.Store(false)
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return nil
	}
	s.log.Info("client connected", zap.String("remote", c.RealIP()), zap.String("transport", "websocket"))
	s.conns <- wsstream.New(ws)
	return nil
}

// AcceptOne waits for the upgraded client, then stops the HTTP server.
// The returned stream outlives the server.
func (s *WebSocketServer) AcceptOne(ctx context.Context, timeout time.Duration) (io.ReadWriteCloser, error) {
	if timeout <= 0 {
		timeout = DefaultAcceptTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	defer s.Close()

	select {
	case stream := <-s.conns:
		return stream, nil
	case err := <-s.served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil, net.ErrClosed
		}
		return nil, err
	case <-timer.C:
		return nil, ErrAcceptTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting requests. Connections already upgraded stay open.
func (s *WebSocketServer) Close() error {
	return s.srv.Close()
}
