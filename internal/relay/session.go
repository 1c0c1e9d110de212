package relay

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencomputer/termproxy/internal/frame"
	"github.com/opencomputer/termproxy/internal/metrics"
	"github.com/opencomputer/termproxy/internal/watchdog"
	"github.com/opencomputer/termproxy/pkg/types"
	"go.uber.org/zap"
)

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// session is the Active/Draining part of a connection's life.
type session struct {
	e      *Engine
	log    *zap.Logger
	conn   io.ReadWriteCloser
	term   Terminal
	parser *frame.Parser
	dog    *watchdog.Watchdog

	stopOnce sync.Once
	stop     chan struct{}
	reason   string
	cause    error

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

func newSession(e *Engine, conn io.ReadWriteCloser, term Terminal) *session {
	return &session{
		e:      e,
		log:    e.log,
		conn:   conn,
		term:   term,
		parser: frame.NewParser(e.cfg.MaxPayload),
		dog:    watchdog.New(e.cfg.IdleTimeout, e.clock),
		stop:   make(chan struct{}),
	}
}

// finish records the first reason the session has to end.
func (s *session) finish(reason string, cause error) {
	s.stopOnce.Do(func() {
		s.reason = reason
		s.cause = cause
		close(s.stop)
	})
}

func (s *session) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *session) run(ctx context.Context, leftover []byte) error {
	s.e.setState(StateActive)
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	cols, rows := s.term.Dimensions()
	s.log.Info("session started",
		zap.String("program", s.e.cfg.Terminal.Program),
		zap.Uint16("cols", cols),
		zap.Uint16("rows", rows))
	s.publish(types.EventSessionStarted)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	expired := s.dog.Watch(watchCtx, s.e.cfg.WatchdogInterval)

	inboundDone := make(chan struct{})
	outboundDone := make(chan struct{})
	go func() {
		defer close(inboundDone)
		s.inbound(leftover)
	}()
	go func() {
		defer close(outboundDone)
		s.outbound()
	}()

	select {
	case <-s.stop:
	case <-expired:
		s.finish(ReasonWatchdog, ErrWatchdogExpired)
	case <-ctx.Done():
		s.finish(ReasonCancelled, ctx.Err())
	}

	s.drain(inboundDone, outboundDone)

	metrics.SessionsClosedTotal.WithLabelValues(s.reason).Inc()
	s.log.Info("session closed",
		zap.String("reason", s.reason),
		zap.Int64("bytes_in", s.bytesIn.Load()),
		zap.Int64("bytes_out", s.bytesOut.Load()),
		zap.Error(s.cause))
	s.publish(types.EventSessionClosed)
	return s.cause
}

// drain stops client input, terminates the program, lets the PTY->client
// path deliver what it already has, then releases the socket.
func (s *session) drain(inboundDone, outboundDone <-chan struct{}) {
	s.e.setState(StateDraining)

	if d, ok := s.conn.(readDeadliner); ok {
		_ = d.SetReadDeadline(time.Now())
	}

	if err := s.term.Close(); err != nil {
		s.log.Debug("close terminal", zap.Error(err))
	}

	timer := time.NewTimer(s.e.cfg.DrainTimeout)
	select {
	case <-outboundDone:
	case <-timer.C:
		s.log.Warn("client not accepting output, dropping the rest")
	}
	timer.Stop()

	if err := s.conn.Close(); err != nil {
		s.log.Debug("close connection", zap.Error(err))
	}
	// Both paths should return once their descriptors are closed. A stuck
	// one is abandoned so the session still reaches Closed.
	stopCtx, cancel := context.WithTimeout(context.Background(), s.e.cfg.DrainTimeout)
	defer cancel()
	for _, path := range []struct {
		name string
		done <-chan struct{}
	}{{"pty to client", outboundDone}, {"client to pty", inboundDone}} {
		select {
		case <-path.done:
		case <-stopCtx.Done():
			s.log.Warn("relay path did not stop, abandoning it", zap.String("path", path.name))
		}
	}

	s.e.setState(StateClosed)
}

// inbound is the client->PTY path.
func (s *session) inbound(leftover []byte) {
	if len(leftover) > 0 {
		s.parser.Feed(leftover)
		if !s.dispatch() {
			return
		}
	}

	buf := make([]byte, s.e.cfg.ReadBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.parser.Feed(buf[:n])
			if !s.dispatch() {
				return
			}
		}
		if err != nil {
			switch {
			case s.stopping():
			case errors.Is(err, io.EOF):
				s.finish(ReasonClientClosed, nil)
			default:
				s.finish(ReasonClientError, &IoError{Op: "read socket", Err: err})
			}
			return
		}
	}
}

// dispatch applies every complete message in the parser. It returns false
// once the path should stop.
func (s *session) dispatch() bool {
	for {
		if s.stopping() {
			return false
		}

		msg, err := s.parser.Next()
		if errors.Is(err, frame.ErrIncomplete) {
			return true
		}
		var fault *frame.FaultError
		if errors.As(err, &fault) {
			metrics.ParseFaultsTotal.Inc()
			s.log.Debug("discarded client data",
				zap.String("fault", fault.Reason),
				zap.Int("bytes", fault.Discarded))
			continue
		}

		s.dog.Touch()
		metrics.FramesTotal.WithLabelValues(msg.Kind.String()).Inc()

		switch msg.Kind {
		case frame.KindNormal:
			if len(msg.Payload) == 0 {
				continue
			}
			n, err := s.term.Write(msg.Payload)
			s.bytesIn.Add(int64(n))
			metrics.BytesRelayedTotal.WithLabelValues(metrics.DirectionClientToPTY).Add(float64(n))
			if err != nil {
				s.finish(ReasonPTYError, &IoError{Op: "write pty", Err: err})
				return false
			}
		case frame.KindResize:
			if err := s.term.Resize(msg.Cols, msg.Rows); err != nil {
				s.log.Debug("resize ignored",
					zap.Uint16("cols", msg.Cols),
					zap.Uint16("rows", msg.Rows),
					zap.Error(err))
			}
		case frame.KindPing:
		}
	}
}

// outbound is the PTY->client path.
func (s *session) outbound() {
	buf := make([]byte, s.e.cfg.ReadBufferSize)
	for {
		n, err := s.term.Read(buf)
		if n > 0 {
			if _, werr := s.conn.Write(buf[:n]); werr != nil {
				s.finish(ReasonClientError, &IoError{Op: "write socket", Err: werr})
				return
			}
			s.bytesOut.Add(int64(n))
			metrics.BytesRelayedTotal.WithLabelValues(metrics.DirectionPTYToClient).Add(float64(n))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.finish(ReasonChildExited, nil)
			} else {
				s.finish(ReasonPTYError, &IoError{Op: "read pty", Err: err})
			}
			return
		}
	}
}

func (s *session) publish(eventType string) {
	cols, rows := s.term.Dimensions()
	event := types.SessionEvent{
		Type:      eventType,
		SessionID: s.e.id,
		Program:   s.e.cfg.Terminal.Program,
		Cols:      cols,
		Rows:      rows,
		Timestamp: time.Now(),
	}
	if eventType == types.EventSessionClosed {
		event.Reason = s.reason
		event.BytesIn = s.bytesIn.Load()
		event.BytesOut = s.bytesOut.Load()
	}
	s.e.publisher.Publish(event)
}
