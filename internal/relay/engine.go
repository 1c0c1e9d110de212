// Package relay bridges one client connection to one program running in a
// pseudo-terminal.
//
// A connection moves through Handshaking, Active, Draining and Closed.
// While Active, client bytes are decoded into frames and applied to the
// PTY, and PTY output is copied back to the client unframed. Any fatal
// condition (client gone, program exited, I/O failure, inactivity) leads
// through Draining to Closed, which releases the PTY and the socket
// exactly once.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opencomputer/termproxy/internal/clock"
	"github.com/opencomputer/termproxy/internal/events"
	"github.com/opencomputer/termproxy/internal/frame"
	"github.com/opencomputer/termproxy/internal/metrics"
	"github.com/opencomputer/termproxy/internal/terminal"
	"github.com/opencomputer/termproxy/internal/watchdog"
	"go.uber.org/zap"
)

const (
	DefaultDrainTimeout   = 2 * time.Second
	DefaultReadBufferSize = 4096
)

// State is a relay lifecycle state.
type State int32

const (
	StateHandshaking State = iota
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Close reasons, used for logs, metrics and events.
const (
	ReasonAuthFailed   = "auth_failed"
	ReasonSpawnFailed  = "spawn_failed"
	ReasonClientClosed = "client_closed"
	ReasonClientError  = "client_error"
	ReasonChildExited  = "child_exited"
	ReasonPTYError     = "pty_error"
	ReasonWatchdog     = "watchdog"
	ReasonCancelled    = "cancelled"
)

// ErrWatchdogExpired is returned by Run when the client sent nothing
// parseable for longer than the idle timeout.
var ErrWatchdogExpired = errors.New("relay: client inactive, connection closed")

// IoError is a fatal read or write failure on the socket or the PTY.
type IoError struct {
	Op  string // "read socket", "write socket", "read pty", "write pty"
	Err error
}

func (e *IoError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *IoError) Unwrap() error { return e.Err }

// Terminal is the PTY side of a session. *terminal.Session implements it.
type Terminal interface {
	io.ReadWriter
	Resize(cols, rows uint16) error
	Dimensions() (cols, rows uint16)
	Close() error
}

// Spawner starts the program for a session.
type Spawner func(cfg terminal.Config) (Terminal, error)

func spawnPTY(cfg terminal.Config) (Terminal, error) {
	s, err := terminal.Open(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Authenticator runs during Handshaking. Bytes it read past the end of the
// handshake are returned so they can be parsed as frames.
type Authenticator interface {
	Authenticate(ctx context.Context, conn io.ReadWriteCloser) (leftover []byte, err error)
}

// Config holds the per-connection settings.
type Config struct {
	Terminal terminal.Config

	IdleTimeout      time.Duration // default watchdog.DefaultTimeout
	WatchdogInterval time.Duration // default watchdog.DefaultInterval
	DrainTimeout     time.Duration // default DefaultDrainTimeout
	MaxPayload       int           // default frame.DefaultMaxPayload
	ReadBufferSize   int           // default DefaultReadBufferSize
}

// Engine runs the state machine for a single connection. Create one per
// accepted connection.
type Engine struct {
	cfg       Config
	id        string
	log       *zap.Logger
	clock     clock.Clock
	auth      Authenticator
	spawn     Spawner
	publisher events.Publisher
	stateHook func(State)

	state atomic.Int32
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger; the engine adds a session_id field.
func WithLogger(log *zap.Logger) Option { return func(e *Engine) { e.log = log } }

// WithClock sets the clock used by the inactivity watchdog.
func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithAuthenticator sets the Handshaking collaborator. Without one the
// connection is taken as already authenticated.
func WithAuthenticator(a Authenticator) Option { return func(e *Engine) { e.auth = a } }

// WithSpawner replaces the PTY spawner.
func WithSpawner(s Spawner) Option { return func(e *Engine) { e.spawn = s } }

// WithPublisher sets where session events go.
func WithPublisher(p events.Publisher) Option { return func(e *Engine) { e.publisher = p } }

// WithStateHook registers fn to be called synchronously on every state
// transition.
func WithStateHook(fn func(State)) Option { return func(e *Engine) { e.stateHook = fn } }

// New creates an Engine.
func New(cfg Config, opts ...Option) *Engine {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = watchdog.DefaultTimeout
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = watchdog.DefaultInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = frame.DefaultMaxPayload
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}

	e := &Engine{
		cfg:       cfg,
		id:        uuid.New().String()[:8],
		log:       zap.NewNop(),
		clock:     clock.Real(),
		spawn:     spawnPTY,
		publisher: events.Nop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(zap.String("session_id", e.id))
	return e
}

// ID returns the session identifier used in logs and events.
func (e *Engine) ID() string { return e.id }

// State returns the current state.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	e.log.Debug("state transition", zap.Stringer("state", s))
	if e.stateHook != nil {
		e.stateHook(s)
	}
}

// Run owns conn until the session ends and always closes it. It returns
// nil when the client disconnected or the program exited, and the fatal
// error otherwise.
func (e *Engine) Run(ctx context.Context, conn io.ReadWriteCloser) error {
	started := time.Now()
	e.setState(StateHandshaking)

	var leftover []byte
	if e.auth != nil {
		rest, err := e.auth.Authenticate(ctx, conn)
		if err != nil {
			metrics.AuthAttemptsTotal.WithLabelValues("rejected").Inc()
			e.abort(conn, ReasonAuthFailed, err)
			return err
		}
		metrics.AuthAttemptsTotal.WithLabelValues("accepted").Inc()
		leftover = rest
	}

	term, err := e.spawn(e.cfg.Terminal)
	if err != nil {
		e.abort(conn, ReasonSpawnFailed, err)
		return err
	}

	s := newSession(e, conn, term)
	err = s.run(ctx, leftover)

	metrics.SessionDuration.Observe(time.Since(started).Seconds())
	return err
}

// abort closes a connection that never reached Active.
func (e *Engine) abort(conn io.Closer, reason string, err error) {
	e.log.Warn("connection closed during handshake", zap.String("reason", reason), zap.Error(err))
	conn.Close()
	metrics.SessionsClosedTotal.WithLabelValues(reason).Inc()
	e.setState(StateClosed)
}
