// Package terminal owns the pseudo-terminal pair and the program running
// on its slave side.
package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	ptylib "github.com/creack/pty"
	"golang.org/x/sys/unix"
)

const (
	DefaultCols uint16 = 80
	DefaultRows uint16 = 20

	// DefaultKillGrace is how long Close waits for the child to exit after
	// SIGHUP/SIGTERM before sending SIGKILL.
	DefaultKillGrace = 5 * time.Second

	termType = "xterm-256color"
)

// ErrInvalidSize is returned by Resize for a zero dimension.
var ErrInvalidSize = errors.New("terminal: invalid window size")

// SpawnError reports that the PTY could not be allocated or the program
// could not be started.
type SpawnError struct {
	Program string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", e.Program, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Config describes the program to run and its initial window.
type Config struct {
	Program string
	Args    []string
	Dir     string

	// Env is the child environment. Nil means FilteredEnv(os.Environ()).
	Env []string

	Cols uint16
	Rows uint16

	KillGrace time.Duration
}

// Session is a live PTY with its child process.
type Session struct {
	cmd       *exec.Cmd
	ptmx      *os.File // master side (read + write)
	killGrace time.Duration

	mu   sync.Mutex
	cols uint16
	rows uint16

	done    chan struct{}
	exitErr error

	closeOnce sync.Once
	closeErr  error
}

// Open allocates a PTY, sets its window size and starts the program as the
// session leader with the slave as its controlling terminal.
func Open(cfg Config) (*Session, error) {
	if cfg.Program == "" {
		return nil, &SpawnError{Err: errors.New("no program configured")}
	}

	cols, rows := cfg.Cols, cfg.Rows
	if cols == 0 {
		cols = DefaultCols
	}
	if rows == 0 {
		rows = DefaultRows
	}
	grace := cfg.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}

	cmd := exec.Command(cfg.Program, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.Env
	if cmd.Env == nil {
		cmd.Env = FilteredEnv(os.Environ())
	}

	// StartWithSize makes the child a session leader (Setsid + Setctty),
	// so its pid doubles as the process group id.
	ptmx, err := ptylib.StartWithSize(cmd, &ptylib.Winsize{
		Cols: cols,
		Rows: rows,
	})
	if err != nil {
		return nil, &SpawnError{Program: cfg.Program, Err: err}
	}

	master, err := pollable(ptmx)
	if err != nil {
		_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		_ = cmd.Wait()
		return nil, &SpawnError{Program: cfg.Program, Err: err}
	}
	ptmx = master

	s := &Session{
		cmd:       cmd,
		ptmx:      ptmx,
		killGrace: grace,
		cols:      cols,
		rows:      rows,
		done:      make(chan struct{}),
	}

	go func() {
		s.exitErr = cmd.Wait()
		close(s.done)
	}()

	return s, nil
}

// pollable returns a non-blocking duplicate of f registered with the
// runtime poller and closes f. A blocked Read on the result returns as soon
// as the file is closed, even while another process still holds the slave.
func pollable(f *os.File) (*os.File, error) {
	defer f.Close()

	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		return nil, fmt.Errorf("dup pty master: %w", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set pty master non-blocking: %w", err)
	}
	return os.NewFile(uintptr(fd), f.Name()), nil
}

// FilteredEnv keeps only the locale and identity variables of environ and
// sets TERM.
func FilteredEnv(environ []string) []string {
	var env []string
	for _, kv := range environ {
		key, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch {
		case key == "PATH", key == "USER", key == "HOME", key == "LANG", key == "LANGUAGE":
			env = append(env, kv)
		case strings.HasPrefix(key, "LC_"):
			env = append(env, kv)
		}
	}
	return append(env, "TERM="+termType)
}

// Pid returns the child's process id.
func (s *Session) Pid() int { return s.cmd.Process.Pid }

// Done is closed once the child has exited and been reaped.
func (s *Session) Done() <-chan struct{} { return s.done }

// ExitErr returns the child's wait error. Only meaningful after Done.
func (s *Session) ExitErr() error {
	select {
	case <-s.done:
		return s.exitErr
	default:
		return nil
	}
}

// Dimensions returns the last successfully applied window size.
func (s *Session) Dimensions() (cols, rows uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Size queries the kernel for the PTY's current window size.
func (s *Session) Size() (cols, rows uint16, err error) {
	ws, err := ptylib.GetsizeFull(s.ptmx)
	if err != nil {
		return 0, 0, fmt.Errorf("get size: %w", err)
	}
	return ws.Cols, ws.Rows, nil
}

// Resize applies a new window size. The kernel delivers SIGWINCH to the
// foreground process group of the slave. A zero dimension is ignored.
func (s *Session) Resize(cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return ErrInvalidSize
	}
	if err := ptylib.Setsize(s.ptmx, &ptylib.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("resize: %w", err)
	}
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
	return nil
}

// Write delivers p to the program's input, retrying short writes.
func (s *Session) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := s.ptmx.Write(p[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

// Read returns whatever the program has produced. io.EOF means the slave
// side has been hung up, normally because the program exited, or that the
// session was closed.
func (s *Session) Read(p []byte) (int, error) {
	n, err := s.ptmx.Read(p)
	if err != nil && (errors.Is(err, unix.EIO) || errors.Is(err, os.ErrClosed)) {
		err = io.EOF
	}
	return n, err
}

// Close terminates the child if it is still running and releases the PTY.
// It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.terminate()
		s.closeErr = s.ptmx.Close()
	})
	return s.closeErr
}

func (s *Session) terminate() {
	select {
	case <-s.done:
		return
	default:
	}

	s.signal(unix.SIGHUP)
	s.signal(unix.SIGTERM)

	timer := time.NewTimer(s.killGrace)
	defer timer.Stop()
	select {
	case <-s.done:
		return
	case <-timer.C:
	}

	s.signal(unix.SIGKILL)

	// A process stuck in uninterruptible sleep may never be reaped; do not
	// hold the connection hostage to it.
	timer.Reset(s.killGrace)
	select {
	case <-s.done:
	case <-timer.C:
	}
}

// signal sends sig to the child's whole process group, falling back to the
// child alone.
func (s *Session) signal(sig unix.Signal) {
	pid := s.cmd.Process.Pid
	if err := unix.Kill(-pid, sig); err != nil {
		_ = s.cmd.Process.Signal(sig)
	}
}
