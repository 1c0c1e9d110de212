package cmd

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/opencomputer/termproxy/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestPump_FramesInputAndCopiesOutput(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer serverSide.Close()

	received := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(serverSide)
		received <- string(data)
	}()
	go serverSide.Write([]byte("hello"))

	inR, inW := io.Pipe()
	out := &syncBuffer{}
	resized := make(chan os.Signal, 1)
	cols := 100

	done := make(chan error, 1)
	go func() {
		done <- pump(context.Background(), client.NewConn(clientSide), pumpIO{
			In:        inR,
			Out:       out,
			Size:      func() (int, int, error) { return cols, 30, nil },
			Resized:   resized,
			PingEvery: time.Hour,
		})
	}()

	_, err := inW.Write([]byte("ls\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return out.String() == "hello" },
		2*time.Second, 5*time.Millisecond)

	inW.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not return after input ended")
	}

	assert.Equal(t, "1:100:30:0:3:ls\n", <-received)
}

func TestPump_ResizeAndPing(t *testing.T) {
	clientSide, serverSide := net.Pipe()

	received := make(chan string, 1)
	go func() {
		var got strings.Builder
		buf := make([]byte, 64)
		for !sawResizeAndPing(got.String()) {
			n, err := serverSide.Read(buf)
			got.Write(buf[:n])
			if err != nil {
				break
			}
		}
		received <- got.String()
		serverSide.Close()
	}()

	var mu sync.Mutex
	cols, rows := 80, 24
	resized := make(chan os.Signal, 1)
	inR, _ := io.Pipe()

	done := make(chan error, 1)
	go func() {
		done <- pump(context.Background(), client.NewConn(clientSide), pumpIO{
			In:  inR,
			Out: io.Discard,
			Size: func() (int, int, error) {
				mu.Lock()
				defer mu.Unlock()
				return cols, rows, nil
			},
			Resized:   resized,
			PingEvery: 20 * time.Millisecond,
		})
	}()

	mu.Lock()
	cols, rows = 120, 40
	mu.Unlock()
	resized <- syscall.SIGWINCH

	select {
	case got := <-received:
		assert.True(t, strings.HasPrefix(got, "1:80:24:"), "got %q", got)
		assert.Contains(t, got, "1:120:40:")
		assert.True(t, sawResizeAndPing(got))
	case <-time.After(3 * time.Second):
		t.Fatal("relay side never saw resize and ping")
	}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not return after the relay closed")
	}
}

func TestWebSocketURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:5900/ws", webSocketURL("localhost:5900"))
	assert.Equal(t, "wss://relay.example/ws", webSocketURL("wss://relay.example/ws"))
}

// sawResizeAndPing reports whether frames holds the 120x40 resize and at
// least one ping outside the resize frames.
func sawResizeAndPing(frames string) bool {
	if !strings.Contains(frames, "1:120:40:") {
		return false
	}
	rest := strings.ReplaceAll(frames, "1:80:24:", "")
	rest = strings.ReplaceAll(rest, "1:120:40:", "")
	return strings.Contains(rest, "2")
}
