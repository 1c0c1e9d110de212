package listener

import (
	"context"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptOne(t *testing.T) {
	lis, err := Listen("127.0.0.1", 0)
	require.NoError(t, err)

	go func() {
		c, err := net.Dial("tcp", lis.Addr().String())
		if err == nil {
			c.Write([]byte("hi"))
			c.Close()
		}
	}()

	conn, err := AcceptOne(context.Background(), lis, time.Second, nil)
	require.NoError(t, err)
	defer conn.Close()

	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	// Only one client is ever accepted.
	_, err = net.DialTimeout("tcp", lis.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestAcceptOne_Timeout(t *testing.T) {
	lis, err := Listen("127.0.0.1", 0)
	require.NoError(t, err)

	start := time.Now()
	_, err = AcceptOne(context.Background(), lis, 50*time.Millisecond, nil)
	assert.ErrorIs(t, err, ErrAcceptTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAcceptOne_Cancelled(t *testing.T) {
	lis, err := Listen("127.0.0.1", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = AcceptOne(ctx, lis, time.Second, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromFD(t *testing.T) {
	orig, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer orig.Close()

	f, err := orig.(*net.TCPListener).File()
	require.NoError(t, err)

	lis, err := FromFD(int(f.Fd()))
	require.NoError(t, err)

	go func() {
		if c, err := net.Dial("tcp", orig.Addr().String()); err == nil {
			c.Close()
		}
	}()

	conn, err := AcceptOne(context.Background(), lis, time.Second, nil)
	require.NoError(t, err)
	conn.Close()
}

func TestFromFD_NotASocket(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	_, err = FromFD(int(r.Fd()))
	assert.Error(t, err)
}

// gatedListener hands out one end of a pipe only when released, and its
// Close does not interrupt a pending Accept.
type gatedListener struct {
	release chan struct{}
	conn    net.Conn
}

func (l *gatedListener) Accept() (net.Conn, error) {
	<-l.release
	return l.conn, nil
}

func (l *gatedListener) Close() error   { return nil }
func (l *gatedListener) Addr() net.Addr { return &net.TCPAddr{} }

func TestAcceptOne_LateConnectionIsClosed(t *testing.T) {
	server, peer := net.Pipe()
	defer peer.Close()
	lis := &gatedListener{release: make(chan struct{}), conn: server}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := AcceptOne(ctx, lis, time.Second, nil)
	require.ErrorIs(t, err, context.Canceled)

	close(lis.release)

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = peer.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}
