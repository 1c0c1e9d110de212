package listener

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWS(t *testing.T) (*WebSocketServer, string) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewWebSocketServer(lis, nil)
	t.Cleanup(func() { srv.Close() })
	return srv, "ws://" + lis.Addr().String() + WebSocketPath
}

func TestWebSocketServer_AcceptOne(t *testing.T) {
	srv, url := startWS(t)

	clientCh := make(chan *websocket.Conn, 1)
	go func() {
		ws, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			close(clientCh)
			return
		}
		clientCh <- ws
	}()

	stream, err := srv.AcceptOne(context.Background(), 2*time.Second)
	require.NoError(t, err)
	defer stream.Close()

	ws := <-clientCh
	require.NotNil(t, ws)
	defer ws.Close()

	// Message boundaries are not preserved on the server side.
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte("0:5:")))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("hello")))

	buf := make([]byte, 9)
	_, err = io.ReadFull(stream, buf)
	require.NoError(t, err)
	assert.Equal(t, "0:5:hello", string(buf))

	_, err = stream.Write([]byte("output"))
	require.NoError(t, err)
	mt, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, "output", string(msg))

	// A client close reads as EOF.
	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_, err = stream.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestWebSocketServer_SecondClientRefused(t *testing.T) {
	srv, url := startWS(t)

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	stream, err := srv.AcceptOne(context.Background(), time.Second)
	require.NoError(t, err)
	stream.Close()
}

func TestWebSocketServer_Timeout(t *testing.T) {
	srv, _ := startWS(t)

	_, err := srv.AcceptOne(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrAcceptTimeout)
}
