package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/AltairaLabs/VoiceRelay/pkg/errors"
)

// wsUpgrader is the test WebSocket upgrader.
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// echoServer returns a test server that echoes WebSocket messages back with
// their original message type.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

// wsURL converts an HTTP test server URL to a WebSocket URL.
func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestConn_SendJSONAndReceive(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	c := NewConn(&ConnConfig{URL: wsURL(srv)})
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	require.NoError(t, c.SendJSON(map[string]string{"type": "KeepAlive"}))

	msg, err := c.Receive(ctx)
	require.NoError(t, err)
	assert.False(t, msg.Binary)

	var got map[string]string
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "KeepAlive", got["type"])
}

func TestConn_SendBinary(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	c := NewConn(&ConnConfig{URL: wsURL(srv)})
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	payload := []byte{0xFF, 0x7F, 0x00}
	require.NoError(t, c.SendBinary(payload))

	msg, err := c.Receive(ctx)
	require.NoError(t, err)
	assert.True(t, msg.Binary)
	assert.Equal(t, payload, msg.Data)
}

func TestConn_ConnectFailureIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewConn(&ConnConfig{URL: wsURL(srv)})
	err := c.Connect(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, pkgerrors.ErrTransport))

	var ce *pkgerrors.ContextualError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, http.StatusUnauthorized, ce.StatusCode)
}

func TestConn_SendBeforeConnect(t *testing.T) {
	c := NewConn(&ConnConfig{URL: "ws://unused"})

	assert.ErrorIs(t, c.SendText([]byte("x")), ErrNotConnected)
	_, err := c.Receive(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConn_ReceiveContextCanceled(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	c := NewConn(&ConnConfig{URL: wsURL(srv)})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConn_ReceiveLoopEndsOnClose(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	c := NewConn(&ConnConfig{URL: wsURL(srv)})
	require.NoError(t, c.Connect(context.Background()))

	msgCh := make(chan Message, 4)
	done := make(chan error, 1)
	go func() { done <- c.ReceiveLoop(context.Background(), msgCh) }()

	require.NoError(t, c.SendText([]byte("hello")))
	select {
	case msg := <-msgCh:
		assert.Equal(t, "hello", string(msg.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo")
	}

	require.NoError(t, c.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop did not stop")
	}
}

func TestConn_Heartbeat(t *testing.T) {
	received := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
		}
	}))
	defer srv.Close()

	c := NewConn(&ConnConfig{URL: wsURL(srv)})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartHeartbeat(ctx, 10*time.Millisecond, []byte(`{"type":"KeepAlive"}`))

	select {
	case msg := <-received:
		assert.JSONEq(t, `{"type":"KeepAlive"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no keep-alive received")
	}
}

func TestConn_CloseIdempotent(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	c := NewConn(&ConnConfig{URL: wsURL(srv)})
	require.NoError(t, c.Connect(context.Background()))
	assert.False(t, c.IsClosed())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, c.IsClosed())
	assert.ErrorIs(t, c.SendBinary([]byte{1}), ErrNotConnected)
}
