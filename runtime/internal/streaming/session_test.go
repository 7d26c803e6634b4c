package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/AltairaLabs/VoiceRelay/pkg/errors"
)

// serverThatSends creates a test server that sends the given messages, then
// either closes normally or waits for the client to disconnect.
func serverThatSends(t *testing.T, messages []string, closeAfter bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		if closeAfter {
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
			_ = conn.WriteMessage(websocket.CloseMessage, closeMsg)
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

type testEvent struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// jsonHandler decodes testEvent messages; malformed JSON is a decode error.
func jsonHandler(msg Message) ([]testEvent, error) {
	var ev testEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return nil, pkgerrors.Decode("test", "decode", err)
	}
	if ev.Done {
		return nil, ErrEndOfStream
	}
	return []testEvent{ev}, nil
}

func connectSession(t *testing.T, srv *httptest.Server, cfg SessionConfig[testEvent]) *Session[testEvent] {
	t.Helper()
	conn := NewConn(&ConnConfig{URL: wsURL(srv)})
	require.NoError(t, conn.Connect(context.Background()))
	cfg.Conn = conn
	if cfg.OnMessage == nil {
		cfg.OnMessage = jsonHandler
	}
	s, err := NewSession(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func collect(t *testing.T, ch <-chan testEvent) []string {
	t.Helper()
	var texts []string
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return texts
			}
			texts = append(texts, ev.Text)
		case <-timeout:
			t.Fatal("timed out waiting for response channel to close")
		}
	}
}

func TestNewSession_Validation(t *testing.T) {
	_, err := NewSession(context.Background(), SessionConfig[testEvent]{OnMessage: jsonHandler})
	assert.Error(t, err)

	_, err = NewSession(context.Background(), SessionConfig[testEvent]{Conn: NewConn(&ConnConfig{})})
	assert.Error(t, err)
}

func TestSession_EndOfStream(t *testing.T) {
	srv := serverThatSends(t, []string{`{"text":"a"}`, `{"text":"b"}`, `{"done":true}`, `{"text":"late"}`}, false)
	defer srv.Close()

	s := connectSession(t, srv, SessionConfig[testEvent]{})

	assert.Equal(t, []string{"a", "b"}, collect(t, s.Response()))
	assert.NoError(t, s.Err())
}

func TestSession_PeerCloseEndsNormally(t *testing.T) {
	srv := serverThatSends(t, []string{`{"text":"only"}`}, true)
	defer srv.Close()

	s := connectSession(t, srv, SessionConfig[testEvent]{})

	assert.Equal(t, []string{"only"}, collect(t, s.Response()))
	assert.NoError(t, s.Err())
}

func TestSession_DropsMalformedMessages(t *testing.T) {
	srv := serverThatSends(t, []string{`{"text":"a"}`, `not json`, `{"text":"b"}`, `{"done":true}`}, false)
	defer srv.Close()

	var dropped []error
	s := connectSession(t, srv, SessionConfig[testEvent]{
		OnDecodeError: func(err error) { dropped = append(dropped, err) },
	})

	assert.Equal(t, []string{"a", "b"}, collect(t, s.Response()))
	require.Len(t, dropped, 1)
	assert.True(t, errors.Is(dropped[0], pkgerrors.ErrDecode))
}

func TestSession_FatalHandlerError(t *testing.T) {
	srv := serverThatSends(t, []string{`{"text":"a"}`, `{"text":"boom"}`, `{"text":"c"}`}, false)
	defer srv.Close()

	boom := fmt.Errorf("provider error")
	s := connectSession(t, srv, SessionConfig[testEvent]{
		OnMessage: func(msg Message) ([]testEvent, error) {
			evs, err := jsonHandler(msg)
			if err == nil && evs[0].Text == "boom" {
				return nil, boom
			}
			return evs, err
		},
	})

	assert.Equal(t, []string{"a"}, collect(t, s.Response()))
	assert.ErrorIs(t, s.Err(), boom)
}

func TestSession_CloseStopsDelivery(t *testing.T) {
	srv := serverThatSends(t, nil, false)
	defer srv.Close()

	s := connectSession(t, srv, SessionConfig[testEvent]{})
	require.NoError(t, s.Close())

	assert.Empty(t, collect(t, s.Response()))
	assert.True(t, s.Closed())
	assert.NoError(t, s.Err())
	assert.True(t, s.Conn().IsClosed())
}
