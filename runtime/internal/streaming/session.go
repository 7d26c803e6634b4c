package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pkgerrors "github.com/AltairaLabs/VoiceRelay/pkg/errors"
)

// Default session constants.
const (
	DefaultResponseChannelSize = 16
)

// ErrEndOfStream is returned by a MessageHandler to end the session normally
// after the chunks it returned alongside have been delivered.
var ErrEndOfStream = errors.New("end of stream")

// MessageHandler converts a raw WebSocket message into zero or more values.
// Returning a decode-kind error drops the message and keeps the session open;
// ErrEndOfStream ends it normally; any other error ends it with that error.
type MessageHandler[T any] func(msg Message) ([]T, error)

// SessionConfig configures a streaming Session.
type SessionConfig[T any] struct {
	// Conn is the underlying, already connected WebSocket connection. Required.
	Conn *Conn

	// OnMessage decodes raw WebSocket messages. Required.
	OnMessage MessageHandler[T]

	// OnDecodeError is called for every dropped malformed message. Optional.
	OnDecodeError func(err error)

	// ResponseChannelSize sets the buffer size of the response channel.
	// Defaults to DefaultResponseChannelSize.
	ResponseChannelSize int

	// Logger for session-level messages. Optional.
	Logger Logger
}

// Session runs a receive loop over a Conn, decodes messages through the
// configured handler, and emits the results on the Response channel.
type Session[T any] struct {
	conn   *Conn
	cfg    SessionConfig[T]
	ctx    context.Context
	cancel context.CancelFunc

	responseCh chan T
	mu         sync.Mutex
	closed     bool
	err        error
}

// NewSession creates and starts a streaming session. The receive loop is
// started automatically in a background goroutine.
func NewSession[T any](ctx context.Context, cfg SessionConfig[T]) (*Session[T], error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("streaming.SessionConfig.Conn is required")
	}
	if cfg.OnMessage == nil {
		return nil, fmt.Errorf("streaming.SessionConfig.OnMessage is required")
	}
	if cfg.ResponseChannelSize <= 0 {
		cfg.ResponseChannelSize = DefaultResponseChannelSize
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	sessionCtx, cancel := context.WithCancel(ctx)

	s := &Session[T]{
		conn:       cfg.Conn,
		cfg:        cfg,
		ctx:        sessionCtx,
		cancel:     cancel,
		responseCh: make(chan T, cfg.ResponseChannelSize),
	}

	go s.receiveLoop()

	return s, nil
}

// Conn returns the underlying connection.
func (s *Session[T]) Conn() *Conn {
	return s.conn
}

// Response returns the channel of decoded values. It is closed when the
// session ends.
func (s *Session[T]) Response() <-chan T {
	return s.responseCh
}

// Done returns a channel that is closed when the session ends.
func (s *Session[T]) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Err returns the error that ended the session, or nil if it ended normally
// or is still running.
func (s *Session[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close terminates the session and closes the underlying connection.
// Safe to call multiple times.
func (s *Session[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	return s.conn.Close()
}

// Closed reports whether the session has been closed.
func (s *Session[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session[T]) receiveLoop() {
	s.cfg.Logger.Debug("receive loop started")
	defer func() {
		s.cfg.Logger.Debug("receive loop exiting, closing response channel")
		s.cancel()
		close(s.responseCh)
	}()

	msgCh := make(chan Message, s.cfg.ResponseChannelSize)
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.conn.ReceiveLoop(s.ctx, msgCh)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return

		case err := <-errCh:
			if !s.drain(msgCh) {
				return
			}
			if err != nil && !errors.Is(err, context.Canceled) && !s.Closed() {
				s.cfg.Logger.Error("receive loop error", "error", err)
				s.setErr(err)
			}
			return

		case msg := <-msgCh:
			if !s.handleMessage(msg) {
				return
			}
		}
	}
}

// drain handles messages buffered before the receive loop ended.
func (s *Session[T]) drain(msgCh <-chan Message) bool {
	for {
		select {
		case msg := <-msgCh:
			if !s.handleMessage(msg) {
				return false
			}
		default:
			return true
		}
	}
}

// handleMessage returns false when the session should end.
func (s *Session[T]) handleMessage(msg Message) bool {
	values, err := s.cfg.OnMessage(msg)
	for i := range values {
		select {
		case s.responseCh <- values[i]:
		case <-s.ctx.Done():
			return false
		}
	}

	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrEndOfStream):
		return false
	case pkgerrors.KindOf(err) == pkgerrors.KindDecode:
		s.cfg.Logger.Warn("dropping malformed message", "error", err)
		if s.cfg.OnDecodeError != nil {
			s.cfg.OnDecodeError(err)
		}
		return true
	default:
		s.cfg.Logger.Error("message handler error", "error", err)
		s.setErr(err)
		return false
	}
}

func (s *Session[T]) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
