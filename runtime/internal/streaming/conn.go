// Package streaming provides the client-side WebSocket transport shared by the
// recognizer and synthesizer clients.
//
// The package separates transport-level concerns (connect, send, receive,
// keep-alive, close) from provider-specific protocol details (message
// encoding and decoding). Connections are never retried: a dropped provider
// stream fails the call or turn that owns it.
package streaming

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	pkgerrors "github.com/AltairaLabs/VoiceRelay/pkg/errors"
)

// Default connection constants.
const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultWriteWait        = 10 * time.Second
	DefaultMaxMessageSize   = 16 * 1024 * 1024 // 16MB
	DefaultCloseGracePeriod = 5 * time.Second
)

const component = "streaming"

// ErrNotConnected is returned by send and receive calls on a connection that
// was never connected or has been closed.
var ErrNotConnected = errors.New("websocket is not connected")

// ConnConfig configures the WebSocket connection behavior.
type ConnConfig struct {
	// URL is the WebSocket endpoint URL.
	URL string

	// Headers are sent during the WebSocket handshake.
	Headers http.Header

	// DialTimeout is the handshake timeout. Defaults to DefaultDialTimeout.
	DialTimeout time.Duration

	// WriteWait is the write deadline for each message. Defaults to DefaultWriteWait.
	WriteWait time.Duration

	// MaxMessageSize is the read limit. Defaults to DefaultMaxMessageSize.
	MaxMessageSize int64

	// CloseGracePeriod is the deadline for writing the close frame.
	// Defaults to DefaultCloseGracePeriod.
	CloseGracePeriod time.Duration

	// Logger receives debug/warn/error log messages. Optional.
	Logger Logger
}

// Logger is an optional interface for structured logging. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

func (c *ConnConfig) defaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteWait == 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.CloseGracePeriod == 0 {
		c.CloseGracePeriod = DefaultCloseGracePeriod
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
}

// Message is a single WebSocket data frame.
type Message struct {
	Binary bool
	Data   []byte
}

// Conn manages a client WebSocket connection with keep-alive and graceful shutdown.
type Conn struct {
	cfg ConnConfig

	conn    *websocket.Conn
	mu      sync.Mutex
	writeMu sync.Mutex // serializes writes (gorilla/websocket requirement)
	closed  bool
	closeCh chan struct{}
}

// NewConn creates a new Conn. Call Connect to establish the connection.
func NewConn(cfg *ConnConfig) *Conn {
	cfg.defaults()
	return &Conn{
		cfg:     *cfg,
		closeCh: make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection. Failures are transport errors.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return pkgerrors.Transport(component, "Connect", errors.New("connection is closed"))
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.DialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}

	c.cfg.Logger.Debug("connecting to WebSocket", "url", c.cfg.URL)

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Headers)
	if err != nil {
		cerr := pkgerrors.Transport(component, "Connect", err)
		if resp != nil {
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			c.cfg.Logger.Error("WebSocket dial failed", "error", err, "status", resp.StatusCode)
			cerr = cerr.WithStatusCode(resp.StatusCode)
		}
		return cerr
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	conn.SetReadLimit(c.cfg.MaxMessageSize)

	c.conn = conn
	c.cfg.Logger.Debug("WebSocket connected")

	return nil
}

// SendJSON JSON-encodes msg and writes it as a text message.
func (c *Conn) SendJSON(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.SendText(data)
}

// SendText writes pre-encoded data as a text message.
func (c *Conn) SendText(data []byte) error {
	return c.write(websocket.TextMessage, data)
}

// SendBinary writes data as a binary message.
func (c *Conn) SendBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *Conn) write(messageType int, data []byte) error {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return pkgerrors.Transport(component, "Send", err)
	}

	if err := conn.WriteMessage(messageType, data); err != nil {
		return pkgerrors.Transport(component, "Send", err)
	}

	return nil
}

// Receive reads a single message. The call blocks until a message arrives,
// the connection fails, or the context is canceled. Only one goroutine may
// receive at a time.
func (c *Conn) Receive(ctx context.Context) (Message, error) {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return Message{}, ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	type readResult struct {
		msgType int
		data    []byte
		err     error
	}
	ch := make(chan readResult, 1)

	go func() {
		msgType, data, err := conn.ReadMessage()
		ch <- readResult{msgType: msgType, data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return Message{}, r.err
		}
		return Message{Binary: r.msgType == websocket.BinaryMessage, Data: r.data}, nil
	}
}

// ReceiveLoop continuously reads messages and sends them to msgCh.
// It returns nil when the peer closes normally or Close is called, ctx.Err()
// when the context is canceled, and a transport error otherwise.
func (c *Conn) ReceiveLoop(ctx context.Context, msgCh chan<- Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closeCh:
			return nil
		default:
		}

		msg, err := c.Receive(ctx)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway),
				c.IsClosed():
				return nil
			}
			return pkgerrors.Transport(component, "Receive", err)
		}

		select {
		case msgCh <- msg:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closeCh:
			return nil
		}
	}
}

// StartHeartbeat sends a keep-alive at the given interval until the context
// is canceled or the connection closes. A nil keepAlive sends WebSocket ping
// frames; otherwise keepAlive is sent as a text message.
func (c *Conn) StartHeartbeat(ctx context.Context, interval time.Duration, keepAlive []byte) {
	go c.heartbeatLoop(ctx, interval, keepAlive)
}

func (c *Conn) heartbeatLoop(ctx context.Context, interval time.Duration, keepAlive []byte) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		case <-ticker.C:
			msgType := websocket.PingMessage
			if keepAlive != nil {
				msgType = websocket.TextMessage
			}
			if err := c.write(msgType, keepAlive); err != nil {
				c.cfg.Logger.Warn("keep-alive failed", "error", err)
				return
			}
		}
	}
}

// Close gracefully closes the WebSocket connection. Safe to call multiple times.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.closeCh)

	if c.conn == nil {
		return nil
	}

	c.writeMu.Lock()
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.CloseGracePeriod))
	_ = c.conn.WriteMessage(websocket.CloseMessage, closeMsg)
	c.writeMu.Unlock()

	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

