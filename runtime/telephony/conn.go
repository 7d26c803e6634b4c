package telephony

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	pkgerrors "github.com/AltairaLabs/VoiceRelay/pkg/errors"
)

// Default connection settings.
const (
	DefaultWriteWait      = 5 * time.Second
	DefaultMaxMessageSize = 64 * 1024
	closeGracePeriod      = time.Second
)

// ErrConnClosed is returned when writing to a closed stream.
var ErrConnClosed = errors.New("telephony stream closed")

// Upgrader accepts media-stream websockets from any origin; Twilio does not
// send an Origin header.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Conn is the server side of one media stream. ReadEvent may be called from
// one goroutine while writes happen from others.
type Conn struct {
	ws        *websocket.Conn
	writeWait time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Accept upgrades an HTTP request to a media stream.
func Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, pkgerrors.Transport("telephony", "Accept", err)
	}
	return NewConn(ws), nil
}

// NewConn wraps an established websocket.
func NewConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(DefaultMaxMessageSize)
	return &Conn{
		ws:        ws,
		writeWait: DefaultWriteWait,
		closed:    make(chan struct{}),
	}
}

// ReadEvent blocks for the next inbound event. It returns io.EOF when the
// peer closes normally or after Close, a decode-kind error for a malformed
// message (the stream stays usable), and a transport-kind error otherwise.
func (c *Conn) ReadEvent() (*Event, error) {
	messageType, data, err := c.ws.ReadMessage()
	if err != nil {
		select {
		case <-c.closed:
			return nil, io.EOF
		default:
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return nil, io.EOF
		}
		return nil, pkgerrors.Transport("telephony", "ReadEvent", err)
	}
	if messageType != websocket.TextMessage {
		return nil, pkgerrors.Decode("telephony", "ReadEvent", errors.New("unexpected binary message"))
	}
	return DecodeEvent(data)
}

// WriteMedia sends one outbound audio frame.
func (c *Conn) WriteMedia(streamSid string, payload []byte) error {
	data, err := EncodeMedia(streamSid, payload)
	if err != nil {
		return err
	}
	return c.write(data)
}

// WriteMark sends a playback mark.
func (c *Conn) WriteMark(streamSid, name string) error {
	data, err := EncodeMark(streamSid, name)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *Conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return pkgerrors.Transport("telephony", "write", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return pkgerrors.Transport("telephony", "write", err)
	}
	return nil
}

// Close sends a close frame and closes the socket. Safe to call multiple
// times; a blocked ReadEvent returns io.EOF.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}
