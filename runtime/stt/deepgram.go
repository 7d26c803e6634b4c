package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/AltairaLabs/VoiceRelay/pkg/errors"
	"github.com/AltairaLabs/VoiceRelay/runtime/internal/streaming"
	"github.com/AltairaLabs/VoiceRelay/runtime/logger"
)

const (
	deepgramProvider = "deepgram"

	// DeepgramListenURL is the live transcription endpoint.
	DeepgramListenURL = "wss://api.deepgram.com/v1/listen"

	// DefaultKeepAliveInterval keeps the stream open through caller silence.
	DefaultKeepAliveInterval = 5 * time.Second

	deepgramResultsType = "Results"
	deepgramErrorType   = "Error"
)

var deepgramKeepAlive = []byte(`{"type":"KeepAlive"}`)

// deepgramControl is a client control message such as CloseStream.
type deepgramControl struct {
	Type string `json:"type"`
}

// DeepgramService implements streaming STT over Deepgram's live websocket API.
type DeepgramService struct {
	apiKey        string
	url           string
	keepAlive     time.Duration
	dialTimeout   time.Duration
	onDecodeError func(error)
}

// DeepgramOption configures the Deepgram service.
type DeepgramOption func(*DeepgramService)

// WithDeepgramURL sets a custom endpoint (for testing or proxies).
func WithDeepgramURL(u string) DeepgramOption {
	return func(s *DeepgramService) {
		s.url = u
	}
}

// WithKeepAliveInterval sets the KeepAlive message interval. Zero disables it.
func WithKeepAliveInterval(d time.Duration) DeepgramOption {
	return func(s *DeepgramService) {
		s.keepAlive = d
	}
}

// WithDeepgramDialTimeout sets the websocket handshake timeout.
func WithDeepgramDialTimeout(d time.Duration) DeepgramOption {
	return func(s *DeepgramService) {
		s.dialTimeout = d
	}
}

// WithDecodeErrorHandler registers a callback for every malformed message
// dropped from a stream.
func WithDecodeErrorHandler(fn func(error)) DeepgramOption {
	return func(s *DeepgramService) {
		s.onDecodeError = fn
	}
}

// NewDeepgram creates a Deepgram streaming STT service.
func NewDeepgram(apiKey string, opts ...DeepgramOption) *DeepgramService {
	s := &DeepgramService{
		apiKey:    apiKey,
		url:       DeepgramListenURL,
		keepAlive: DefaultKeepAliveInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the provider identifier.
func (s *DeepgramService) Name() string {
	return deepgramProvider
}

// Open dials the live endpoint and starts decoding results.
func (s *DeepgramService) Open(ctx context.Context, config StreamConfig) (Stream, error) {
	endpoint, err := s.listenURL(config)
	if err != nil {
		return nil, pkgerrors.Configuration(deepgramProvider, "Open", err)
	}

	log := logger.For(deepgramProvider)
	conn := streaming.NewConn(&streaming.ConnConfig{
		URL:         endpoint,
		Headers:     http.Header{"Authorization": []string{"Token " + s.apiKey}},
		DialTimeout: s.dialTimeout,
		Logger:      log,
	})
	if err := conn.Connect(ctx); err != nil {
		return nil, NewTranscriptionError(deepgramProvider, "connect", "failed to open live stream", err)
	}

	session, err := streaming.NewSession(ctx, streaming.SessionConfig[Event]{
		Conn:          conn,
		OnMessage:     decodeDeepgramMessage,
		OnDecodeError: s.onDecodeError,
		Logger:        log,
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if s.keepAlive > 0 {
		conn.StartHeartbeat(ctx, s.keepAlive, deepgramKeepAlive)
	}

	return &deepgramStream{session: session}, nil
}

func (s *DeepgramService) listenURL(config StreamConfig) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", err
	}

	def := DefaultStreamConfig()
	if config.Encoding == "" {
		config.Encoding = def.Encoding
	}
	if config.SampleRate == 0 {
		config.SampleRate = def.SampleRate
	}
	if config.Channels == 0 {
		config.Channels = def.Channels
	}

	q := u.Query()
	q.Set("encoding", config.Encoding)
	q.Set("sample_rate", strconv.Itoa(config.SampleRate))
	q.Set("channels", strconv.Itoa(config.Channels))
	if config.Model != "" {
		q.Set("model", config.Model)
	}
	if config.Language != "" {
		q.Set("language", config.Language)
	}
	q.Set("interim_results", strconv.FormatBool(config.InterimResults))
	q.Set("smart_format", strconv.FormatBool(config.SmartFormat))
	if config.Endpointing > 0 {
		q.Set("endpointing", strconv.FormatInt(config.Endpointing.Milliseconds(), 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramMessage covers the fields used from Results and Error messages.
type deepgramMessage struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool   `json:"is_final"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

// decodeDeepgramMessage turns one server message into at most one Event.
// Empty transcripts, which Deepgram emits on silence, produce no event.
func decodeDeepgramMessage(msg streaming.Message) ([]Event, error) {
	if msg.Binary {
		return nil, pkgerrors.Decode(deepgramProvider, "decode", errors.New("unexpected binary message"))
	}

	var m deepgramMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		return nil, pkgerrors.Decode(deepgramProvider, "decode", err)
	}

	switch m.Type {
	case deepgramResultsType:
	case deepgramErrorType:
		return nil, NewTranscriptionError(deepgramProvider, "server", firstNonEmpty(m.Description, m.Message, "unknown error"), nil)
	default:
		// Metadata, SpeechStarted, UtteranceEnd
		return nil, nil
	}

	if len(m.Channel.Alternatives) == 0 {
		return nil, nil
	}
	alt := m.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return nil, nil
	}

	return []Event{{
		Transcript: text,
		IsFinal:    m.IsFinal,
		Confidence: alt.Confidence,
		Received:   time.Now(),
	}}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type deepgramStream struct {
	session *streaming.Session[Event]
}

func (d *deepgramStream) Send(audio []byte) error {
	if len(audio) == 0 {
		return ErrEmptyAudio
	}
	if d.session.Closed() {
		return ErrStreamClosed
	}
	if err := d.session.Conn().SendBinary(audio); err != nil {
		return fmt.Errorf("deepgram send: %w", err)
	}
	return nil
}

func (d *deepgramStream) Events() <-chan Event {
	return d.session.Response()
}

func (d *deepgramStream) Err() error {
	return d.session.Err()
}

// Close asks Deepgram to flush and close, then closes the socket.
func (d *deepgramStream) Close() error {
	if d.session.Closed() {
		return nil
	}
	_ = d.session.Conn().SendJSON(deepgramControl{Type: "CloseStream"})
	return d.session.Close()
}
