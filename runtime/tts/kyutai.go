package tts

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	pkgerrors "github.com/AltairaLabs/VoiceRelay/pkg/errors"
	"github.com/AltairaLabs/VoiceRelay/runtime/internal/streaming"
	"github.com/AltairaLabs/VoiceRelay/runtime/logger"
)

const (
	kyutaiProvider = "kyutai"

	// KyutaiAPIKeyHeader carries the server API key on the upgrade request.
	KyutaiAPIKeyHeader = "kyutai-api-key"

	// DefaultKyutaiURL targets a local server with a French voice.
	DefaultKyutaiURL = "ws://127.0.0.1:8080/api/tts_streaming?voice=cml-tts/fr/2465_1943_000152-0002.wav&format=PcmMessagePack"

	defaultKyutaiDialTimeout = 10 * time.Second

	// streamChannelBuffer is the buffer size for streaming audio chunks.
	streamChannelBuffer = 64

	kyutaiTypeText  = "Text"
	kyutaiTypeEos   = "Eos"
	kyutaiTypeAudio = "Audio"
	kyutaiTypeError = "Error"
	kyutaiTypeDone  = "Done"
)

// KyutaiService implements streaming TTS against a Kyutai websocket server
// speaking the PcmMessagePack protocol.
type KyutaiService struct {
	url           string
	apiKey        string
	sampleRate    int
	dialTimeout   time.Duration
	onDecodeError func(error)
}

// KyutaiOption configures the Kyutai TTS service.
type KyutaiOption func(*KyutaiService)

// WithKyutaiURL sets the streaming endpoint, including voice and format query.
func WithKyutaiURL(u string) KyutaiOption {
	return func(s *KyutaiService) {
		s.url = u
	}
}

// WithKyutaiSampleRate sets the sample rate the server produces.
func WithKyutaiSampleRate(rate int) KyutaiOption {
	return func(s *KyutaiService) {
		s.sampleRate = rate
	}
}

// WithKyutaiDialTimeout sets the websocket handshake timeout.
func WithKyutaiDialTimeout(d time.Duration) KyutaiOption {
	return func(s *KyutaiService) {
		s.dialTimeout = d
	}
}

// WithKyutaiDecodeErrorHandler registers a callback for every malformed
// message dropped from a synthesis stream.
func WithKyutaiDecodeErrorHandler(fn func(error)) KyutaiOption {
	return func(s *KyutaiService) {
		s.onDecodeError = fn
	}
}

// NewKyutai creates a Kyutai streaming TTS service.
func NewKyutai(apiKey string, opts ...KyutaiOption) *KyutaiService {
	s := &KyutaiService{
		url:         DefaultKyutaiURL,
		apiKey:      apiKey,
		sampleRate:  DefaultSampleRate,
		dialTimeout: defaultKyutaiDialTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the provider identifier.
func (s *KyutaiService) Name() string {
	return kyutaiProvider
}

// SampleRate returns the output sample rate.
func (s *KyutaiService) SampleRate() int {
	return s.sampleRate
}

type kyutaiRequest struct {
	Type string `msgpack:"type"`
	Text string `msgpack:"text,omitempty"`
}

// kyutaiMessage covers the server messages the client acts on. Ready and
// word-timing Text messages decode into it and are ignored.
type kyutaiMessage struct {
	Type    string    `msgpack:"type"`
	PCM     []float64 `msgpack:"pcm"`
	Message string    `msgpack:"message"`
}

// SynthesizeStream opens one websocket per request, sends the text followed
// by an end-of-stream marker, and streams the returned PCM. The stream ends
// on a Done message or when the server closes the connection.
func (s *KyutaiService) SynthesizeStream(
	ctx context.Context, text string, config SynthesisConfig,
) (<-chan AudioChunk, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	endpoint, err := s.endpoint(config.Voice)
	if err != nil {
		return nil, pkgerrors.Configuration(kyutaiProvider, "SynthesizeStream", err)
	}

	log := logger.For(kyutaiProvider)
	conn := streaming.NewConn(&streaming.ConnConfig{
		URL:         endpoint,
		Headers:     http.Header{KyutaiAPIKeyHeader: []string{s.apiKey}},
		DialTimeout: s.dialTimeout,
		Logger:      log,
	})
	if err := conn.Connect(ctx); err != nil {
		return nil, NewSynthesisError(kyutaiProvider, "connect", "failed to open synthesis stream", err)
	}

	session, err := streaming.NewSession(ctx, streaming.SessionConfig[[]float32]{
		Conn:                conn,
		OnMessage:           decodeKyutaiMessage,
		OnDecodeError:       s.onDecodeError,
		ResponseChannelSize: streamChannelBuffer,
		Logger:              log,
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := sendKyutaiText(conn, text, config.WordByWord); err != nil {
		_ = session.Close()
		return nil, NewSynthesisError(kyutaiProvider, "send", "failed to send text", err)
	}

	out := make(chan AudioChunk, streamChannelBuffer)
	go forwardAudio(ctx, session, out)
	return out, nil
}

func (s *KyutaiService) endpoint(voice string) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", err
	}
	if voice != "" {
		q := u.Query()
		q.Set("voice", voice)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func sendKyutaiText(conn *streaming.Conn, text string, wordByWord bool) error {
	parts := []string{text}
	if wordByWord {
		parts = strings.Fields(text)
		for i := range parts {
			parts[i] += " "
		}
	}

	for _, part := range parts {
		data, err := msgpack.Marshal(&kyutaiRequest{Type: kyutaiTypeText, Text: part})
		if err != nil {
			return err
		}
		if err := conn.SendBinary(data); err != nil {
			return err
		}
	}

	eos, err := msgpack.Marshal(&kyutaiRequest{Type: kyutaiTypeEos})
	if err != nil {
		return err
	}
	return conn.SendBinary(eos)
}

// forwardAudio numbers the decoded PCM and appends the final chunk.
// If ctx is cancelled the channel may close without a final chunk.
func forwardAudio(ctx context.Context, session *streaming.Session[[]float32], out chan<- AudioChunk) {
	defer close(out)
	defer func() { _ = session.Close() }()

	index := 0
	for samples := range session.Response() {
		select {
		case out <- AudioChunk{Samples: samples, Index: index}:
			index++
		case <-ctx.Done():
			return
		}
	}

	final := AudioChunk{Index: index, Final: true, Error: session.Err()}
	if final.Error == nil && ctx.Err() != nil {
		final.Error = ctx.Err()
	}
	select {
	case out <- final:
	case <-ctx.Done():
	}
}

func decodeKyutaiMessage(msg streaming.Message) ([][]float32, error) {
	if !msg.Binary {
		return nil, pkgerrors.Decode(kyutaiProvider, "decode", errors.New("unexpected text message"))
	}

	var m kyutaiMessage
	if err := msgpack.Unmarshal(msg.Data, &m); err != nil {
		return nil, pkgerrors.Decode(kyutaiProvider, "decode", err)
	}

	switch m.Type {
	case kyutaiTypeAudio:
		if len(m.PCM) == 0 {
			return nil, nil
		}
		samples := make([]float32, len(m.PCM))
		for i, v := range m.PCM {
			samples[i] = float32(v)
		}
		return [][]float32{samples}, nil
	case kyutaiTypeDone:
		return nil, streaming.ErrEndOfStream
	case kyutaiTypeError:
		message := m.Message
		if message == "" {
			message = "unknown error"
		}
		return nil, NewSynthesisError(kyutaiProvider, "server", message, ErrSynthesisFailed)
	default:
		return nil, nil
	}
}
