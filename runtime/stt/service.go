package stt

import (
	"context"
	"time"
)

const (
	// Default audio settings for telephony input.
	DefaultSampleRate = 8000
	DefaultChannels   = 1

	// EncodingMulaw is G.711 μ-law, the telephony input encoding.
	EncodingMulaw = "mulaw"
)

// Service opens streaming recognition sessions.
// This interface abstracts the recognizer provider so a call session can be
// driven by any streaming STT backend.
type Service interface {
	// Name returns the provider identifier (for logging/debugging).
	Name() string

	// Open starts a recognition stream. The stream lives until Close is
	// called, the provider closes it, or ctx is canceled.
	Open(ctx context.Context, config StreamConfig) (Stream, error)
}

// Stream is a live recognition session: audio in, transcript events out.
type Stream interface {
	// Send forwards one chunk of audio in the configured encoding.
	Send(audio []byte) error

	// Events returns recognition events in receipt order. The channel is
	// closed when the stream ends.
	Events() <-chan Event

	// Err returns the error that ended the stream, or nil if it ended
	// normally or is still open.
	Err() error

	// Close ends the stream. Safe to call multiple times.
	Close() error
}

// Event is a single recognition result.
type Event struct {
	// Transcript is the recognized text.
	Transcript string

	// IsFinal marks the transcript for this audio segment as settled.
	IsFinal bool

	// Confidence is the provider's confidence score, when available.
	Confidence float64

	// Received is when the event arrived.
	Received time.Time
}

// StreamConfig configures a recognition stream.
type StreamConfig struct {
	// Encoding is the input audio encoding. Default: "mulaw".
	Encoding string

	// SampleRate is the input sample rate in Hz. Default: 8000.
	SampleRate int

	// Channels is the number of audio channels. Default: 1.
	Channels int

	// Language is the recognition language (e.g. "fr").
	Language string

	// Model is the provider model (e.g. "nova-2").
	Model string

	// InterimResults requests non-final hypotheses.
	InterimResults bool

	// Endpointing is the silence that closes an utterance. Zero uses the
	// provider default.
	Endpointing time.Duration

	// SmartFormat enables punctuation and number formatting.
	SmartFormat bool
}

// DefaultStreamConfig returns telephony defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Encoding:       EncodingMulaw,
		SampleRate:     DefaultSampleRate,
		Channels:       DefaultChannels,
		Language:       "fr",
		Model:          "nova-2",
		InterimResults: true,
		Endpointing:    500 * time.Millisecond,
		SmartFormat:    true,
	}
}
