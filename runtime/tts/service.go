package tts

import (
	"context"
)

// DefaultSampleRate is the native output rate of the streaming synthesizer.
const DefaultSampleRate = 24000

// StreamingService converts text to speech and streams the audio as it is
// generated.
type StreamingService interface {
	// Name returns the provider identifier (for logging/debugging).
	Name() string

	// SampleRate returns the rate, in Hz, of the samples in every AudioChunk.
	SampleRate() int

	// SynthesizeStream opens a synthesis request for text. The returned
	// channel yields audio chunks in order and is closed after a chunk with
	// Final set. A failure after the request was accepted is reported in the
	// Error field of the final chunk.
	SynthesizeStream(ctx context.Context, text string, config SynthesisConfig) (<-chan AudioChunk, error)
}

// AudioChunk represents a chunk of synthesized audio.
type AudioChunk struct {
	// Samples are mono float samples in [-1, 1] at the service SampleRate.
	Samples []float32

	// Index is the chunk sequence number (0-indexed).
	Index int

	// Final indicates this is the last chunk. A final chunk carries no samples.
	Final bool

	// Error is set on the final chunk if synthesis failed.
	Error error
}

// SynthesisConfig configures one synthesis request.
type SynthesisConfig struct {
	// Voice overrides the provider's default voice when set.
	Voice string

	// WordByWord sends the text one word at a time instead of as one message.
	// Some servers start producing audio sooner when fed incrementally.
	WordByWord bool
}

// DefaultSynthesisConfig returns the defaults used by the relay.
func DefaultSynthesisConfig() SynthesisConfig {
	return SynthesisConfig{WordByWord: true}
}
