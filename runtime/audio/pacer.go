package audio

import (
	"context"
	"time"
)

// Telephony framing defaults: 20 ms of 8 kHz 8-bit audio.
const (
	DefaultFrameSize     = 160
	DefaultFrameDuration = 20 * time.Millisecond
)

// Encoding names the payload format of a Frame.
type Encoding string

// EncodingMulaw is the G.711 μ-law frame encoding.
const EncodingMulaw Encoding = "audio/x-mulaw"

// Frame is a fixed-size chunk of encoded audio.
type Frame struct {
	Payload    []byte
	Seq        int
	Encoding   Encoding
	SampleRate int
	Channels   int
}

// PacerConfig configures frame slicing and emission cadence.
type PacerConfig struct {
	FrameSize     int
	FrameDuration time.Duration
	// Pad fills the tail of the last frame. The zero value pads with zero bytes.
	Pad        byte
	Encoding   Encoding
	SampleRate int
	Channels   int
}

// DefaultPacerConfig returns the telephony framing: 160-byte μ-law frames
// every 20 ms, zero-padded.
func DefaultPacerConfig() PacerConfig {
	return PacerConfig{
		FrameSize:     DefaultFrameSize,
		FrameDuration: DefaultFrameDuration,
		Encoding:      EncodingMulaw,
		SampleRate:    SampleRate8kHz,
		Channels:      1,
	}
}

// Split slices data into frameSize chunks, padding the final chunk with pad.
// The tail is never dropped.
func Split(data []byte, frameSize int, pad byte) [][]byte {
	if frameSize <= 0 || len(data) == 0 {
		return nil
	}
	count := (len(data) + frameSize - 1) / frameSize
	chunks := make([][]byte, count)
	for i := range chunks {
		chunk := make([]byte, frameSize)
		n := copy(chunk, data[i*frameSize:])
		for j := n; j < frameSize; j++ {
			chunk[j] = pad
		}
		chunks[i] = chunk
	}
	return chunks
}

// Pacer emits frames at real-time cadence.
type Pacer struct {
	cfg PacerConfig
}

// NewPacer creates a pacer. Zero FrameSize or FrameDuration take the defaults.
func NewPacer(cfg PacerConfig) *Pacer {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultFrameSize
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = DefaultFrameDuration
	}
	return &Pacer{cfg: cfg}
}

// Config returns the effective configuration.
func (p *Pacer) Config() PacerConfig {
	return p.cfg
}

// Frames slices data into tagged frames without pacing.
func (p *Pacer) Frames(data []byte) []Frame {
	chunks := Split(data, p.cfg.FrameSize, p.cfg.Pad)
	frames := make([]Frame, len(chunks))
	for i, c := range chunks {
		frames[i] = Frame{
			Payload:    c,
			Seq:        i,
			Encoding:   p.cfg.Encoding,
			SampleRate: p.cfg.SampleRate,
			Channels:   p.cfg.Channels,
		}
	}
	return frames
}

// Pace emits the frames of data through emit, frame i at start+i*FrameDuration,
// then waits until start+n*FrameDuration so that returning means the audio has
// played out. Deadlines are anchored to the start time so scheduling jitter
// does not accumulate.
//
// Cancelling ctx stops emission immediately; the remaining frames are
// discarded. An emit error aborts pacing. The number of frames emitted is
// returned in every case.
func (p *Pacer) Pace(ctx context.Context, data []byte, emit func(Frame) error) (int, error) {
	frames := p.Frames(data)
	if len(frames) == 0 {
		return 0, ctx.Err()
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	start := time.Now()
	for i, f := range frames {
		if err := waitUntil(ctx, timer, start.Add(time.Duration(i)*p.cfg.FrameDuration)); err != nil {
			return i, err
		}
		if err := emit(f); err != nil {
			return i, err
		}
	}

	end := start.Add(time.Duration(len(frames)) * p.cfg.FrameDuration)
	return len(frames), waitUntil(ctx, timer, end)
}

// waitUntil sleeps until deadline. A cancelled ctx is reported even when
// the deadline has already passed or the timer fired at the same moment.
func waitUntil(ctx context.Context, timer *time.Timer, deadline time.Time) error {
	if d := time.Until(deadline); d > 0 {
		timer.Reset(d)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
	return ctx.Err()
}
