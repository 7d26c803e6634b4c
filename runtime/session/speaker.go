package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/AltairaLabs/VoiceRelay/pkg/errors"
	"github.com/AltairaLabs/VoiceRelay/runtime/audio"
	"github.com/AltairaLabs/VoiceRelay/runtime/events"
	"github.com/AltairaLabs/VoiceRelay/runtime/logger"
	"github.com/AltairaLabs/VoiceRelay/runtime/tts"
)

// ErrNoAudio is returned when the synthesizer finishes without audio.
var ErrNoAudio = errors.New("synthesizer returned no audio")

// MediaWriter sends outbound telephony frames.
type MediaWriter interface {
	WriteMedia(streamSid string, payload []byte) error
	WriteMark(streamSid, name string) error
}

// SpeakerConfig configures the reply path.
type SpeakerConfig struct {
	Voice      string
	WordByWord bool
	// FirstAudioTimeout bounds the wait for the first audio chunk.
	FirstAudioTimeout time.Duration
	// Timeout bounds the whole synthesis.
	Timeout time.Duration
	// Mark sends a mark event after each completed reply.
	Mark  bool
	Pacer audio.PacerConfig
}

// DefaultSpeakerConfig returns telephony framing padded with μ-law silence.
func DefaultSpeakerConfig() SpeakerConfig {
	pc := audio.DefaultPacerConfig()
	pc.Pad = audio.MulawSilence
	return SpeakerConfig{
		WordByWord:        true,
		FirstAudioTimeout: 5 * time.Second,
		Timeout:           10 * time.Second,
		Mark:              true,
		Pacer:             pc,
	}
}

// Speaker synthesizes a reply, transcodes it for telephony and paces it out.
type Speaker struct {
	synth   tts.StreamingService
	writer  MediaWriter
	pacer   *audio.Pacer
	cfg     SpeakerConfig
	emitter *events.Emitter
}

// NewSpeaker creates a Speaker writing to w.
func NewSpeaker(synth tts.StreamingService, w MediaWriter, cfg SpeakerConfig, emitter *events.Emitter) *Speaker {
	return &Speaker{
		synth:   synth,
		writer:  w,
		pacer:   audio.NewPacer(cfg.Pacer),
		cfg:     cfg,
		emitter: emitter,
	}
}

// Speak plays text to streamSid. Audio is fully synthesized before the first
// frame is sent, so a synthesis failure never leaves partial playback.
func (s *Speaker) Speak(ctx context.Context, t *Turn, streamSid, text string) (SpeakResult, error) {
	var res SpeakResult

	synthStart := time.Now()
	samples, err := s.synthesize(ctx, t, text)
	res.Synthesis = time.Since(synthStart)
	if err != nil {
		return res, &StageError{Stage: events.StageSynthesis, Err: err}
	}

	data, err := audio.EncodeTelephony(samples, s.synth.SampleRate())
	if err != nil {
		return res, &StageError{Stage: events.StageSynthesis, Err: err}
	}

	playStart := time.Now()
	res.Frames, err = s.pacer.Pace(ctx, data, func(f audio.Frame) error {
		return s.writer.WriteMedia(streamSid, f.Payload)
	})
	res.Playback = time.Since(playStart)
	if err != nil {
		return res, &StageError{Stage: events.StagePlayback, Err: err}
	}

	if s.cfg.Mark {
		if err := s.writer.WriteMark(streamSid, markName(t)); err != nil {
			logger.WarnContext(ctx, "Failed to send reply mark", "error", err)
		}
	}
	return res, nil
}

func markName(t *Turn) string {
	if t == nil {
		return "reply"
	}
	return "reply-" + t.ID
}

// synthesize collects every audio chunk of the reply in order.
func (s *Speaker) synthesize(ctx context.Context, t *Turn, text string) ([]float32, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	// Cancelling on return releases the synthesizer if we stop reading early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	chunks, err := s.synth.SynthesizeStream(ctx, text, tts.SynthesisConfig{
		Voice:      s.cfg.Voice,
		WordByWord: s.cfg.WordByWord,
	})
	if err != nil {
		return nil, wrapTimeout(err, "synthesize")
	}

	var firstAudio <-chan time.Time
	if s.cfg.FirstAudioTimeout > 0 {
		timer := time.NewTimer(s.cfg.FirstAudioTimeout)
		defer timer.Stop()
		firstAudio = timer.C
	}

	var samples []float32
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				// Closed without a final chunk: the context ended.
				if ctx.Err() != nil {
					return nil, wrapTimeout(ctx.Err(), "synthesize")
				}
				return finish(samples)
			}
			if chunk.Final {
				if chunk.Error != nil {
					return nil, wrapTimeout(chunk.Error, "synthesize")
				}
				return finish(samples)
			}
			if len(chunk.Samples) == 0 {
				continue
			}
			if firstAudio != nil {
				firstAudio = nil
				s.reportFirstAudio(t, start)
			}
			samples = append(samples, chunk.Samples...)
		case <-firstAudio:
			return nil, pkgerrors.Timeout("speaker", "synthesize",
				fmt.Errorf("no audio within %s", s.cfg.FirstAudioTimeout))
		}
	}
}

func (s *Speaker) reportFirstAudio(t *Turn, synthStart time.Time) {
	if t == nil {
		return
	}
	s.emitter.FirstAudio(t.ID, time.Since(t.Started), time.Since(synthStart))
}

func finish(samples []float32) ([]float32, error) {
	if len(samples) == 0 {
		return nil, ErrNoAudio
	}
	return samples, nil
}

// wrapTimeout marks deadline errors as timeouts.
func wrapTimeout(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, pkgerrors.ErrTimeout) {
		return pkgerrors.Timeout("speaker", op, err)
	}
	return err
}
