// Package session owns the lifetime of one relayed call: it feeds caller
// audio to the recognizer, turns final transcripts into replies, and plays
// synthesized speech back to the caller.
package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	pkgerrors "github.com/AltairaLabs/VoiceRelay/pkg/errors"
	"github.com/AltairaLabs/VoiceRelay/runtime/audio"
	"github.com/AltairaLabs/VoiceRelay/runtime/events"
	"github.com/AltairaLabs/VoiceRelay/runtime/logger"
	"github.com/AltairaLabs/VoiceRelay/runtime/providers"
	"github.com/AltairaLabs/VoiceRelay/runtime/stt"
	"github.com/AltairaLabs/VoiceRelay/runtime/telephony"
	"github.com/AltairaLabs/VoiceRelay/runtime/tts"
)

// State is the lifecycle state of a call session.
type State int32

// Session states.
const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stream names used for malformed message accounting.
const (
	streamTelephony = "telephony"
)

var (
	// ErrRecognizerClosed is returned when the recognizer ends the stream
	// while the call is still live.
	ErrRecognizerClosed = errors.New("recognizer stream closed")
	// ErrEmptyReply is returned when the generator answers with no text.
	ErrEmptyReply = errors.New("generator returned an empty reply")

	// errStopped and errHangup end the relay loops on a normal call end.
	errStopped = errors.New("telephony stop")
	errHangup  = errors.New("telephony closed")
)

// Telephony is the caller side of the call.
type Telephony interface {
	ReadEvent() (*telephony.Event, error)
	MediaWriter
	Close() error
}

// Config configures one session.
type Config struct {
	// ID identifies the connection in events and logs until the telephony
	// start event supplies a stream SID. Generated when empty.
	ID string

	Recognition       stt.StreamConfig
	SystemPrompt      string
	GenerationTimeout time.Duration
	Speaker           SpeakerConfig
	BusyPolicy        BusyPolicy

	// IdleTimeout reports a call with no final transcript for this long.
	// Zero disables the watchdog.
	IdleTimeout time.Duration

	// TranscriptDir holds <streamSid>.txt transcripts. Empty disables them.
	TranscriptDir string

	// Activity enables caller speech detection on the inbound track. It is
	// reported as events only; forwarded audio is unchanged. Nil disables it.
	Activity *audio.ActivityParams
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		Recognition:       stt.DefaultStreamConfig(),
		GenerationTimeout: 15 * time.Second,
		Speaker:           DefaultSpeakerConfig(),
		BusyPolicy:        BusyDrop,
	}
}

// Deps are the collaborators a session talks to.
type Deps struct {
	Telephony   Telephony
	Recognizer  stt.Service
	Generator   providers.Generator
	Synthesizer tts.StreamingService
	Bus         *events.EventBus
}

// Session relays one call.
type Session struct {
	cfg     Config
	deps    Deps
	id      string
	emitter *events.Emitter

	state      atomic.Int32
	lastFinal  atomic.Int64
	malformed  rate.Sometimes
	assembler  *Assembler
	speaker    *Speaker
	stream     stt.Stream
	turns      *Coordinator
	closeOnce  sync.Once
	startedAt  time.Time
	transcript TranscriptLog
	activity   *audio.ActivityDetector
	speechFrom time.Duration

	mu         sync.Mutex
	started    bool
	streamSid  string
	callSID    string
	accountSID string
}

// New creates a session in the Connecting state.
func New(cfg Config, deps Deps) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Speaker.Pacer.FrameSize == 0 {
		cfg.Speaker.Pacer = DefaultSpeakerConfig().Pacer
	}
	s := &Session{
		cfg:        cfg,
		deps:       deps,
		id:         cfg.ID,
		emitter:    events.NewEmitter(deps.Bus, cfg.ID),
		malformed:  rate.Sometimes{First: 3, Interval: 10 * time.Second},
		transcript: nopTranscript{},
	}
	if cfg.Activity != nil {
		det, err := audio.NewActivityDetector(*cfg.Activity)
		if err != nil {
			logger.Warn("Caller activity detection disabled", "session_id", s.id, "error", err)
		} else {
			s.activity = det
		}
	}
	s.assembler = NewAssembler(nil, s)
	s.speaker = NewSpeaker(deps.Synthesizer, deps.Telephony, cfg.Speaker, s.emitter)
	return s
}

// ID returns the connection identifier used for events.
func (s *Session) ID() string {
	return s.id
}

// StreamSID returns the telephony stream SID once the call has started.
func (s *Session) StreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSid
}

// CallSID returns the telephony call SID once the call has started.
func (s *Session) CallSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callSID
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Run relays the call until the caller hangs up, a stream fails, or ctx is
// cancelled. A normal end of call returns nil.
func (s *Session) Run(ctx context.Context) error {
	ctx = logger.WithSessionID(ctx, s.id)
	s.startedAt = time.Now()
	s.setState(StateConnecting)
	logger.CallEvent(ctx, "connected")

	stream, err := s.deps.Recognizer.Open(ctx, s.cfg.Recognition)
	if err != nil {
		logger.ProviderError(ctx, s.deps.Recognizer.Name(), err)
		s.setState(StateClosing)
		_ = s.deps.Telephony.Close()
		s.finish(ctx, events.OutcomeError, err)
		return err
	}
	s.stream = stream

	g, gctx := errgroup.WithContext(ctx)
	s.turns = NewCoordinator(gctx, CoordinatorConfig{
		Policy:   s.cfg.BusyPolicy,
		Generate: s.generate,
		Speak:    s.speak,
		Emitter:  s.emitter,
	})

	g.Go(func() error { return s.relayInbound(gctx) })
	g.Go(func() error { return s.relayRecognition(gctx) })
	g.Go(func() error {
		// Unblocks the socket reads once any loop ends.
		<-gctx.Done()
		s.closeStreams()
		return nil
	})
	if s.cfg.IdleTimeout > 0 {
		g.Go(func() error { return s.watchIdle(gctx) })
	}

	err = g.Wait()

	s.setState(StateClosing)
	s.turns.Close()
	s.closeStreams()

	outcome, err := classify(ctx, err)
	s.finish(ctx, outcome, err)
	return err
}

// classify maps the relay result to a call outcome and the error Run returns.
func classify(ctx context.Context, err error) (string, error) {
	switch {
	case ctx.Err() != nil:
		// Teardown closes the sockets, so the loops report a hangup too.
		return events.OutcomeCancelled, nil
	case errors.Is(err, errStopped):
		return events.OutcomeCompleted, nil
	case errors.Is(err, errHangup):
		return events.OutcomeHangup, nil
	case err == nil:
		return events.OutcomeCompleted, nil
	default:
		return events.OutcomeError, err
	}
}

func (s *Session) finish(ctx context.Context, outcome string, err error) {
	s.mu.Lock()
	transcript := s.transcript
	s.mu.Unlock()
	if cerr := transcript.Close(); cerr != nil {
		logger.WarnContext(ctx, "Failed to close transcript", "error", cerr)
	}

	turns := 0
	if s.turns != nil {
		turns = s.turns.Turns()
	}
	duration := time.Since(s.startedAt)
	s.emitter.CallEnded(outcome, duration, turns, err)
	s.setState(StateClosed)

	if err != nil {
		logger.ErrorContext(ctx, "Call ended with error", "outcome", outcome, "error", err, "duration", duration)
		return
	}
	logger.CallEvent(ctx, "closed", "outcome", outcome, "duration", duration, "turns", turns)
}

// closeStreams closes the recognizer and telephony connections, best effort.
func (s *Session) closeStreams() {
	s.closeOnce.Do(func() {
		if s.stream != nil {
			if err := s.stream.Close(); err != nil {
				logger.Debug("Recognizer close failed", "error", err)
			}
		}
		if err := s.deps.Telephony.Close(); err != nil {
			logger.Debug("Telephony close failed", "error", err)
		}
	})
}

// relayInbound reads telephony events and forwards caller audio verbatim.
func (s *Session) relayInbound(ctx context.Context) error {
	for {
		ev, err := s.deps.Telephony.ReadEvent()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errHangup
			}
			if pkgerrors.KindOf(err) == pkgerrors.KindDecode {
				s.reportMalformed(ctx, streamTelephony, err)
				continue
			}
			return err
		}

		switch ev.Event {
		case telephony.EventStart:
			s.activate(ctx, ev)
		case telephony.EventMedia:
			if err := s.forwardMedia(ctx, ev); err != nil {
				return err
			}
		case telephony.EventStop:
			logger.CallEvent(ctx, "stopped")
			return errStopped
		case telephony.EventMark:
			if ev.Mark != nil {
				logger.DebugContext(ctx, "Playback mark reached", "mark", ev.Mark.Name)
			}
		case telephony.EventDTMF:
			if ev.DTMF != nil {
				logger.InfoContext(ctx, "DTMF received", "digit", ev.DTMF.Digit)
			}
		case telephony.EventConnected:
			logger.DebugContext(ctx, "Media stream connected", "protocol", ev.Protocol, "version", ev.Version)
		default:
			logger.DebugContext(ctx, "Ignoring telephony event", "event", ev.Event)
		}
	}
}

func (s *Session) forwardMedia(ctx context.Context, ev *telephony.Event) error {
	if s.State() != StateActive || len(ev.Audio) == 0 {
		return nil
	}
	if ev.Media != nil && ev.Media.Track != "" && ev.Media.Track != "inbound" {
		return nil
	}
	if err := s.stream.Send(ev.Audio); err != nil {
		if pkgerrors.KindOf(err) != pkgerrors.KindUnknown {
			return err
		}
		return pkgerrors.Transport("session", "forwardMedia", err)
	}
	if s.activity != nil {
		if tr, ok := s.activity.AnalyzeMulaw(ev.Audio); ok {
			s.reportActivity(ctx, tr)
		}
	}
	return nil
}

// reportActivity publishes the start and end of caller speech segments.
// Only the inbound loop calls it.
func (s *Session) reportActivity(ctx context.Context, tr audio.ActivityTransition) {
	switch {
	case tr.From == audio.ActivityStarting && tr.To == audio.ActivitySpeaking:
		s.speechFrom = tr.At - tr.InPrevious
		overReply := s.turns.State() == TurnSpeaking
		s.emitter.CallerSpeechStarted(events.CallerSpeechData{
			Offset:    s.speechFrom,
			Level:     tr.Level,
			OverReply: overReply,
		})
		logger.DebugContext(ctx, "Caller speech started", "offset", s.speechFrom, "over_reply", overReply)
	case tr.From == audio.ActivityStopping && tr.To == audio.ActivityQuiet:
		end := tr.At - tr.InPrevious
		s.emitter.CallerSpeechStopped(events.CallerSpeechData{
			Offset:   end,
			Duration: end - s.speechFrom,
			Level:    tr.Level,
		})
		logger.DebugContext(ctx, "Caller speech stopped", "offset", end, "duration", end-s.speechFrom)
	}
}

// activate handles the telephony start event. Only the first start counts.
func (s *Session) activate(ctx context.Context, ev *telephony.Event) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		logger.WarnContext(ctx, "Duplicate start event ignored", "stream_sid", ev.StreamSid)
		return
	}
	s.started = true
	s.streamSid = ev.StreamSid
	var format telephony.MediaFormat
	if ev.Start != nil {
		s.callSID = ev.Start.CallSid
		s.accountSID = ev.Start.AccountSid
		format = ev.Start.MediaFormat
	}
	callSID := s.callSID
	s.mu.Unlock()

	if s.cfg.TranscriptDir != "" {
		name := ev.StreamSid
		if name == "" {
			name = s.id
		}
		t, err := OpenTranscript(s.cfg.TranscriptDir, name)
		if err != nil {
			logger.WarnContext(ctx, "Transcript disabled for call", "error", err)
		} else {
			s.mu.Lock()
			s.transcript = t
			s.mu.Unlock()
			s.assembler.SetTranscript(t)
		}
	}

	s.lastFinal.Store(time.Now().UnixNano())
	s.setState(StateActive)
	s.emitter.SetCall(s.id, callSID)
	s.emitter.CallStarted(events.CallStartedData{
		StreamSID:  ev.StreamSid,
		AccountSID: s.accountSID,
		Encoding:   format.Encoding,
		SampleRate: format.SampleRate,
	})
	logger.CallEvent(logger.WithCallSID(ctx, callSID), "started",
		"stream_sid", ev.StreamSid, "encoding", format.Encoding, "sample_rate", format.SampleRate)
}

// relayRecognition feeds recognition events through the assembler to the
// turn coordinator, in receipt order.
func (s *Session) relayRecognition(ctx context.Context) error {
	for ev := range s.stream.Events() {
		u, ok := s.assembler.Accept(ev)
		if !ok {
			continue
		}
		s.lastFinal.Store(time.Now().UnixNano())
		s.turns.Submit(u)
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := s.stream.Err(); err != nil {
		logger.ProviderError(ctx, s.deps.Recognizer.Name(), err)
		return err
	}
	return ErrRecognizerClosed
}

// watchIdle reports calls with no final transcript for IdleTimeout. The call
// stays up; the report repeats once per timeout.
func (s *Session) watchIdle(ctx context.Context) error {
	interval := s.cfg.IdleTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.State() != StateActive || s.turns.State() != TurnIdle {
				continue
			}
			idle := time.Since(time.Unix(0, s.lastFinal.Load()))
			if idle < s.cfg.IdleTimeout {
				continue
			}
			s.lastFinal.Store(time.Now().UnixNano())
			s.emitter.CallIdle(idle)
			logger.WarnContext(ctx, "No final transcript received", "idle", idle)
		}
	}
}

// generate asks the generator for a reply, bounded by GenerationTimeout.
func (s *Session) generate(ctx context.Context, t *Turn) (string, error) {
	if s.cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.GenerationTimeout)
		defer cancel()
	}
	provider := s.deps.Generator.ID()
	ctx = logger.WithProvider(ctx, provider)

	start := time.Now()
	resp, err := s.deps.Generator.Generate(ctx, providers.UserTurn(s.cfg.SystemPrompt, t.Utterance.Text))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, pkgerrors.ErrTimeout) {
			err = pkgerrors.Timeout("session", "generate", err)
		}
		if !errors.Is(err, context.Canceled) {
			logger.ProviderError(ctx, provider, err)
		}
		return "", err
	}

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}
	s.emitter.GenerationCompleted(t.ID, events.GenerationCompletedData{
		Provider:     provider,
		Reply:        reply,
		Duration:     time.Since(start),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	})
	logger.InfoContext(ctx, "Reply generated", "chars", len(reply), "duration", time.Since(start))
	return reply, nil
}

func (s *Session) speak(ctx context.Context, t *Turn, reply string) (SpeakResult, error) {
	return s.speaker.Speak(logger.WithProvider(ctx, s.deps.Synthesizer.Name()), t, s.StreamSID(), reply)
}

func (s *Session) reportMalformed(ctx context.Context, stream string, err error) {
	s.emitter.MalformedMessage(stream, err)
	s.malformed.Do(func() {
		logger.WarnContext(ctx, "Dropping malformed message", "stream", stream, "error", err)
	})
}

// OnInterim implements AssemblerObserver.
func (s *Session) OnInterim(u Utterance) {
	s.emitter.UtteranceInterim(u.Text, u.Confidence)
	logger.Debug("Interim transcript", "session_id", s.id, "text", u.Text)
}

// OnFinal implements AssemblerObserver.
func (s *Session) OnFinal(u Utterance) {
	s.emitter.UtteranceFinal(u.Text, u.Confidence)
	logger.Info("Final transcript", "session_id", s.id, "text", u.Text)
}

// OnTranscriptError implements AssemblerObserver.
func (s *Session) OnTranscriptError(err error) {
	logger.Warn("Transcript append failed", "session_id", s.id, "error", err)
}
