package session

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"time"

	"github.com/AltairaLabs/VoiceRelay/runtime/audio"
	"github.com/AltairaLabs/VoiceRelay/runtime/events"
	"github.com/AltairaLabs/VoiceRelay/runtime/providers"
	"github.com/AltairaLabs/VoiceRelay/runtime/stt"
	"github.com/AltairaLabs/VoiceRelay/runtime/telephony"
	"github.com/AltairaLabs/VoiceRelay/runtime/tts"
)

// fakeTelephony is a scripted caller. Events pushed with push are returned by
// ReadEvent in order; Close makes ReadEvent return io.EOF.
type fakeTelephony struct {
	items     chan readItem
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	media  []sentMedia
	marks  []string
	closes int
}

type readItem struct {
	ev  *telephony.Event
	err error
}

type sentMedia struct {
	streamSid string
	payload   []byte
}

func newFakeTelephony() *fakeTelephony {
	return &fakeTelephony{
		items:  make(chan readItem, 256),
		closed: make(chan struct{}),
	}
}

func (f *fakeTelephony) push(ev *telephony.Event) {
	f.items <- readItem{ev: ev}
}

func (f *fakeTelephony) pushErr(err error) {
	f.items <- readItem{err: err}
}

func (f *fakeTelephony) start(streamSid, callSid string) {
	f.push(&telephony.Event{
		Event:     telephony.EventStart,
		StreamSid: streamSid,
		Start: &telephony.StartInfo{
			StreamSid:  streamSid,
			AccountSid: "AC1",
			CallSid:    callSid,
			MediaFormat: telephony.MediaFormat{
				Encoding:   "audio/x-mulaw",
				SampleRate: 8000,
				Channels:   1,
			},
		},
	})
}

func (f *fakeTelephony) silence(n int) {
	for i := 0; i < n; i++ {
		payload := make([]byte, 160)
		for j := range payload {
			payload[j] = 0xFF
		}
		f.push(&telephony.Event{
			Event: telephony.EventMedia,
			Media: &telephony.MediaInfo{Track: "inbound"},
			Audio: payload,
		})
	}
}

// tone pushes n inbound frames of a 400 Hz tone at half scale.
func (f *fakeTelephony) tone(n int) {
	samples := make([]int16, 160)
	for i := range samples {
		samples[i] = int16(16000 * math.Sin(2*math.Pi*400*float64(i)/8000))
	}
	payload := audio.PCM16ToMulaw(samples)
	for i := 0; i < n; i++ {
		f.push(&telephony.Event{
			Event: telephony.EventMedia,
			Media: &telephony.MediaInfo{Track: "inbound"},
			Audio: payload,
		})
	}
}

func (f *fakeTelephony) stop() {
	f.push(&telephony.Event{Event: telephony.EventStop, Stop: &telephony.StopInfo{}})
}

func (f *fakeTelephony) ReadEvent() (*telephony.Event, error) {
	select {
	case it := <-f.items:
		return it.ev, it.err
	case <-f.closed:
		return nil, io.EOF
	}
}

// WriteMedia records every frame, including writes after Close, so tests can
// prove nothing was sent late.
func (f *fakeTelephony) WriteMedia(streamSid string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media = append(f.media, sentMedia{streamSid: streamSid, payload: append([]byte(nil), payload...)})
	select {
	case <-f.closed:
		return telephony.ErrConnClosed
	default:
		return nil
	}
}

func (f *fakeTelephony) WriteMark(_ string, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, name)
	return nil
}

func (f *fakeTelephony) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTelephony) mediaCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.media)
}

func (f *fakeTelephony) sentMedia() []sentMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMedia(nil), f.media...)
}

func (f *fakeTelephony) sentMarks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.marks...)
}

func (f *fakeTelephony) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// fakeRecognizer hands out a single fakeStream.
type fakeRecognizer struct {
	stream  *fakeStream
	openErr error
	opened  chan struct{}
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{stream: newFakeStream(), opened: make(chan struct{})}
}

func (r *fakeRecognizer) Name() string { return "fake-stt" }

func (r *fakeRecognizer) Open(context.Context, stt.StreamConfig) (stt.Stream, error) {
	if r.openErr != nil {
		return nil, r.openErr
	}
	close(r.opened)
	return r.stream, nil
}

type fakeStream struct {
	mu     sync.Mutex
	out    chan stt.Event
	closed bool
	err    error
	sent   int
}

func newFakeStream() *fakeStream {
	return &fakeStream{out: make(chan stt.Event, 64)}
}

func (s *fakeStream) Send(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrStreamClosed
	}
	if len(audio) == 0 {
		return stt.ErrEmptyAudio
	}
	s.sent++
	return nil
}

func (s *fakeStream) Events() <-chan stt.Event { return s.out }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close() error {
	s.end(nil)
	return nil
}

func (s *fakeStream) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.out)
}

func (s *fakeStream) emit(ev stt.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.out <- ev
}

func (s *fakeStream) final(text string) {
	s.emit(stt.Event{Transcript: text, IsFinal: true, Confidence: 0.9, Received: time.Now()})
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// fakeGenerator answers through reply, or echoes the utterance.
type fakeGenerator struct {
	reply func(ctx context.Context, utterance string) (string, error)

	mu    sync.Mutex
	calls []string
}

func (g *fakeGenerator) ID() string { return "fake-llm" }

func (g *fakeGenerator) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, error) {
	utterance := req.Messages[len(req.Messages)-1].Content
	g.mu.Lock()
	g.calls = append(g.calls, utterance)
	g.mu.Unlock()

	text := "Vous avez dit " + utterance
	if g.reply != nil {
		var err error
		if text, err = g.reply(ctx, utterance); err != nil {
			return providers.GenerateResponse{}, err
		}
	}
	return providers.GenerateResponse{
		Content: text,
		Usage:   providers.Usage{PromptTokens: 12, CompletionTokens: 4},
	}, nil
}

func (g *fakeGenerator) Close() error { return nil }

func (g *fakeGenerator) utterances() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// fakeSynth streams chunks of constant samples at 24 kHz.
type fakeSynth struct {
	chunks     int
	chunkSize  int
	firstDelay time.Duration
	failWith   error

	mu  sync.Mutex
	ctx context.Context
}

func newFakeSynth() *fakeSynth {
	return &fakeSynth{chunks: 3, chunkSize: 8000}
}

func (s *fakeSynth) Name() string    { return "fake-tts" }
func (s *fakeSynth) SampleRate() int { return tts.DefaultSampleRate }

func (s *fakeSynth) SynthesizeStream(ctx context.Context, _ string, _ tts.SynthesisConfig) (<-chan tts.AudioChunk, error) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	ch := make(chan tts.AudioChunk)
	go func() {
		defer close(ch)
		if s.firstDelay > 0 {
			select {
			case <-time.After(s.firstDelay):
			case <-ctx.Done():
				return
			}
		}
		for i := 0; i < s.chunks; i++ {
			samples := make([]float32, s.chunkSize)
			for j := range samples {
				samples[j] = 0.25
			}
			select {
			case ch <- tts.AudioChunk{Samples: samples, Index: i}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- tts.AudioChunk{Index: s.chunks, Final: true, Error: s.failWith}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// lastContext returns the context of the most recent synthesis.
func (s *fakeSynth) lastContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// recorder collects bus events. Read only after bus.Close.
type recorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func newRecorder(bus *events.EventBus) *recorder {
	r := &recorder{}
	bus.SubscribeAll(func(e *events.Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) ofType(t events.EventType) []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

var errFakeRecognizer = errors.New("recognizer socket reset")
