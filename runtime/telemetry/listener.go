package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AltairaLabs/VoiceRelay/runtime/events"
)

// Span names.
const (
	SpanCall = "voicerelay.call"
	SpanTurn = "voicerelay.turn"
)

// spanEntry tracks an in-flight span and its context.
type spanEntry struct {
	span trace.Span
	ctx  context.Context //nolint:containedctx // needed to parent child spans
}

// OTelEventListener converts relay events into OTel spans: one root span
// per call and one child span per turn. It is safe for concurrent use.
type OTelEventListener struct {
	tracer trace.Tracer

	mu       sync.Mutex
	sessions map[string]*spanEntry // sessionID → root span + ctx
	turns    map[string]*spanEntry // turnID → turn span
}

// NewOTelEventListener creates a listener that creates OTel spans from relay events.
func NewOTelEventListener(tracer trace.Tracer) *OTelEventListener {
	return &OTelEventListener{
		tracer:   tracer,
		sessions: make(map[string]*spanEntry),
		turns:    make(map[string]*spanEntry),
	}
}

// StartSession creates the root call span, parented under any span context
// in parentCtx.
func (l *OTelEventListener) StartSession(parentCtx context.Context, sessionID string) {
	ctx, span := l.tracer.Start(parentCtx, SpanCall,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	l.mu.Lock()
	l.sessions[sessionID] = &spanEntry{span: span, ctx: ctx}
	l.mu.Unlock()
}

// EndSession ends the root span for the given session. Calls that end
// normally close it on call.ended instead.
func (l *OTelEventListener) EndSession(sessionID string) {
	l.mu.Lock()
	ss, ok := l.sessions[sessionID]
	delete(l.sessions, sessionID)
	l.mu.Unlock()
	if ok {
		ss.span.End()
	}
}

// OnEvent handles a single relay event. It can be passed to EventBus.SubscribeAll.
func (l *OTelEventListener) OnEvent(evt *events.Event) {
	//nolint:exhaustive // Only handling span-producing events
	switch evt.Type {
	case events.EventCallStarted:
		l.callStarted(evt)
	case events.EventCallEnded:
		l.callEnded(evt)
	case events.EventUtteranceFinal, events.EventUtteranceDropped, events.EventUtteranceQueued:
		l.utterance(evt)
	case events.EventCallerSpeechStarted, events.EventCallerSpeechStopped:
		l.callerSpeech(evt)
	case events.EventMalformedMessage:
		l.malformed(evt)
	case events.EventTurnStarted:
		l.turnStarted(evt)
	case events.EventTurnStateChanged:
		l.turnStateChanged(evt)
	case events.EventGenerationCompleted:
		l.generationCompleted(evt)
	case events.EventFirstAudio:
		l.firstAudio(evt)
	case events.EventTurnCompleted:
		l.turnCompleted(evt)
	case events.EventTurnFailed:
		l.turnFailed(evt)
	}
}

// session returns the root span entry, starting one under a background
// context if StartSession was never called.
func (l *OTelEventListener) session(sessionID string) *spanEntry {
	l.mu.Lock()
	ss, ok := l.sessions[sessionID]
	l.mu.Unlock()
	if ok {
		return ss
	}
	l.StartSession(context.Background(), sessionID)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessions[sessionID]
}

func (l *OTelEventListener) turn(turnID string) (*spanEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.turns[turnID]
	return t, ok
}

func (l *OTelEventListener) takeTurn(turnID string) (*spanEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.turns[turnID]
	delete(l.turns, turnID)
	return t, ok
}

// --- Call ---

func (l *OTelEventListener) callStarted(evt *events.Event) {
	ss := l.session(evt.SessionID)
	attrs := []attribute.KeyValue{attribute.String("call.sid", evt.CallSID)}
	if data, ok := evt.Data.(events.CallStartedData); ok {
		attrs = append(attrs,
			attribute.String("stream.sid", data.StreamSID),
			attribute.String("media.encoding", data.Encoding),
			attribute.Int("media.sample_rate", data.SampleRate),
		)
	}
	ss.span.SetAttributes(attrs...)
}

func (l *OTelEventListener) callEnded(evt *events.Event) {
	l.mu.Lock()
	ss, ok := l.sessions[evt.SessionID]
	delete(l.sessions, evt.SessionID)
	l.mu.Unlock()
	if !ok {
		return
	}

	if data, ok := evt.Data.(events.CallEndedData); ok {
		ss.span.SetAttributes(
			attribute.String("call.outcome", data.Outcome),
			attribute.Int64("call.duration_ms", data.Duration.Milliseconds()),
			attribute.Int("call.turns", data.Turns),
		)
		if data.Error != nil {
			ss.span.RecordError(data.Error)
			ss.span.SetStatus(codes.Error, data.Error.Error())
		} else {
			ss.span.SetStatus(codes.Ok, "")
		}
	}
	ss.span.End()
}

func (l *OTelEventListener) utterance(evt *events.Event) {
	data, ok := evt.Data.(events.UtteranceData)
	if !ok {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("utterance.text", data.Text)}
	if data.Reason != "" {
		attrs = append(attrs, attribute.String("utterance.reason", data.Reason))
	}
	l.session(evt.SessionID).span.AddEvent(string(evt.Type), trace.WithAttributes(attrs...))
}

func (l *OTelEventListener) callerSpeech(evt *events.Event) {
	data, ok := evt.Data.(events.CallerSpeechData)
	if !ok {
		return
	}
	attrs := []attribute.KeyValue{attribute.Int64("caller.offset_ms", data.Offset.Milliseconds())}
	if evt.Type == events.EventCallerSpeechStopped {
		attrs = append(attrs, attribute.Int64("caller.speech_ms", data.Duration.Milliseconds()))
	}
	if data.OverReply {
		attrs = append(attrs, attribute.Bool("caller.over_reply", true))
	}
	l.session(evt.SessionID).span.AddEvent(string(evt.Type), trace.WithAttributes(attrs...))
}

func (l *OTelEventListener) malformed(evt *events.Event) {
	data, ok := evt.Data.(events.MalformedMessageData)
	if !ok {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("stream", data.Stream)}
	if data.Error != nil {
		attrs = append(attrs, attribute.String("error", data.Error.Error()))
	}
	l.session(evt.SessionID).span.AddEvent(string(evt.Type), trace.WithAttributes(attrs...))
}

// --- Turn ---

func (l *OTelEventListener) turnStarted(evt *events.Event) {
	parent := l.session(evt.SessionID)
	attrs := []attribute.KeyValue{attribute.String("turn.id", evt.TurnID)}
	if data, ok := evt.Data.(events.TurnStartedData); ok {
		attrs = append(attrs, attribute.String("turn.utterance", data.Utterance))
	}
	ctx, span := l.tracer.Start(parent.ctx, SpanTurn,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	l.mu.Lock()
	l.turns[evt.TurnID] = &spanEntry{span: span, ctx: ctx}
	l.mu.Unlock()
}

func (l *OTelEventListener) turnStateChanged(evt *events.Event) {
	data, ok := evt.Data.(events.TurnStateChangedData)
	if !ok {
		return
	}
	if t, ok := l.turn(evt.TurnID); ok {
		t.span.AddEvent("turn.state", trace.WithAttributes(
			attribute.String("turn.from", data.From),
			attribute.String("turn.to", data.To),
		))
	}
}

func (l *OTelEventListener) generationCompleted(evt *events.Event) {
	data, ok := evt.Data.(events.GenerationCompletedData)
	if !ok {
		return
	}
	if t, ok := l.turn(evt.TurnID); ok {
		t.span.SetAttributes(
			attribute.String("gen_ai.system", data.Provider),
			attribute.Int64("generation.duration_ms", data.Duration.Milliseconds()),
			attribute.Int("gen_ai.usage.input_tokens", data.InputTokens),
			attribute.Int("gen_ai.usage.output_tokens", data.OutputTokens),
		)
	}
}

func (l *OTelEventListener) firstAudio(evt *events.Event) {
	data, ok := evt.Data.(events.FirstAudioData)
	if !ok {
		return
	}
	if t, ok := l.turn(evt.TurnID); ok {
		t.span.SetAttributes(attribute.Int64("turn.time_to_first_audio_ms", data.SinceTurnStart.Milliseconds()))
		t.span.AddEvent("synthesis.first_audio")
	}
}

func (l *OTelEventListener) turnCompleted(evt *events.Event) {
	t, ok := l.takeTurn(evt.TurnID)
	if !ok {
		return
	}
	if data, ok := evt.Data.(events.TurnCompletedData); ok {
		t.span.SetAttributes(
			attribute.Int64("turn.duration_ms", data.Duration.Milliseconds()),
			attribute.Int("turn.frames", data.Frames),
		)
	}
	t.span.SetStatus(codes.Ok, "")
	t.span.End()
}

func (l *OTelEventListener) turnFailed(evt *events.Event) {
	t, ok := l.takeTurn(evt.TurnID)
	if !ok {
		return
	}
	msg := "turn failed"
	if data, ok := evt.Data.(events.TurnFailedData); ok {
		t.span.SetAttributes(
			attribute.String("turn.stage", data.Stage),
			attribute.Bool("turn.timeout", data.Timeout),
			attribute.Bool("turn.cancelled", data.Cancelled),
			attribute.Int("turn.frames", data.Frames),
		)
		if data.Cancelled {
			t.span.End()
			return
		}
		if data.Error != nil {
			msg = data.Error.Error()
			t.span.RecordError(data.Error)
		}
	}
	t.span.SetStatus(codes.Error, msg)
	t.span.End()
}
