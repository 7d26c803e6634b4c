package events

import (
	"sync"
	"time"
)

// Emitter provides helpers for publishing events with shared call metadata.
// A nil Emitter, or one without a bus, discards everything.
type Emitter struct {
	bus *EventBus

	mu        sync.RWMutex
	sessionID string
	callSID   string
}

// NewEmitter creates a new event emitter.
func NewEmitter(bus *EventBus, sessionID string) *Emitter {
	return &Emitter{bus: bus, sessionID: sessionID}
}

// SetCall records the identifiers assigned at call start.
func (e *Emitter) SetCall(sessionID, callSID string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionID = sessionID
	e.callSID = callSID
}

// emit publishes an event with shared context fields.
func (e *Emitter) emit(eventType EventType, turnID string, data EventData) {
	if e == nil || e.bus == nil {
		return
	}

	e.mu.RLock()
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		CallSID:   e.callSID,
		TurnID:    turnID,
		Data:      data,
	}
	e.mu.RUnlock()

	e.bus.Publish(event)
}

// CallStarted emits the call.started event.
func (e *Emitter) CallStarted(data CallStartedData) {
	e.emit(EventCallStarted, "", data)
}

// CallEnded emits the call.ended event.
func (e *Emitter) CallEnded(outcome string, duration time.Duration, turns int, err error) {
	e.emit(EventCallEnded, "", CallEndedData{
		Outcome:  outcome,
		Duration: duration,
		Turns:    turns,
		Error:    err,
	})
}

// CallIdle emits the call.idle event.
func (e *Emitter) CallIdle(idle time.Duration) {
	e.emit(EventCallIdle, "", CallIdleData{Idle: idle})
}

// UtteranceInterim emits the utterance.interim event.
func (e *Emitter) UtteranceInterim(text string, confidence float64) {
	e.emit(EventUtteranceInterim, "", UtteranceData{Text: text, Confidence: confidence})
}

// UtteranceFinal emits the utterance.final event.
func (e *Emitter) UtteranceFinal(text string, confidence float64) {
	e.emit(EventUtteranceFinal, "", UtteranceData{Text: text, Confidence: confidence})
}

// UtteranceDropped emits the utterance.dropped event.
func (e *Emitter) UtteranceDropped(text, reason string) {
	e.emit(EventUtteranceDropped, "", UtteranceData{Text: text, Reason: reason})
}

// UtteranceQueued emits the utterance.queued event.
func (e *Emitter) UtteranceQueued(text string) {
	e.emit(EventUtteranceQueued, "", UtteranceData{Text: text})
}

// CallerSpeechStarted emits the caller.speech_started event.
func (e *Emitter) CallerSpeechStarted(data CallerSpeechData) {
	e.emit(EventCallerSpeechStarted, "", data)
}

// CallerSpeechStopped emits the caller.speech_stopped event.
func (e *Emitter) CallerSpeechStopped(data CallerSpeechData) {
	e.emit(EventCallerSpeechStopped, "", data)
}

// TurnStarted emits the turn.started event.
func (e *Emitter) TurnStarted(turnID, utterance string) {
	e.emit(EventTurnStarted, turnID, TurnStartedData{Utterance: utterance})
}

// TurnStateChanged emits the turn.state_changed event.
func (e *Emitter) TurnStateChanged(turnID, from, to string) {
	e.emit(EventTurnStateChanged, turnID, TurnStateChangedData{From: from, To: to})
}

// GenerationCompleted emits the turn.generation_completed event.
func (e *Emitter) GenerationCompleted(turnID string, data GenerationCompletedData) {
	e.emit(EventGenerationCompleted, turnID, data)
}

// FirstAudio emits the turn.first_audio event.
func (e *Emitter) FirstAudio(turnID string, sinceTurnStart, sinceSynthesis time.Duration) {
	e.emit(EventFirstAudio, turnID, FirstAudioData{
		SinceTurnStart: sinceTurnStart,
		SinceSynthesis: sinceSynthesis,
	})
}

// TurnCompleted emits the turn.completed event.
func (e *Emitter) TurnCompleted(turnID string, data TurnCompletedData) {
	e.emit(EventTurnCompleted, turnID, data)
}

// TurnFailed emits the turn.failed event.
func (e *Emitter) TurnFailed(turnID string, data TurnFailedData) {
	e.emit(EventTurnFailed, turnID, data)
}

// MalformedMessage emits the stream.malformed event.
func (e *Emitter) MalformedMessage(stream string, err error) {
	e.emit(EventMalformedMessage, "", MalformedMessageData{Stream: stream, Error: err})
}
