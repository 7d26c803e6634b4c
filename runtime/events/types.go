package events

import "time"

// EventType identifies the type of event emitted by the relay.
type EventType string

const (
	// EventCallStarted marks the telephony start event.
	EventCallStarted EventType = "call.started"
	// EventCallEnded marks session teardown.
	EventCallEnded EventType = "call.ended"
	// EventCallIdle marks a call with no final transcript for the idle timeout.
	EventCallIdle EventType = "call.idle"

	// EventUtteranceInterim marks a non-final recognition result.
	EventUtteranceInterim EventType = "utterance.interim"
	// EventUtteranceFinal marks a finalized utterance.
	EventUtteranceFinal EventType = "utterance.final"
	// EventUtteranceDropped marks a final utterance rejected by the busy policy.
	EventUtteranceDropped EventType = "utterance.dropped"
	// EventUtteranceQueued marks a final utterance held for the next turn.
	EventUtteranceQueued EventType = "utterance.queued"

	// EventTurnStarted marks a turn leaving Idle.
	EventTurnStarted EventType = "turn.started"
	// EventTurnStateChanged marks any turn state transition.
	EventTurnStateChanged EventType = "turn.state_changed"
	// EventGenerationCompleted marks a reply returned by the generator.
	EventGenerationCompleted EventType = "turn.generation_completed"
	// EventFirstAudio marks the first synthesized audio of a turn.
	EventFirstAudio EventType = "turn.first_audio"
	// EventTurnCompleted marks a reply fully played out.
	EventTurnCompleted EventType = "turn.completed"
	// EventTurnFailed marks a turn aborted by an error or timeout.
	EventTurnFailed EventType = "turn.failed"

	// EventCallerSpeechStarted marks sustained caller speech on the inbound track.
	EventCallerSpeechStarted EventType = "caller.speech_started"
	// EventCallerSpeechStopped marks the end of a caller speech segment.
	EventCallerSpeechStopped EventType = "caller.speech_stopped"

	// EventMalformedMessage marks a dropped undecodable stream message.
	EventMalformedMessage EventType = "stream.malformed"
)

// Turn stages, used in failure events and stage durations.
const (
	StageGeneration = "generation"
	StageSynthesis  = "synthesis"
	StagePlayback   = "playback"
)

// Call outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeHangup    = "hangup"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// EventData is a marker interface for event payloads.
type EventData interface {
	eventData()
}

// Event represents a relay event delivered to listeners.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	CallSID   string
	TurnID    string
	Data      EventData
}

// baseEventData provides a shared marker implementation for all event payloads.
type baseEventData struct{}

func (baseEventData) eventData() {}

// --- Call events ---

// CallStartedData contains data for call start events.
type CallStartedData struct {
	baseEventData
	StreamSID  string
	AccountSID string
	Encoding   string
	SampleRate int
}

// CallEndedData contains data for call end events.
type CallEndedData struct {
	baseEventData
	Outcome  string
	Duration time.Duration
	Turns    int
	Error    error
}

// CallIdleData contains data for idle watchdog events.
type CallIdleData struct {
	baseEventData
	Idle time.Duration
}

// --- Utterance events (consolidated) ---

// UtteranceData is the payload for interim, final, dropped and queued
// utterance events.
type UtteranceData struct {
	baseEventData
	Text       string
	Confidence float64
	Reason     string // Set on dropped
}

// CallerSpeechData describes a caller speech segment. Offsets are in
// inbound audio time from the first forwarded frame.
type CallerSpeechData struct {
	baseEventData
	Offset   time.Duration
	Duration time.Duration // Set on stopped
	Level    float64
	// OverReply is set when the caller spoke while a reply was playing.
	OverReply bool
}

// --- Turn events ---

// TurnStartedData contains data for turn start events.
type TurnStartedData struct {
	baseEventData
	Utterance string
}

// TurnStateChangedData contains data for turn transitions.
type TurnStateChangedData struct {
	baseEventData
	From string
	To   string
}

// GenerationCompletedData contains data for generation completion events.
type GenerationCompletedData struct {
	baseEventData
	Provider     string
	Reply        string
	Duration     time.Duration
	InputTokens  int
	OutputTokens int
}

// FirstAudioData contains the time from turn start to first synthesized audio.
type FirstAudioData struct {
	baseEventData
	SinceTurnStart time.Duration
	SinceSynthesis time.Duration
}

// TurnCompletedData contains data for turn completion events.
type TurnCompletedData struct {
	baseEventData
	Duration time.Duration
	Frames   int
	Stages   map[string]time.Duration
}

// TurnFailedData contains data for turn failure events.
type TurnFailedData struct {
	baseEventData
	Stage   string
	Error   error
	Timeout bool
	// Cancelled marks a turn stopped by hangup or teardown.
	Cancelled bool
	Duration  time.Duration
	Frames    int
}

// --- Stream events ---

// MalformedMessageData identifies the stream that produced a dropped message.
type MalformedMessageData struct {
	baseEventData
	Stream string
	Error  error
}
