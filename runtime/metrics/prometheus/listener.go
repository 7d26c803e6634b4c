package prometheus

import (
	"github.com/AltairaLabs/VoiceRelay/runtime/events"
)

// Label values for utterance kinds and turn outcomes.
const (
	kindInterim = "interim"
	kindFinal   = "final"
	kindDropped = "dropped"
	kindQueued  = "queued"

	turnCompleted = "completed"
	turnFailed    = "failed"
	turnTimeout   = "timeout"
	turnCancelled = "cancelled"

	stageTotal = "total"
)

// MetricsListener records relay events as Prometheus metrics.
// It implements the events.Listener signature and should be registered
// with an EventBus using SubscribeAll.
type MetricsListener struct{}

// NewMetricsListener creates a new MetricsListener.
func NewMetricsListener() *MetricsListener {
	return &MetricsListener{}
}

// Handle processes an event and records relevant metrics.
func (l *MetricsListener) Handle(event *events.Event) {
	//exhaustive:ignore
	switch event.Type {
	case events.EventCallStarted:
		RecordCallStart()
	case events.EventCallEnded:
		l.handleCallEnded(event)
	case events.EventUtteranceInterim:
		RecordUtterance(kindInterim)
	case events.EventUtteranceFinal:
		RecordUtterance(kindFinal)
	case events.EventUtteranceDropped:
		RecordUtterance(kindDropped)
	case events.EventUtteranceQueued:
		RecordUtterance(kindQueued)
	case events.EventGenerationCompleted:
		if data, ok := event.Data.(events.GenerationCompletedData); ok {
			RecordStageDuration(events.StageGeneration, data.Duration.Seconds())
		}
	case events.EventFirstAudio:
		if data, ok := event.Data.(events.FirstAudioData); ok {
			RecordTimeToFirstAudio(data.SinceTurnStart.Seconds())
		}
	case events.EventTurnCompleted:
		l.handleTurnCompleted(event)
	case events.EventTurnFailed:
		l.handleTurnFailed(event)
	case events.EventCallerSpeechStarted:
		if data, ok := event.Data.(events.CallerSpeechData); ok && data.OverReply {
			RecordCallerSpeechOverReply()
		}
	case events.EventCallerSpeechStopped:
		if data, ok := event.Data.(events.CallerSpeechData); ok {
			RecordCallerSpeech(data.Duration.Seconds())
		}
	case events.EventMalformedMessage:
		if data, ok := event.Data.(events.MalformedMessageData); ok {
			RecordMalformedMessage(data.Stream)
		}
	default:
		// Ignore events that don't have metrics
	}
}

func (l *MetricsListener) handleCallEnded(event *events.Event) {
	if data, ok := event.Data.(events.CallEndedData); ok {
		RecordCallEnd(data.Outcome, data.Duration.Seconds())
	}
}

func (l *MetricsListener) handleTurnCompleted(event *events.Event) {
	data, ok := event.Data.(events.TurnCompletedData)
	if !ok {
		return
	}
	RecordTurn(turnCompleted)
	RecordFramesSent(data.Frames)
	RecordStageDuration(stageTotal, data.Duration.Seconds())
	for stage, d := range data.Stages {
		if stage == events.StageGeneration {
			continue // observed on generation completion
		}
		RecordStageDuration(stage, d.Seconds())
	}
}

func (l *MetricsListener) handleTurnFailed(event *events.Event) {
	data, ok := event.Data.(events.TurnFailedData)
	if !ok {
		return
	}
	outcome := turnFailed
	switch {
	case data.Cancelled:
		outcome = turnCancelled
	case data.Timeout:
		outcome = turnTimeout
	}
	RecordTurn(outcome)
	RecordFramesSent(data.Frames)
}

// Listener returns an events.Listener function that can be registered with an EventBus.
func (l *MetricsListener) Listener() events.Listener {
	return l.Handle
}
