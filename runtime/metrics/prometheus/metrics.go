// Package prometheus provides Prometheus metrics for relay calls and turns.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "voicerelay"

var (
	// callsActive is a gauge of calls currently relaying audio.
	callsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls currently active",
		},
	)

	// callsTotal counts ended calls.
	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of ended calls",
		},
		[]string{"outcome"}, // outcome: completed, hangup, error, cancelled
	)

	// callDuration is a histogram of call duration.
	callDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Histogram of call duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// utterancesTotal counts recognizer results and busy policy decisions.
	utterancesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Total number of utterances by kind",
		},
		[]string{"kind"}, // kind: interim, final, dropped, queued
	)

	// turnsTotal counts finished turns.
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of turns by outcome",
		},
		[]string{"outcome"}, // outcome: completed, failed, timeout, cancelled
	)

	// turnStageDuration is a histogram of per-stage turn duration.
	turnStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_duration_seconds",
			Help:      "Histogram of turn stage duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"}, // stage: generation, synthesis, playback, total
	)

	// timeToFirstAudio is a histogram of time from turn start to first synthesized audio.
	timeToFirstAudio = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "time_to_first_audio_seconds",
			Help:      "Time from final utterance to first synthesized audio in seconds",
			Buckets:   []float64{.1, .25, .5, .75, 1, 1.5, 2, 3, 5, 10},
		},
	)

	// framesSentTotal counts outbound telephony frames.
	framesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total number of audio frames sent to the telephony peer",
		},
	)

	// callerSpeechDuration is a histogram of caller speech segment length.
	callerSpeechDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "caller_speech_duration_seconds",
			Help:      "Histogram of caller speech segment duration in seconds",
			Buckets:   []float64{.25, .5, 1, 2, 4, 8, 15, 30},
		},
	)

	// callerSpeechOverReply counts caller speech that began while a reply was playing.
	callerSpeechOverReply = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "caller_speech_over_reply_total",
			Help:      "Total number of caller speech segments started during reply playback",
		},
	)

	// malformedMessagesTotal counts undecodable stream messages that were dropped.
	malformedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_messages_total",
			Help:      "Total number of malformed stream messages dropped",
		},
		[]string{"stream"}, // stream: telephony, recognizer, synthesizer
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		callsActive,
		callsTotal,
		callDuration,
		utterancesTotal,
		turnsTotal,
		turnStageDuration,
		timeToFirstAudio,
		framesSentTotal,
		callerSpeechDuration,
		callerSpeechOverReply,
		malformedMessagesTotal,
	}
)

// Collectors returns every relay metric, for registration with a custom registry.
func Collectors() []prometheus.Collector {
	out := make([]prometheus.Collector, len(allMetrics))
	copy(out, allMetrics)
	return out
}

// RecordCallStart records a call start.
func RecordCallStart() {
	callsActive.Inc()
}

// RecordCallEnd records a call ending with the given outcome.
func RecordCallEnd(outcome string, durationSeconds float64) {
	callsActive.Dec()
	callsTotal.WithLabelValues(outcome).Inc()
	if durationSeconds > 0 {
		callDuration.Observe(durationSeconds)
	}
}

// RecordUtterance records a recognizer result or busy policy decision.
func RecordUtterance(kind string) {
	utterancesTotal.WithLabelValues(kind).Inc()
}

// RecordTurn records a finished turn.
func RecordTurn(outcome string) {
	turnsTotal.WithLabelValues(outcome).Inc()
}

// RecordStageDuration records the duration of a turn stage.
func RecordStageDuration(stage string, durationSeconds float64) {
	turnStageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordTimeToFirstAudio records the latency to the first synthesized audio.
func RecordTimeToFirstAudio(durationSeconds float64) {
	timeToFirstAudio.Observe(durationSeconds)
}

// RecordFramesSent adds to the outbound frame count.
func RecordFramesSent(frames int) {
	if frames > 0 {
		framesSentTotal.Add(float64(frames))
	}
}

// RecordCallerSpeech records a finished caller speech segment.
func RecordCallerSpeech(durationSeconds float64) {
	callerSpeechDuration.Observe(durationSeconds)
}

// RecordCallerSpeechOverReply records caller speech during reply playback.
func RecordCallerSpeechOverReply() {
	callerSpeechOverReply.Inc()
}

// RecordMalformedMessage records a dropped undecodable message.
func RecordMalformedMessage(stream string) {
	malformedMessagesTotal.WithLabelValues(stream).Inc()
}
