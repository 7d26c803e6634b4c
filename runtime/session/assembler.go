package session

import (
	"strings"
	"sync"
	"time"

	"github.com/AltairaLabs/VoiceRelay/runtime/stt"
)

// Utterance is a recognized piece of caller speech. It is closed once Final.
type Utterance struct {
	Text       string
	Final      bool
	Confidence float64
	Received   time.Time
}

// AssemblerObserver receives every utterance the assembler sees.
type AssemblerObserver interface {
	OnInterim(u Utterance)
	OnFinal(u Utterance)
	OnTranscriptError(err error)
}

// Assembler turns recognition events into closed utterances. Each non-empty
// final event yields exactly one utterance, appended to the transcript
// before it is returned.
type Assembler struct {
	mu         sync.Mutex
	transcript TranscriptLog
	observer   AssemblerObserver
}

// NewAssembler creates an assembler. A nil transcript disables logging.
func NewAssembler(transcript TranscriptLog, observer AssemblerObserver) *Assembler {
	if transcript == nil {
		transcript = nopTranscript{}
	}
	return &Assembler{transcript: transcript, observer: observer}
}

// SetTranscript replaces the transcript log; the session swaps it in on start.
func (a *Assembler) SetTranscript(t TranscriptLog) {
	if t == nil {
		t = nopTranscript{}
	}
	a.mu.Lock()
	a.transcript = t
	a.mu.Unlock()
}

// Accept processes one recognition event. It returns the closed utterance
// and true only for non-empty final events.
func (a *Assembler) Accept(ev stt.Event) (Utterance, bool) {
	u := Utterance{
		Text:       ev.Transcript,
		Final:      ev.IsFinal,
		Confidence: ev.Confidence,
		Received:   ev.Received,
	}
	if u.Received.IsZero() {
		u.Received = time.Now()
	}

	// Recognizers emit empty results on silence.
	if strings.TrimSpace(u.Text) == "" {
		return Utterance{}, false
	}

	if !u.Final {
		if a.observer != nil {
			a.observer.OnInterim(u)
		}
		return Utterance{}, false
	}

	a.mu.Lock()
	err := a.transcript.Append(u.Text)
	a.mu.Unlock()
	if err != nil && a.observer != nil {
		a.observer.OnTranscriptError(err)
	}
	if a.observer != nil {
		a.observer.OnFinal(u)
	}
	return u, true
}
