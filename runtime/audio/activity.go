package audio

import (
	"math"
	"sync"
	"time"
)

// Default caller-activity parameters for 8 kHz telephony audio.
const (
	DefaultActivityThreshold  = 0.02
	DefaultActivityStartAfter = 200 * time.Millisecond
	DefaultActivityStopAfter  = 800 * time.Millisecond
	DefaultActivitySmoothing  = 0.3
)

// pcmFullScale normalizes 16-bit samples to [-1, 1].
const pcmFullScale = 32768.0

// ActivityState is the caller's speech state as heard on the inbound track.
type ActivityState int

const (
	// ActivityQuiet means no speech.
	ActivityQuiet ActivityState = iota
	// ActivityStarting means the level crossed the threshold but not for StartAfter yet.
	ActivityStarting
	// ActivitySpeaking means sustained speech.
	ActivitySpeaking
	// ActivityStopping means the level dropped but not for StopAfter yet.
	ActivityStopping
)

func (s ActivityState) String() string {
	switch s {
	case ActivityQuiet:
		return "quiet"
	case ActivityStarting:
		return "starting"
	case ActivitySpeaking:
		return "speaking"
	case ActivityStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ActivityParams configures an ActivityDetector.
type ActivityParams struct {
	// Threshold is the smoothed RMS level, in [0, 1], that counts as speech.
	Threshold float64
	// StartAfter is how long the level must stay above Threshold before
	// the caller is considered speaking. Filters clicks and line noise.
	StartAfter time.Duration
	// StopAfter is how long the level must stay below Threshold before
	// speech is considered over. Bridges pauses between words.
	StopAfter time.Duration
	// Smoothing is the exponential smoothing factor in (0, 1].
	Smoothing float64
	// SampleRate of the analyzed audio, used to measure elapsed time.
	SampleRate int
}

// DefaultActivityParams returns parameters tuned for 8 kHz μ-law calls.
func DefaultActivityParams() ActivityParams {
	return ActivityParams{
		Threshold:  DefaultActivityThreshold,
		StartAfter: DefaultActivityStartAfter,
		StopAfter:  DefaultActivityStopAfter,
		Smoothing:  DefaultActivitySmoothing,
		SampleRate: SampleRate8kHz,
	}
}

// Validate checks that the parameters are usable.
func (p ActivityParams) Validate() error {
	if p.Threshold <= 0 || p.Threshold > 1 {
		return &ValidationError{Field: "Threshold", Message: "must be in (0, 1]"}
	}
	if p.StartAfter < 0 {
		return &ValidationError{Field: "StartAfter", Message: "must be non-negative"}
	}
	if p.StopAfter < 0 {
		return &ValidationError{Field: "StopAfter", Message: "must be non-negative"}
	}
	if p.Smoothing <= 0 || p.Smoothing > 1 {
		return &ValidationError{Field: "Smoothing", Message: "must be in (0, 1]"}
	}
	if p.SampleRate <= 0 {
		return &ValidationError{Field: "SampleRate", Message: "must be positive"}
	}
	return nil
}

// ValidationError reports an invalid parameter.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Message
}

// ActivityTransition is a change of caller speech state. Offsets are
// measured in audio time from the first analyzed sample, so results do not
// depend on network jitter.
type ActivityTransition struct {
	From ActivityState
	To   ActivityState
	// At is the audio offset of the transition.
	At time.Duration
	// InPrevious is how long the previous state lasted.
	InPrevious time.Duration
	// Level is the smoothed level that caused the transition.
	Level float64
}

// ActivityDetector tracks whether the caller is speaking from the RMS level
// of inbound audio. It only observes; it never gates what is forwarded.
type ActivityDetector struct {
	params ActivityParams

	mu         sync.Mutex
	state      ActivityState
	elapsed    time.Duration
	stateSince time.Duration
	level      float64
}

// NewActivityDetector creates a detector in the Quiet state.
func NewActivityDetector(params ActivityParams) (*ActivityDetector, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &ActivityDetector{params: params}, nil
}

// AnalyzeMulaw decodes one μ-law frame and analyzes it.
func (d *ActivityDetector) AnalyzeMulaw(frame []byte) (ActivityTransition, bool) {
	return d.Analyze(MulawToPCM16(frame))
}

// Analyze advances the detector by one block of linear samples and reports
// a transition when the state changed.
func (d *ActivityDetector) Analyze(samples []int16) (ActivityTransition, bool) {
	if len(samples) == 0 {
		return ActivityTransition{}, false
	}
	rms := blockRMS(samples)
	dur := time.Duration(len(samples)) * time.Second / time.Duration(d.params.SampleRate)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.level = d.params.Smoothing*rms + (1-d.params.Smoothing)*d.level
	d.elapsed += dur
	inState := d.elapsed - d.stateSince

	next := d.nextState(d.level >= d.params.Threshold, inState)
	if next == d.state {
		return ActivityTransition{}, false
	}
	tr := ActivityTransition{
		From:       d.state,
		To:         next,
		At:         d.elapsed,
		InPrevious: inState,
		Level:      d.level,
	}
	d.state = next
	d.stateSince = d.elapsed
	return tr, true
}

func (d *ActivityDetector) nextState(above bool, inState time.Duration) ActivityState {
	switch d.state {
	case ActivityQuiet:
		if above {
			return ActivityStarting
		}
	case ActivityStarting:
		if !above {
			return ActivityQuiet
		}
		if inState >= d.params.StartAfter {
			return ActivitySpeaking
		}
	case ActivitySpeaking:
		if !above {
			return ActivityStopping
		}
	case ActivityStopping:
		if above {
			return ActivitySpeaking
		}
		if inState >= d.params.StopAfter {
			return ActivityQuiet
		}
	}
	return d.state
}

// State returns the current state.
func (d *ActivityDetector) State() ActivityState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Level returns the current smoothed level.
func (d *ActivityDetector) Level() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.level
}

// Reset returns the detector to Quiet at offset zero.
func (d *ActivityDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = ActivityQuiet
	d.elapsed = 0
	d.stateSince = 0
	d.level = 0
}

func blockRMS(samples []int16) float64 {
	var sum float64
	for _, s := range samples {
		x := float64(s) / pcmFullScale
		sum += x * x
	}
	return math.Sqrt(sum / float64(len(samples)))
}
