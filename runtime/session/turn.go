package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/AltairaLabs/VoiceRelay/pkg/errors"
	"github.com/AltairaLabs/VoiceRelay/runtime/events"
	"github.com/AltairaLabs/VoiceRelay/runtime/logger"
)

// TurnState is the coordinator's position in the reply cycle.
type TurnState int

// Turn states.
const (
	TurnIdle TurnState = iota
	TurnGenerating
	TurnSpeaking
)

func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnGenerating:
		return "generating"
	case TurnSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// BusyPolicy decides what happens to a final utterance that arrives while a
// turn is in flight.
type BusyPolicy string

// Busy policies.
const (
	// BusyDrop rejects the utterance.
	BusyDrop BusyPolicy = "drop"
	// BusyQueue holds one utterance and starts it when the coordinator is idle.
	BusyQueue BusyPolicy = "queue"
)

// Reasons reported when an utterance is dropped.
const (
	dropReasonBusy      = "busy"
	dropReasonQueueFull = "queue_full"
	dropReasonClosed    = "closed"
)

// Turn is one reply cycle, from closed utterance to reply fully spoken.
type Turn struct {
	ID        string
	Utterance Utterance
	Started   time.Time

	ctx    context.Context //nolint:containedctx // turn-scoped cancellation
	cancel context.CancelFunc
}

// Context returns the turn's cancellation context.
func (t *Turn) Context() context.Context {
	return t.ctx
}

// SpeakResult reports what the reply path did.
type SpeakResult struct {
	Frames    int
	Synthesis time.Duration
	Playback  time.Duration
}

// StageError tags a turn failure with the stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// GenerateFunc produces the reply text for a turn.
type GenerateFunc func(ctx context.Context, t *Turn) (string, error)

// SpeakFunc synthesizes and plays a reply. The result is meaningful on error.
type SpeakFunc func(ctx context.Context, t *Turn, reply string) (SpeakResult, error)

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	Policy   BusyPolicy
	Generate GenerateFunc
	Speak    SpeakFunc
	Emitter  *events.Emitter
}

// Coordinator runs the per-call turn state machine
// Idle → Generating → Speaking → Idle with at most one turn in flight.
type Coordinator struct {
	cfg    CoordinatorConfig
	ctx    context.Context //nolint:containedctx // parent of every turn
	cancel context.CancelFunc

	mu      sync.Mutex
	state   TurnState
	current *Turn
	pending *Utterance
	closed  bool
	turns   int
	idle    chan struct{} // closed while Idle with nothing pending

	wg sync.WaitGroup
}

// NewCoordinator creates an idle coordinator. Turns run under ctx.
func NewCoordinator(ctx context.Context, cfg CoordinatorConfig) *Coordinator {
	if cfg.Policy == "" {
		cfg.Policy = BusyDrop
	}
	ctx, cancel := context.WithCancel(ctx)
	idle := make(chan struct{})
	close(idle)
	return &Coordinator{cfg: cfg, ctx: ctx, cancel: cancel, idle: idle}
}

// State returns the current state.
func (c *Coordinator) State() TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Turns returns the number of turns started.
func (c *Coordinator) Turns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turns
}

// Idle returns a channel that is closed once the coordinator is idle with
// no queued utterance.
func (c *Coordinator) Idle() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idle
}

// Submit offers a closed utterance. It starts a turn only from Idle; while
// busy the utterance is dropped or queued per policy. It returns true if the
// utterance started a turn or was queued.
func (c *Coordinator) Submit(u Utterance) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.cfg.Emitter.UtteranceDropped(u.Text, dropReasonClosed)
		return false
	}

	if c.state != TurnIdle {
		if c.cfg.Policy == BusyQueue && c.pending == nil {
			c.pending = &u
			c.mu.Unlock()
			c.cfg.Emitter.UtteranceQueued(u.Text)
			logger.Debug("Utterance queued", "state", c.state.String())
			return true
		}
		reason := dropReasonBusy
		if c.cfg.Policy == BusyQueue {
			reason = dropReasonQueueFull
		}
		state := c.state
		c.mu.Unlock()
		c.cfg.Emitter.UtteranceDropped(u.Text, reason)
		logger.Info("Utterance dropped, turn in flight", "state", state.String(), "reason", reason)
		return false
	}

	t := c.beginLocked(u)
	c.wg.Add(1)
	c.mu.Unlock()

	c.announce(t)
	go c.run(t)
	return true
}

// beginLocked moves Idle → Generating. Caller holds mu.
func (c *Coordinator) beginLocked(u Utterance) *Turn {
	ctx, cancel := context.WithCancel(c.ctx)
	t := &Turn{
		ID:        uuid.New().String(),
		Utterance: u,
		Started:   time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.state = TurnGenerating
	c.current = t
	c.turns++
	if c.isIdleChanClosed() {
		c.idle = make(chan struct{})
	}
	return t
}

func (c *Coordinator) isIdleChanClosed() bool {
	select {
	case <-c.idle:
		return true
	default:
		return false
	}
}

func (c *Coordinator) announce(t *Turn) {
	c.cfg.Emitter.TurnStarted(t.ID, t.Utterance.Text)
	c.reportTransition(t, TurnIdle, TurnGenerating)
}

func (c *Coordinator) reportTransition(t *Turn, from, to TurnState) {
	c.cfg.Emitter.TurnStateChanged(t.ID, from.String(), to.String())
	logger.TurnTransition(logger.WithTurnID(t.ctx, t.ID), from.String(), to.String())
}

// run executes turns until the coordinator is idle with nothing queued.
func (c *Coordinator) run(t *Turn) {
	defer c.wg.Done()
	for t != nil {
		c.execute(t)
		t.cancel()

		c.mu.Lock()
		from := c.state
		c.state = TurnIdle
		c.current = nil
		var next *Turn
		if c.pending != nil && !c.closed {
			u := *c.pending
			c.pending = nil
			next = c.beginLocked(u)
		} else {
			c.pending = nil
			if !c.isIdleChanClosed() {
				close(c.idle)
			}
		}
		c.mu.Unlock()

		c.reportTransition(t, from, TurnIdle)
		if next != nil {
			c.announce(next)
		}
		t = next
	}
}

func (c *Coordinator) execute(t *Turn) {
	ctx := logger.WithTurnID(t.ctx, t.ID)

	genStart := time.Now()
	reply, err := c.cfg.Generate(ctx, t)
	genDuration := time.Since(genStart)
	if err != nil {
		c.fail(t, events.StageGeneration, err, 0)
		return
	}

	if !c.transition(t, TurnGenerating, TurnSpeaking) {
		c.fail(t, events.StageGeneration, context.Canceled, 0)
		return
	}

	res, err := c.cfg.Speak(ctx, t, reply)
	if err != nil {
		c.fail(t, events.StageSynthesis, err, res.Frames)
		return
	}

	c.cfg.Emitter.TurnCompleted(t.ID, events.TurnCompletedData{
		Duration: time.Since(t.Started),
		Frames:   res.Frames,
		Stages: map[string]time.Duration{
			events.StageGeneration: genDuration,
			events.StageSynthesis:  res.Synthesis,
			events.StagePlayback:   res.Playback,
		},
	})
	logger.InfoContext(ctx, "Turn completed", "frames", res.Frames, "duration", time.Since(t.Started))
}

// transition moves between non-idle states unless the turn was cancelled.
func (c *Coordinator) transition(t *Turn, from, to TurnState) bool {
	c.mu.Lock()
	if c.current != t || c.state != from || t.ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	c.state = to
	c.mu.Unlock()
	c.reportTransition(t, from, to)
	return true
}

func (c *Coordinator) fail(t *Turn, stage string, err error, frames int) {
	var se *StageError
	if errors.As(err, &se) {
		stage = se.Stage
	}
	timeout := isTimeout(err)
	cancelled := errors.Is(err, context.Canceled)
	c.cfg.Emitter.TurnFailed(t.ID, events.TurnFailedData{
		Stage:     stage,
		Error:     err,
		Timeout:   timeout,
		Cancelled: cancelled,
		Duration:  time.Since(t.Started),
		Frames:    frames,
	})

	ctx := logger.WithStage(logger.WithTurnID(t.ctx, t.ID), stage)
	switch {
	case cancelled:
		logger.DebugContext(ctx, "Turn cancelled", "frames", frames)
	case timeout:
		logger.WarnContext(ctx, "Turn timed out", "error", err, "frames", frames)
	default:
		logger.ErrorContext(ctx, "Turn failed", "error", err, "frames", frames)
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, pkgerrors.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// Close cancels the active turn, discards any queued utterance, and waits
// for the turn goroutine to exit. After Close returns no further audio is
// emitted and Submit rejects everything. Safe to call multiple times.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.pending = nil
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
