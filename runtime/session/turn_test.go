package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/VoiceRelay/runtime/events"
)

// blockingTurns records generated utterances and holds each turn in
// Generating until released.
type blockingTurns struct {
	release chan struct{}

	mu    sync.Mutex
	calls []string
	spoke []string
}

func newBlockingTurns() *blockingTurns {
	return &blockingTurns{release: make(chan struct{})}
}

func (b *blockingTurns) generate(ctx context.Context, t *Turn) (string, error) {
	b.mu.Lock()
	b.calls = append(b.calls, t.Utterance.Text)
	b.mu.Unlock()
	select {
	case <-b.release:
		return "reply " + t.Utterance.Text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *blockingTurns) speak(_ context.Context, _ *Turn, reply string) (SpeakResult, error) {
	b.mu.Lock()
	b.spoke = append(b.spoke, reply)
	b.mu.Unlock()
	return SpeakResult{Frames: 3}, nil
}

func (b *blockingTurns) generated() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *blockingTurns) spoken() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.spoke...)
}

func waitIdle(t *testing.T, c *Coordinator) {
	t.Helper()
	select {
	case <-c.Idle():
	case <-time.After(waitFor):
		t.Fatal("coordinator never went idle")
	}
}

func TestTurnState_String(t *testing.T) {
	assert.Equal(t, "idle", TurnIdle.String())
	assert.Equal(t, "generating", TurnGenerating.String())
	assert.Equal(t, "speaking", TurnSpeaking.String())
	assert.Equal(t, "unknown", TurnState(9).String())
}

func TestCoordinator_RunsTurnToIdle(t *testing.T) {
	bus := events.NewEventBus()
	rec := newRecorder(bus)
	b := newBlockingTurns()
	close(b.release)

	c := NewCoordinator(context.Background(), CoordinatorConfig{
		Generate: b.generate,
		Speak:    b.speak,
		Emitter:  events.NewEmitter(bus, "s1"),
	})
	defer c.Close()

	require.True(t, c.Submit(Utterance{Text: "hello", Final: true}))
	waitIdle(t, c)

	assert.Equal(t, TurnIdle, c.State())
	assert.Equal(t, 1, c.Turns())
	assert.Equal(t, []string{"reply hello"}, b.spoken())

	bus.Close()
	var path []string
	for _, e := range rec.ofType(events.EventTurnStateChanged) {
		d := e.Data.(events.TurnStateChangedData)
		path = append(path, d.From+">"+d.To)
	}
	assert.Equal(t, []string{"idle>generating", "generating>speaking", "speaking>idle"}, path)

	completed := rec.ofType(events.EventTurnCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, 3, completed[0].Data.(events.TurnCompletedData).Frames)
}

func TestCoordinator_DefaultPolicyDrops(t *testing.T) {
	b := newBlockingTurns()
	c := NewCoordinator(context.Background(), CoordinatorConfig{Generate: b.generate, Speak: b.speak})
	defer c.Close()

	require.True(t, c.Submit(Utterance{Text: "one"}))
	assert.Equal(t, TurnGenerating, c.State())
	assert.False(t, c.Submit(Utterance{Text: "two"}))

	close(b.release)
	waitIdle(t, c)
	assert.Equal(t, []string{"one"}, b.generated())
}

func TestCoordinator_QueueHoldsOne(t *testing.T) {
	b := newBlockingTurns()
	c := NewCoordinator(context.Background(), CoordinatorConfig{
		Policy:   BusyQueue,
		Generate: b.generate,
		Speak:    b.speak,
	})
	defer c.Close()

	require.True(t, c.Submit(Utterance{Text: "one"}))
	assert.True(t, c.Submit(Utterance{Text: "two"}))
	assert.False(t, c.Submit(Utterance{Text: "three"}))

	close(b.release)
	waitIdle(t, c)
	assert.Equal(t, []string{"one", "two"}, b.generated())
	assert.Equal(t, 2, c.Turns())
}

func TestCoordinator_FailureReturnsToIdle(t *testing.T) {
	bus := events.NewEventBus()
	rec := newRecorder(bus)
	boom := errors.New("upstream 500")
	c := NewCoordinator(context.Background(), CoordinatorConfig{
		Generate: func(context.Context, *Turn) (string, error) { return "", boom },
		Speak: func(context.Context, *Turn, string) (SpeakResult, error) {
			t.Error("speak must not run after a failed generation")
			return SpeakResult{}, nil
		},
		Emitter: events.NewEmitter(bus, "s1"),
	})
	defer c.Close()

	require.True(t, c.Submit(Utterance{Text: "one"}))
	waitIdle(t, c)
	bus.Close()

	failed := rec.ofType(events.EventTurnFailed)
	require.Len(t, failed, 1)
	d := failed[0].Data.(events.TurnFailedData)
	assert.Equal(t, events.StageGeneration, d.Stage)
	assert.ErrorIs(t, d.Error, boom)
	assert.False(t, d.Timeout)
}

func TestCoordinator_StageErrorSetsStage(t *testing.T) {
	bus := events.NewEventBus()
	rec := newRecorder(bus)
	c := NewCoordinator(context.Background(), CoordinatorConfig{
		Generate: func(context.Context, *Turn) (string, error) { return "hi", nil },
		Speak: func(context.Context, *Turn, string) (SpeakResult, error) {
			return SpeakResult{Frames: 7}, &StageError{Stage: events.StagePlayback, Err: context.DeadlineExceeded}
		},
		Emitter: events.NewEmitter(bus, "s1"),
	})
	defer c.Close()

	c.Submit(Utterance{Text: "one"})
	waitIdle(t, c)
	bus.Close()

	failed := rec.ofType(events.EventTurnFailed)
	require.Len(t, failed, 1)
	d := failed[0].Data.(events.TurnFailedData)
	assert.Equal(t, events.StagePlayback, d.Stage)
	assert.Equal(t, 7, d.Frames)
	assert.True(t, d.Timeout)
}

func TestCoordinator_CloseCancelsTurn(t *testing.T) {
	b := newBlockingTurns()
	c := NewCoordinator(context.Background(), CoordinatorConfig{
		Policy:   BusyQueue,
		Generate: b.generate,
		Speak:    b.speak,
	})

	require.True(t, c.Submit(Utterance{Text: "one"}))
	require.True(t, c.Submit(Utterance{Text: "two"}))

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Close did not return")
	}

	assert.Empty(t, b.spoken())
	assert.Equal(t, []string{"one"}, b.generated(), "queued utterance is discarded")
	assert.Equal(t, TurnIdle, c.State())
	assert.False(t, c.Submit(Utterance{Text: "three"}))
	c.Close()
}

func TestStageError(t *testing.T) {
	inner := errors.New("socket closed")
	err := &StageError{Stage: events.StageSynthesis, Err: inner}
	assert.Equal(t, "synthesis: socket closed", err.Error())
	assert.ErrorIs(t, err, inner)
}
