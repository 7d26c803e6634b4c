package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/VoiceRelay/runtime/stt"
)

type observed struct {
	interim []string
	final   []string
	errs    []error
}

func (o *observed) OnInterim(u Utterance)       { o.interim = append(o.interim, u.Text) }
func (o *observed) OnFinal(u Utterance)         { o.final = append(o.final, u.Text) }
func (o *observed) OnTranscriptError(err error) { o.errs = append(o.errs, err) }

type failingTranscript struct{ err error }

func (f failingTranscript) Append(string) error { return f.err }
func (f failingTranscript) Close() error        { return nil }

func TestAssembler_FinalsOnly(t *testing.T) {
	obs := &observed{}
	a := NewAssembler(nil, obs)

	_, ok := a.Accept(stt.Event{Transcript: "bon", IsFinal: false})
	assert.False(t, ok)

	_, ok = a.Accept(stt.Event{Transcript: "", IsFinal: true})
	assert.False(t, ok)

	u, ok := a.Accept(stt.Event{Transcript: "bonjour", IsFinal: true, Confidence: 0.8})
	require.True(t, ok)
	assert.Equal(t, "bonjour", u.Text)
	assert.True(t, u.Final)
	assert.InDelta(t, 0.8, u.Confidence, 1e-9)
	assert.False(t, u.Received.IsZero())

	assert.Equal(t, []string{"bon"}, obs.interim)
	assert.Equal(t, []string{"bonjour"}, obs.final)
}

func TestAssembler_AppendsBeforeReturning(t *testing.T) {
	dir := t.TempDir()
	tr, err := OpenTranscript(dir, "S1")
	require.NoError(t, err)

	a := NewAssembler(nil, nil)
	a.SetTranscript(tr)
	_, ok := a.Accept(stt.Event{Transcript: "un", IsFinal: true})
	require.True(t, ok)

	// Visible before the transcript is closed.
	content, err := os.ReadFile(filepath.Join(dir, "S1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "un\n", string(content))
	require.NoError(t, tr.Close())
}

func TestAssembler_TranscriptErrorDoesNotDropUtterance(t *testing.T) {
	obs := &observed{}
	boom := errors.New("disk full")
	a := NewAssembler(failingTranscript{err: boom}, obs)

	u, ok := a.Accept(stt.Event{Transcript: "allo", IsFinal: true})
	require.True(t, ok)
	assert.Equal(t, "allo", u.Text)
	require.Len(t, obs.errs, 1)
	assert.ErrorIs(t, obs.errs[0], boom)
}
