package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/AltairaLabs/VoiceRelay/pkg/errors"
	"github.com/AltairaLabs/VoiceRelay/runtime/audio"
	"github.com/AltairaLabs/VoiceRelay/runtime/events"
)

func fastSpeakerConfig() SpeakerConfig {
	cfg := DefaultSpeakerConfig()
	cfg.Pacer.FrameDuration = time.Millisecond
	return cfg
}

func TestSpeaker_FramesAndMark(t *testing.T) {
	tel := newFakeTelephony()
	synth := newFakeSynth()
	synth.chunks = 1
	synth.chunkSize = 1000 // 333 bytes at 8 kHz: two full frames and a padded tail

	sp := NewSpeaker(synth, tel, fastSpeakerConfig(), nil)
	turn := &Turn{ID: "t1", Started: time.Now()}
	res, err := sp.Speak(context.Background(), turn, "MZ1", "bonjour")
	require.NoError(t, err)

	assert.Equal(t, 3, res.Frames)
	media := tel.sentMedia()
	require.Len(t, media, 3)
	tail := media[2].payload
	require.Len(t, tail, 160)
	assert.Equal(t, audio.MulawSilence, tail[len(tail)-1], "tail is padded with μ-law silence")
	assert.Equal(t, []string{"reply-t1"}, tel.sentMarks())
}

func TestSpeaker_NoMarkWhenDisabled(t *testing.T) {
	tel := newFakeTelephony()
	cfg := fastSpeakerConfig()
	cfg.Mark = false

	_, err := NewSpeaker(newFakeSynth(), tel, cfg, nil).Speak(context.Background(), nil, "MZ1", "x")
	require.NoError(t, err)
	assert.Empty(t, tel.sentMarks())
	assert.Equal(t, 50, tel.mediaCount())
}

func TestSpeaker_NoAudio(t *testing.T) {
	tel := newFakeTelephony()
	synth := newFakeSynth()
	synth.chunks = 0

	_, err := NewSpeaker(synth, tel, fastSpeakerConfig(), nil).Speak(context.Background(), nil, "MZ1", "x")
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, events.StageSynthesis, se.Stage)
	assert.ErrorIs(t, err, ErrNoAudio)
	assert.Zero(t, tel.mediaCount())
}

func TestSpeaker_OverallTimeout(t *testing.T) {
	tel := newFakeTelephony()
	synth := newFakeSynth()
	synth.firstDelay = time.Second
	cfg := fastSpeakerConfig()
	cfg.FirstAudioTimeout = 0
	cfg.Timeout = 30 * time.Millisecond

	_, err := NewSpeaker(synth, tel, cfg, nil).Speak(context.Background(), nil, "MZ1", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrTimeout)
	assert.Zero(t, tel.mediaCount())
}

func TestSpeaker_CancelStopsPlayback(t *testing.T) {
	tel := newFakeTelephony()
	cfg := fastSpeakerConfig()
	cfg.Pacer.FrameDuration = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for tel.mediaCount() < 3 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	res, err := NewSpeaker(newFakeSynth(), tel, cfg, nil).Speak(ctx, nil, "MZ1", "x")
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, events.StagePlayback, se.Stage)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, res.Frames, 50)
	assert.Equal(t, res.Frames, tel.mediaCount())
	assert.Empty(t, tel.sentMarks())
}
