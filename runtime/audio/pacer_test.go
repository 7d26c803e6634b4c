package audio

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSplit(t *testing.T) {
	data := make([]byte, 3217)
	for i := range data {
		data[i] = 0x55
	}

	chunks := Split(data, 160, 0)
	if len(chunks) != 21 {
		t.Fatalf("got %d chunks, want 21", len(chunks))
	}
	for i, c := range chunks {
		if len(c) != 160 {
			t.Fatalf("chunk %d has %d bytes", i, len(c))
		}
	}
	last := chunks[20]
	for i := 0; i < 17; i++ {
		if last[i] != 0x55 {
			t.Fatalf("tail byte %d = 0x%02X, want data", i, last[i])
		}
	}
	for i := 17; i < 160; i++ {
		if last[i] != 0 {
			t.Fatalf("tail byte %d = 0x%02X, want zero padding", i, last[i])
		}
	}
}

func TestSplit_Empty(t *testing.T) {
	if chunks := Split(nil, 160, 0); len(chunks) != 0 {
		t.Errorf("expected no chunks, got %d", len(chunks))
	}
}

func TestSplit_CustomPad(t *testing.T) {
	chunks := Split([]byte{1}, 4, MulawSilence)
	if len(chunks) != 1 || chunks[0][3] != MulawSilence {
		t.Errorf("unexpected chunks %v", chunks)
	}
}

func TestPacer_Frames(t *testing.T) {
	p := NewPacer(DefaultPacerConfig())
	frames := p.Frames(make([]byte, 320))

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	f := frames[1]
	if f.Seq != 1 || f.Encoding != EncodingMulaw || f.SampleRate != 8000 || f.Channels != 1 {
		t.Errorf("unexpected frame metadata %+v", f)
	}
}

func TestPacer_Pace(t *testing.T) {
	p := NewPacer(DefaultPacerConfig())
	data := make([]byte, 3217)

	var emitted []Frame
	var times []time.Time
	start := time.Now()
	n, err := p.Pace(context.Background(), data, func(f Frame) error {
		emitted = append(emitted, f)
		times = append(times, time.Now())
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 21 || len(emitted) != 21 {
		t.Fatalf("emitted %d frames (returned %d), want 21", len(emitted), n)
	}
	for i, f := range emitted {
		if len(f.Payload) != 160 {
			t.Errorf("frame %d has %d bytes", i, len(f.Payload))
		}
		if f.Seq != i {
			t.Errorf("frame %d has seq %d", i, f.Seq)
		}
	}

	want := 21 * DefaultFrameDuration
	if elapsed < want-DefaultFrameDuration || elapsed > want+DefaultFrameDuration {
		t.Errorf("pacing took %v, want %v ± %v", elapsed, want, DefaultFrameDuration)
	}

	// Frames are spread over time, not burst.
	if spread := times[20].Sub(times[0]); spread < 19*DefaultFrameDuration {
		t.Errorf("frames spread over %v, want at least %v", spread, 19*DefaultFrameDuration)
	}
}

func TestPacer_Cancel(t *testing.T) {
	p := NewPacer(DefaultPacerConfig())
	ctx, cancel := context.WithCancel(context.Background())

	count := 0
	n, err := p.Pace(ctx, make([]byte, 160*50), func(Frame) error {
		count++
		if count == 3 {
			cancel()
		}
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n != 3 || count != 3 {
		t.Errorf("emitted %d (returned %d), want 3", count, n)
	}
}

func TestWaitUntil_CancelledContextWins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, offset := range []time.Duration{-time.Millisecond, 0, time.Microsecond, time.Millisecond} {
		timer := time.NewTimer(0)
		<-timer.C
		err := waitUntil(ctx, timer, time.Now().Add(offset))
		timer.Stop()
		if !errors.Is(err, context.Canceled) {
			t.Errorf("offset %v: expected context.Canceled, got %v", offset, err)
		}
	}
}

func TestPacer_EmitError(t *testing.T) {
	p := NewPacer(PacerConfig{FrameSize: 10, FrameDuration: time.Millisecond})
	boom := errors.New("closed")

	n, err := p.Pace(context.Background(), make([]byte, 100), func(f Frame) error {
		if f.Seq == 2 {
			return boom
		}
		return nil
	})

	if !errors.Is(err, boom) {
		t.Fatalf("expected emit error, got %v", err)
	}
	if n != 2 {
		t.Errorf("returned %d, want 2", n)
	}
}

func TestPacer_EmptyInput(t *testing.T) {
	p := NewPacer(PacerConfig{})
	n, err := p.Pace(context.Background(), nil, func(Frame) error {
		t.Fatal("emit called for empty input")
		return nil
	})
	if err != nil || n != 0 {
		t.Errorf("got (%d, %v), want (0, nil)", n, err)
	}
	if p.Config().FrameSize != DefaultFrameSize {
		t.Errorf("default frame size not applied")
	}
}
