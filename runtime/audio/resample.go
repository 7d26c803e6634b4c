package audio

import (
	"fmt"
	"math"
)

// Standard audio sample rates for common use cases.
const (
	SampleRate24kHz = 24000 // Common TTS output rate
	SampleRate8kHz  = 8000  // Telephony (G.711)
)

const (
	// zeroCrossings is the number of sinc zero crossings kept on each side of
	// the kernel centre, measured at the filter cutoff.
	zeroCrossings = 16

	// cutoffRatio places the low-pass cutoff just below the lower Nyquist
	// frequency.
	cutoffRatio = 0.95
)

// Resampler is a polyphase windowed-sinc rational resampler.
//
// The conversion ratio is reduced to up/down. Each of the up phases owns a
// Blackman-windowed sinc kernel low-passed at cutoffRatio times the lower of
// the two Nyquist frequencies and normalized to unity DC gain. A Resampler is
// immutable after construction and safe for concurrent use.
type Resampler struct {
	fromRate int
	toRate   int
	up       int
	down     int
	half     int
	kernels  [][]float64
}

// NewResampler builds a resampler converting fromRate to toRate.
func NewResampler(fromRate, toRate int) (*Resampler, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: from=%d, to=%d", fromRate, toRate)
	}

	g := gcd(fromRate, toRate)
	r := &Resampler{
		fromRate: fromRate,
		toRate:   toRate,
		up:       toRate / g,
		down:     fromRate / g,
	}
	if r.up == r.down {
		return r, nil
	}

	cutoff := math.Min(1, float64(r.up)/float64(r.down)) * cutoffRatio
	r.half = int(math.Ceil(zeroCrossings / cutoff))
	r.kernels = make([][]float64, r.up)
	for p := 0; p < r.up; p++ {
		r.kernels[p] = buildKernel(r.half, cutoff, float64(p)/float64(r.up))
	}
	return r, nil
}

// buildKernel returns 2*half taps for input offsets -(half-1)..half relative
// to the sample preceding the output instant, which lies frac samples later.
func buildKernel(half int, cutoff, frac float64) []float64 {
	taps := make([]float64, 2*half)
	span := float64(half)
	var sum float64
	for i := range taps {
		tau := float64(i-half+1) - frac
		taps[i] = cutoff * sinc(cutoff*tau) * blackman(tau, span)
		sum += taps[i]
	}
	for i := range taps {
		taps[i] /= sum
	}
	return taps
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

// blackman evaluates a Blackman window of half-width span centred on zero.
func blackman(tau, span float64) float64 {
	if math.Abs(tau) > span {
		return 0
	}
	x := math.Pi * tau / span
	return 0.42 + 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// OutputLength returns round(n * toRate / fromRate).
func (r *Resampler) OutputLength(n int) int {
	return (2*n*r.up + r.down) / (2 * r.down)
}

// Resample converts samples. Input outside the buffer is treated as zero.
func (r *Resampler) Resample(samples []int16) []int16 {
	if r.up == r.down {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}

	n := len(samples)
	out := make([]int16, r.OutputLength(n))
	for k := range out {
		pos := k * r.down
		base := pos / r.up
		kernel := r.kernels[pos%r.up]

		var acc float64
		for i, w := range kernel {
			idx := base + i - r.half + 1
			if idx < 0 || idx >= n {
				continue
			}
			acc += w * float64(samples[idx])
		}
		out[k] = clampPCM16(acc)
	}
	return out
}

func clampPCM16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Resample converts 16-bit samples from one rate to another.
func Resample(samples []int16, fromRate, toRate int) ([]int16, error) {
	r, err := NewResampler(fromRate, toRate)
	if err != nil {
		return nil, err
	}
	return r.Resample(samples), nil
}

// ResamplePCM16 resamples PCM16 audio data from one sample rate to another.
// Input and output are little-endian 16-bit signed PCM samples.
func ResamplePCM16(input []byte, fromRate, toRate int) ([]byte, error) {
	if len(input)%bytesPerSample != 0 {
		return nil, fmt.Errorf("input length %d is not a multiple of %d bytes per sample", len(input), bytesPerSample)
	}
	out, err := Resample(BytesToPCM16(input), fromRate, toRate)
	if err != nil {
		return nil, err
	}
	return PCM16ToBytes(out), nil
}
