package audio

import (
	"encoding/binary"
	"math"
	"math/bits"
)

// G.711 μ-law constants.
const (
	mulawBias = 0x84
	mulawClip = 32635

	// MulawSilence is the μ-law encoding of a zero-amplitude sample.
	MulawSilence byte = 0xFF
)

const bytesPerSample = 2

// FloatToPCM16 converts normalized float samples to 16-bit linear PCM.
// Samples are clamped to [-1, 1] and scaled by 32767; NaN becomes 0.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		x := float64(s)
		switch {
		case math.IsNaN(x):
			x = 0
		case x > 1:
			x = 1
		case x < -1:
			x = -1
		}
		out[i] = int16(math.Round(x * math.MaxInt16))
	}
	return out
}

// PCM16ToMulaw companders 16-bit linear PCM to 8-bit G.711 μ-law.
func PCM16ToMulaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = LinearToMulaw(s)
	}
	return out
}

// MulawToPCM16 expands 8-bit G.711 μ-law to 16-bit linear PCM.
func MulawToPCM16(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = MulawToLinear(b)
	}
	return out
}

// LinearToMulaw encodes a single sample.
func LinearToMulaw(sample int16) byte {
	v := int(sample)
	sign := (v >> 8) & 0x80
	if sign != 0 {
		v = -v
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias

	exponent := bits.Len8(uint8(v>>7)) - 1
	if exponent < 0 {
		exponent = 0
	}
	mantissa := (v >> (exponent + 3)) & 0x0F

	return ^byte(sign | exponent<<4 | mantissa)
}

// MulawToLinear decodes a single μ-law byte.
func MulawToLinear(b byte) int16 {
	u := ^b
	exponent := (u >> 4) & 0x07
	mantissa := int(u & 0x0F)

	t := ((mantissa << 3) + mulawBias) << exponent
	if u&0x80 != 0 {
		return int16(mulawBias - t)
	}
	return int16(t - mulawBias)
}

// PCM16ToBytes serializes samples as little-endian 16-bit PCM.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		//nolint:gosec // PCM16 stored as two's complement
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(s))
	}
	return out
}

// BytesToPCM16 parses little-endian 16-bit PCM. A trailing odd byte is ignored.
func BytesToPCM16(data []byte) []int16 {
	out := make([]int16, len(data)/bytesPerSample)
	for i := range out {
		//nolint:gosec // PCM16 stored as two's complement
		out[i] = int16(binary.LittleEndian.Uint16(data[i*bytesPerSample:]))
	}
	return out
}

// EncodeTelephony converts synthesized float samples at fromRate into 8 kHz
// μ-law bytes ready for framing.
func EncodeTelephony(samples []float32, fromRate int) ([]byte, error) {
	pcm := FloatToPCM16(samples)
	if fromRate != SampleRate8kHz {
		r, err := NewResampler(fromRate, SampleRate8kHz)
		if err != nil {
			return nil, err
		}
		pcm = r.Resample(pcm)
	}
	return PCM16ToMulaw(pcm), nil
}
