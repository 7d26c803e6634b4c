// Package audio converts synthesized speech into telephony wire audio.
//
// The reply path runs in three stages:
//
//  1. Codec: FloatToPCM16 scales float samples, PCM16ToMulaw compands to G.711 μ-law.
//  2. Rate conversion: Resampler is a polyphase windowed-sinc filter; it
//     low-passes before decimating so content above the target Nyquist does
//     not alias into the call.
//  3. Pacing: Pacer slices the μ-law bytes into fixed-size frames and emits
//     them at frame-duration cadence.
//
// On the inbound side ActivityDetector decodes caller μ-law frames and tracks
// speech segments from their smoothed RMS level. It observes only.
//
// # Usage Example
//
//	mulaw, err := audio.EncodeTelephony(samples, audio.SampleRate24kHz)
//	if err != nil {
//	    return err
//	}
//	pacer := audio.NewPacer(audio.DefaultPacerConfig())
//	_, err = pacer.Pace(ctx, mulaw, func(f audio.Frame) error {
//	    return conn.WriteMedia(f.Payload)
//	})
package audio
