// Package tts provides streaming text-to-speech for spoken replies.
//
// A StreamingService turns a reply into a channel of AudioChunk values
// carrying float PCM at the service's SampleRate. The caller converts the
// samples to the telephony format; see audio.EncodeTelephony.
//
// # Usage
//
//	svc := tts.NewKyutai(apiKey, tts.WithKyutaiURL(url))
//	chunks, err := svc.SynthesizeStream(ctx, "Bonjour", tts.DefaultSynthesisConfig())
//	if err != nil {
//	    return err
//	}
//	for chunk := range chunks {
//	    if chunk.Final {
//	        return chunk.Error
//	    }
//	    pcm = append(pcm, chunk.Samples...)
//	}
//
// # Kyutai protocol
//
// One websocket is opened per request. The client sends msgpack Text
// messages followed by Eos; the server answers with Audio messages whose
// pcm field holds float samples, then Done. A server Error message fails
// the request.
package tts
