// Package stt provides streaming speech-to-text for live calls.
//
// A Service opens a Stream per call. Audio frames are written with Send
// exactly as they arrive from the telephony side; recognition results are
// read from Events. Interim results may be revised, final results are not.
//
// # Usage
//
//	service := stt.NewDeepgram(os.Getenv("DEEPGRAM_API_KEY"))
//	stream, err := service.Open(ctx, stt.DefaultStreamConfig())
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//
//	go func() {
//	    for frame := range frames {
//	        _ = stream.Send(frame)
//	    }
//	}()
//	for ev := range stream.Events() {
//	    if ev.IsFinal {
//	        fmt.Println("caller said:", ev.Transcript)
//	    }
//	}
//
// # Available Providers
//
//   - Deepgram live streaming (nova-2)
package stt
