// Package telephony implements the Twilio Media Streams protocol: JSON
// events carrying base64 μ-law 8 kHz audio over a websocket.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	pkgerrors "github.com/AltairaLabs/VoiceRelay/pkg/errors"
)

// Inbound and outbound event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
	EventStop      = "stop"
)

// Event is one Media Streams message. Exactly one of the payload pointers
// matching Event is set on decoded inbound events.
type Event struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	StreamSid      string `json:"streamSid,omitempty"`

	// connected
	Protocol string `json:"protocol,omitempty"`
	Version  string `json:"version,omitempty"`

	Start *StartInfo `json:"start,omitempty"`
	Media *MediaInfo `json:"media,omitempty"`
	Mark  *MarkInfo  `json:"mark,omitempty"`
	DTMF  *DTMFInfo  `json:"dtmf,omitempty"`
	Stop  *StopInfo  `json:"stop,omitempty"`

	// Audio is the decoded media payload. Not serialized.
	Audio []byte `json:"-"`
}

// StartInfo describes the stream at start.
type StartInfo struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

// MediaFormat describes inbound audio.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaInfo carries one audio chunk. Outbound media only sets Payload.
type MediaInfo struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// MarkInfo names a playback mark.
type MarkInfo struct {
	Name string `json:"name"`
}

// DTMFInfo carries a key press.
type DTMFInfo struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

// StopInfo identifies the stopped call.
type StopInfo struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// DecodeEvent parses one inbound message. Media payloads are base64-decoded
// into Audio. Every failure is a decode-kind error; the stream is expected
// to drop the message and continue.
func DecodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, pkgerrors.Decode("telephony", "DecodeEvent", err)
	}
	if ev.Event == "" {
		return nil, pkgerrors.Decode("telephony", "DecodeEvent", errors.New("missing event field"))
	}

	switch ev.Event {
	case EventStart:
		if ev.Start == nil {
			return nil, pkgerrors.Decode("telephony", "DecodeEvent", errors.New("start event without start block"))
		}
		if ev.StreamSid == "" {
			ev.StreamSid = ev.Start.StreamSid
		}
	case EventMedia:
		if ev.Media == nil {
			return nil, pkgerrors.Decode("telephony", "DecodeEvent", errors.New("media event without media block"))
		}
		audio, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
		if err != nil {
			return nil, pkgerrors.Decode("telephony", "DecodeEvent", fmt.Errorf("media payload: %w", err))
		}
		ev.Audio = audio
	}
	return &ev, nil
}

// EncodeMedia builds an outbound media event for one audio frame.
func EncodeMedia(streamSid string, payload []byte) ([]byte, error) {
	return json.Marshal(&Event{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &MediaInfo{Payload: base64.StdEncoding.EncodeToString(payload)},
	})
}

// EncodeMark builds an outbound mark event. Twilio echoes it back once all
// media sent before it has played.
func EncodeMark(streamSid, name string) ([]byte, error) {
	return json.Marshal(&Event{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      &MarkInfo{Name: name},
	})
}
