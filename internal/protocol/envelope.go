package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RawPayload defers payload decoding until the event kind is known.
type RawPayload = json.RawMessage

// Envelope is the wire frame: {"event": "...", "payload": {...}}.
type Envelope struct {
	Event   string     `json:"event"`
	Payload RawPayload `json:"payload,omitempty"`
}

var ErrMissingEvent = errors.New("envelope has no event")

// DecodeEnvelope parses a frame into an envelope without touching the payload.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, ErrMissingEvent
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into the typed struct for the
// already-dispatched event kind. A nil payload decodes into the zero value.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Event, err)
	}
	return nil
}

// Encode frames an event and payload for the wire.
func Encode(event string, payload any) ([]byte, error) {
	var raw RawPayload
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		raw = data
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}

// MustEncode is Encode for payload types that cannot fail to marshal.
func MustEncode(event string, payload any) []byte {
	data, err := Encode(event, payload)
	if err != nil {
		panic(err)
	}
	return data
}

// deviceBound lists every event the hub may forward to a device on behalf of
// an admin.
var deviceBound = map[string]bool{
	EventContentUpdate:     true,
	EventConfigUpdate:      true,
	EventDisplayNavigate:   true,
	EventDisplayRefresh:    true,
	EventScreenshotRequest: true,
	EventDeviceRestart:     true,
	EventRemoteClick:       true,
	EventRemoteType:        true,
	EventRemoteKey:         true,
	EventRemoteScroll:      true,
	EventPlaylistPause:     true,
	EventPlaylistResume:    true,
	EventPlaylistNext:      true,
	EventPlaylistPrevious:  true,
	EventScreencastStart:   true,
	EventScreencastStop:    true,
}

// IsDeviceBound reports whether an event may be routed to a device.
func IsDeviceBound(event string) bool {
	return deviceBound[event]
}
