package signaling

import (
	"encoding/json"
	"fmt"
)

// Client -> server events.
const (
	EventJoinRoom = "join-room"
	EventSignal   = "signal"
	EventWhoami   = "whoami"
)

// Server -> client events. Relayed signals reuse EventSignal.
const (
	EventExistingUsers = "existing-users"
	EventUserJoined    = "user-joined"
	EventUserLeft      = "user-left"
)

// Envelope is the wire framing for every message in both directions: a named
// event plus an event-specific JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRoom is the payload of a join-room event.
type JoinRoom struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

// Signal is the payload of an inbound signal event. Data carries an SDP or
// ICE-candidate blob that the relay never inspects. An empty To means
// "broadcast to the rest of my room".
type Signal struct {
	To   string          `json:"to,omitempty"`
	Data json.RawMessage `json:"data"`
}

// Peer identifies a room member in existing-users and user-joined payloads.
type Peer struct {
	SocketID string `json:"socketId"`
	Name     string `json:"name"`
}

// UserLeft is the payload of a user-left event.
type UserLeft struct {
	SocketID string `json:"socketId"`
}

// SignalForward is the payload of an outbound signal event: the inbound blob
// wrapped with the sender's identity.
type SignalForward struct {
	From string          `json:"from"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// WhoamiReply answers the whoami debug event.
type WhoamiReply struct {
	ID     string `json:"id"`
	RoomID string `json:"roomId,omitempty"`
}

// parseEnvelope decodes an inbound frame. Payload validation is left to the
// per-event structs; only the event name is required here.
func parseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("missing event name")
	}
	return env, nil
}

// encodeEvent marshals a payload into its envelope frame.
func encodeEvent(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
