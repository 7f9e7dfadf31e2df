// Package protocol defines the messages exchanged with clients.
//
// Every websocket text frame carries one Envelope:
//
//	{"type": "updateState", "data": {"position": [0, 1.6, 0], "orientation": [0, 0, 0, 1]}}
//
// Inbound frames are decoded and validated by Decode. A frame that fails
// validation is dropped by the caller without any effect on shared state.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type names a message kind.
type Type string

// Client to server.
const (
	TypeUpdateState Type = "updateState"
	TypeAddNote     Type = "addNote"
	TypeUpdateNote  Type = "updateNote"
	TypeDeleteNotes Type = "deleteNotes"
)

// Server to client.
const (
	TypeIntroduction    Type = "introduction"
	TypePeerJoined      Type = "peerJoined"
	TypePeerLeft        Type = "peerLeft"
	TypePeerMoved       Type = "peerMoved"
	TypeStateEcho       Type = "stateEcho"
	TypeNoteCreated     Type = "noteCreated"
	TypeNoteListChanged Type = "noteListChanged"
)

var (
	// ErrInvalid wraps every decode or validation failure of an inbound frame.
	ErrInvalid = errors.New("protocol: invalid message")

	// ErrUnknownType is returned for a well formed envelope with an unsupported type.
	ErrUnknownType = errors.New("protocol: unknown message type")
)

// Envelope is the frame wrapper shared by both directions.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode wraps data in an envelope of type t.
func Encode(t Type, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Data: raw})
}

// DecodeEnvelope splits a frame into its type and raw payload without
// interpreting the payload.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrInvalid)
	}
	return env, nil
}
