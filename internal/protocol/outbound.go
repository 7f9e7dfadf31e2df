package protocol

import "github.com/cuinjune/ar-peggiator/internal/model"

// Introduction is sent once to a connection right after it joins.
// Peers excludes the newcomer itself.
type Introduction struct {
	SelfID string                     `json:"selfId"`
	Peers  map[string]model.PeerState `json:"peers"`
	Notes  []model.Note               `json:"notes"`
}

// PeerJoined announces a newcomer to everyone else.
type PeerJoined struct {
	PeerID string          `json:"peerId"`
	State  model.PeerState `json:"state"`
	Total  int             `json:"total"`
}

// PeerLeft announces a departure.
type PeerLeft struct {
	PeerID string `json:"peerId"`
	Total  int    `json:"total"`
}

// PeerMoved carries one peer's new state to the other connections.
type PeerMoved struct {
	PeerID string          `json:"peerId"`
	State  model.PeerState `json:"state"`
}

// StateEcho returns the full peer snapshot, sender included, to the mover.
type StateEcho struct {
	Peers map[string]model.PeerState `json:"peers"`
}

// NoteCreated acknowledges an addNote to its sender.
type NoteCreated struct {
	Note model.Note `json:"note"`
	Ref  string     `json:"ref,omitempty"`
}

// NoteListChanged carries the whole note list after any note mutation.
type NoteListChanged struct {
	Notes []model.Note `json:"notes"`
}

// NonNilNotes keeps empty lists encoded as [] rather than null.
func NonNilNotes(n []model.Note) []model.Note {
	if n == nil {
		return []model.Note{}
	}
	return n
}
