// Package registry tracks the live state of every connected peer.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cuinjune/ar-peggiator/internal/model"
)

// ErrDuplicate is returned by Register when the id is already present.
// Connection ids are never reused, so this indicates a programming error.
var ErrDuplicate = errors.New("registry: duplicate connection id")

// Partial carries the fields of an update. Nil fields are left untouched.
type Partial struct {
	Position    *model.Vec3
	Orientation *model.Quaternion
	Color       *string
}

// Registry maps connection ids to peer state. All methods are safe for
// concurrent use; readers never observe a partially applied update.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]model.PeerState
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{peers: make(map[string]model.PeerState)}
}

// Register inserts id with its default state and returns that state.
func (r *Registry) Register(id string) (model.PeerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[id]; ok {
		return model.PeerState{}, fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	state := model.DefaultPeerState(id)
	r.peers[id] = state
	return state, nil
}

// Update merges p into the entry for id and returns the merged state.
// It reports false, without error, when id is not registered.
func (r *Registry) Update(id string, p Partial) (model.PeerState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.peers[id]
	if !ok {
		return model.PeerState{}, false
	}
	if p.Position != nil {
		state.Position = *p.Position
	}
	if p.Orientation != nil {
		state.Orientation = *p.Orientation
	}
	if p.Color != nil {
		state.Color = *p.Color
	}
	r.peers[id] = state
	return state, true
}

// Remove deletes id and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

// Get returns the state of id.
func (r *Registry) Get(id string) (model.PeerState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.peers[id]
	return s, ok
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Snapshot returns a point-in-time copy of every entry. The result is owned
// by the caller.
func (r *Registry) Snapshot() map[string]model.PeerState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]model.PeerState, len(r.peers))
	for id, s := range r.peers {
		out[id] = s
	}
	return out
}
