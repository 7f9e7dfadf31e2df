// Package notes implements the shared, ordered collection of notes.
//
// Notes are addressed by a server-assigned id, never by position: two peers
// deleting concurrently must not be able to shift each other's targets.
package notes

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/cuinjune/ar-peggiator/internal/model"
)

var (
	// ErrNotFound is returned by Update for an id that is not in the store.
	ErrNotFound = errors.New("notes: not found")

	// ErrFull is returned by Add when the store has reached its limit.
	ErrFull = errors.New("notes: store is full")
)

// Option configures a Store.
type Option func(*Store)

// WithLimit caps the number of notes. Zero means unlimited.
func WithLimit(n int) Option {
	return func(s *Store) { s.limit = n }
}

// WithIDFunc overrides id generation.
func WithIDFunc(f func() string) Option {
	return func(s *Store) { s.newID = f }
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	notes   []model.Note
	index   map[string]int
	version uint64

	limit int
	newID func() string
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		index: make(map[string]int),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the notes in insertion order. The slice is owned by the caller.
func (s *Store) List() []model.Note {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Note, len(s.notes))
	copy(out, s.notes)
	return out
}

// Len returns the number of notes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notes)
}

// Version increases on every mutation. Checkpointing uses it to skip
// writes when nothing changed.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Get returns the note with the given id.
func (s *Store) Get(id string) (model.Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return model.Note{}, false
	}
	return s.notes[i], true
}

// Add appends a note with a fresh id and returns it.
func (s *Store) Add(color string, pos model.Vec3) (model.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limit > 0 && len(s.notes) >= s.limit {
		return model.Note{}, ErrFull
	}
	id := s.newID()
	for _, taken := s.index[id]; taken; _, taken = s.index[id] {
		id = s.newID()
	}
	n := model.Note{ID: id, Color: color, Position: pos}
	s.index[id] = len(s.notes)
	s.notes = append(s.notes, n)
	s.version++
	return n, nil
}

// Update replaces the color and position of the note with the given id.
func (s *Store) Update(id, color string, pos model.Vec3) (model.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return model.Note{}, ErrNotFound
	}
	s.notes[i].Color = color
	s.notes[i].Position = pos
	s.version++
	return s.notes[i], nil
}

// RemoveMany deletes every note whose id is in ids and returns how many were
// removed. Unknown and repeated ids are ignored.
func (s *Store) RemoveMany(ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.index[id]; ok {
			drop[id] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return 0
	}

	kept := s.notes[:0]
	for _, n := range s.notes {
		if _, ok := drop[n.ID]; ok {
			delete(s.index, n.ID)
			continue
		}
		s.index[n.ID] = len(kept)
		kept = append(kept, n)
	}
	clear(s.notes[len(kept):])
	s.notes = kept
	s.version++
	return len(drop)
}

// Replace swaps the whole collection, as done when restoring a checkpoint.
// Records without an id get a fresh one; later duplicates of an id are
// dropped. It returns the number of records dropped.
func (s *Store) Replace(notes []model.Note) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notes = make([]model.Note, 0, len(notes))
	s.index = make(map[string]int, len(notes))
	dropped := 0
	for _, n := range notes {
		if n.ID == "" {
			n.ID = s.newID()
		}
		if _, dup := s.index[n.ID]; dup {
			dropped++
			continue
		}
		s.index[n.ID] = len(s.notes)
		s.notes = append(s.notes, n)
	}
	s.version++
	return dropped
}
