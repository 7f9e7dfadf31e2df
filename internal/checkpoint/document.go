// Package checkpoint persists the note store as a single document.
//
// A checkpoint is a full overwrite, never an append: the document holds the
// whole note list in order. Changes made after the last successful
// checkpoint are lost if the process dies without running the Trigger
// (SIGKILL, OOM kill, power loss). That is the accepted durability trade-off
// for an ephemeral shared scene.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuinjune/ar-peggiator/internal/model"
)

// DocumentVersion is the only layout version understood by Decode.
const DocumentVersion = 1

// ErrInvalidDocument is returned by Decode for anything that is not a
// checkpoint document of a supported version.
var ErrInvalidDocument = errors.New("checkpoint: invalid document")

// Document is the persisted layout.
type Document struct {
	Version int          `json:"version"`
	SavedAt time.Time    `json:"savedAt"`
	Notes   []model.Note `json:"notes"`
}

// Encode serializes notes into a document stamped with savedAt.
func Encode(notes []model.Note, savedAt time.Time) ([]byte, error) {
	if notes == nil {
		notes = []model.Note{}
	}
	return json.MarshalIndent(Document{
		Version: DocumentVersion,
		SavedAt: savedAt.UTC(),
		Notes:   notes,
	}, "", "  ")
}

// Decode parses a document.
func Decode(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc.Version != DocumentVersion {
		return Document{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidDocument, doc.Version)
	}
	if doc.Notes == nil {
		doc.Notes = []model.Note{}
	}
	return doc, nil
}
