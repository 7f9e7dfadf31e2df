// Package model holds the value types shared by the registry, the note
// store and the wire protocol.
package model

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Vec3 is a position in scene space, encoded as a three element JSON array.
type Vec3 [3]float64

// Quaternion is an orientation (x, y, z, w), encoded as a four element JSON array.
type Quaternion [4]float64

// Identity is the orientation of a peer that has not reported one yet.
var Identity = Quaternion{0, 0, 0, 1}

// PeerState is the live, never persisted state of one connection.
type PeerState struct {
	Position    Vec3       `json:"position"`
	Orientation Quaternion `json:"orientation"`
	Color       string     `json:"color"`
}

// Note is a shared record placed in the scene by some peer. Once created it
// carries no reference to its author.
type Note struct {
	ID       string `json:"id"`
	Color    string `json:"color"`
	Position Vec3   `json:"position"`
}

// DefaultPeerState is the state a connection starts with. The color is
// derived from the connection id so a peer keeps one hue for its lifetime.
func DefaultPeerState(id string) PeerState {
	return PeerState{
		Orientation: Identity,
		Color:       HueColor(id),
	}
}

// HueColor maps an arbitrary key onto an HSL color string.
func HueColor(key string) string {
	hue := xxhash.Sum64String(key) % 360
	return fmt.Sprintf("hsl(%d, 70%%, 60%%)", hue)
}
