package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPeerState(t *testing.T) {
	s := DefaultPeerState("abc")
	assert.Equal(t, Vec3{}, s.Position)
	assert.Equal(t, Identity, s.Orientation)
	assert.Equal(t, HueColor("abc"), s.Color)
	assert.Equal(t, s, DefaultPeerState("abc"), "default state must be deterministic per id")
}

func TestHueColorFormat(t *testing.T) {
	c := HueColor("some-connection")
	assert.Regexp(t, `^hsl\(\d{1,3}, 70%, 60%\)$`, c)
}

func TestNoteJSONShape(t *testing.T) {
	n := Note{ID: "n1", Color: "#ff0000", Position: Vec3{1, 2.5, -3}}
	b, err := json.Marshal(n)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"n1","color":"#ff0000","position":[1,2.5,-3]}`, string(b))
}
