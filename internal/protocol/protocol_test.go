package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuinjune/ar-peggiator/internal/model"
)

func TestDecodeUpdateState(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"updateState","data":{"position":[1,2,3],"orientation":[0,0,0,1],"color":"#abcdef"}}`))
	require.NoError(t, err)

	u, ok := msg.(*UpdateState)
	require.True(t, ok)
	p := u.Partial()
	require.NotNil(t, p.Position)
	assert.Equal(t, model.Vec3{1, 2, 3}, *p.Position)
	assert.Equal(t, model.Quaternion{0, 0, 0, 1}, *p.Orientation)
	require.NotNil(t, p.Color)
	assert.Equal(t, "#abcdef", *p.Color)
}

func TestDecodeUpdateStateWithoutColor(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"updateState","data":{"position":[1,2,3],"orientation":[0,0,0,1]}}`))
	require.NoError(t, err)
	assert.Nil(t, msg.(*UpdateState).Partial().Color)
}

func TestDecodeNoteMessages(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"addNote","data":{"color":"red","position":[0,1,0],"ref":"r1"}}`))
	require.NoError(t, err)
	add := msg.(*AddNote)
	assert.Equal(t, model.Vec3{0, 1, 0}, add.Vec())
	assert.Equal(t, "r1", add.Ref)

	msg, err = Decode([]byte(`{"type":"updateNote","data":{"id":"n-1","color":"blue","position":[1,1,1]}}`))
	require.NoError(t, err)
	assert.Equal(t, "n-1", msg.(*UpdateNote).ID)

	msg, err = Decode([]byte(`{"type":"deleteNotes","data":{"ids":["a","b","a"]}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "a"}, msg.(*DeleteNotes).IDs)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":            `{`,
		"missing type":        `{"data":{}}`,
		"missing data":        `{"type":"addNote"}`,
		"short position":      `{"type":"updateState","data":{"position":[1,2],"orientation":[0,0,0,1]}}`,
		"long orientation":    `{"type":"updateState","data":{"position":[1,2,3],"orientation":[0,0,0,1,5]}}`,
		"missing orientation": `{"type":"updateState","data":{"position":[1,2,3]}}`,
		"string coordinate":   `{"type":"updateState","data":{"position":["1",2,3],"orientation":[0,0,0,1]}}`,
		"empty color":         `{"type":"addNote","data":{"color":"","position":[0,0,0]}}`,
		"long color":          `{"type":"addNote","data":{"color":"` + strings.Repeat("a", 65) + `","position":[0,0,0]}}`,
		"control char color":  `{"type":"addNote","data":{"color":"re\u0001d","position":[0,0,0]}}`,
		"note without id":     `{"type":"updateNote","data":{"color":"red","position":[0,0,0]}}`,
		"empty delete":        `{"type":"deleteNotes","data":{"ids":[]}}`,
		"blank delete id":     `{"type":"deleteNotes","data":{"ids":[""]}}`,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(frame))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestDecodeRejectsOversizedDelete(t *testing.T) {
	ids := make([]string, MaxDeleteBatch+1)
	for i := range ids {
		ids[i] = "x"
	}
	data, _ := json.Marshal(map[string]any{"ids": ids})
	frame, _ := json.Marshal(Envelope{Type: TypeDeleteNotes, Data: data})
	_, err := Decode(frame)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"teleport","data":{}}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestEncodeRoundTripsThroughEnvelope(t *testing.T) {
	b, err := Encode(TypeNoteListChanged, NoteListChanged{Notes: NonNilNotes(nil)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"noteListChanged","data":{"notes":[]}}`, string(b))

	env, err := DecodeEnvelope(b)
	require.NoError(t, err)
	assert.Equal(t, TypeNoteListChanged, env.Type)
}
