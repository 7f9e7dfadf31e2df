package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/cuinjune/ar-peggiator/internal/model"
	"github.com/cuinjune/ar-peggiator/internal/registry"
)

// MaxDeleteBatch bounds the ids accepted by a single deleteNotes frame.
const MaxDeleteBatch = 1000

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	// Colors are opaque to the hub; only bound their size and charset.
	_ = validate.RegisterValidation("displaycolor", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if len(s) == 0 || len(s) > 64 {
			return false
		}
		for i := 0; i < len(s); i++ {
			if s[i] < 0x20 || s[i] > 0x7e {
				return false
			}
		}
		return true
	})
}

// Inbound is implemented by every decoded client message.
type Inbound interface {
	Type() Type
}

// UpdateState moves the sender. Color is optional.
type UpdateState struct {
	Position    []float64 `json:"position" validate:"required,len=3"`
	Orientation []float64 `json:"orientation" validate:"required,len=4"`
	Color       *string   `json:"color,omitempty" validate:"omitempty,displaycolor"`
}

// Type implements Inbound.
func (*UpdateState) Type() Type { return TypeUpdateState }

// Partial converts the message into a registry update.
func (m *UpdateState) Partial() registry.Partial {
	pos := toVec3(m.Position)
	rot := model.Quaternion{m.Orientation[0], m.Orientation[1], m.Orientation[2], m.Orientation[3]}
	p := registry.Partial{Position: &pos, Orientation: &rot}
	if m.Color != nil && *m.Color != "" {
		c := *m.Color
		p.Color = &c
	}
	return p
}

// AddNote creates a note. Ref is echoed back to the sender in noteCreated.
type AddNote struct {
	Color    string    `json:"color" validate:"displaycolor"`
	Position []float64 `json:"position" validate:"required,len=3"`
	Ref      string    `json:"ref,omitempty" validate:"omitempty,max=64,printascii"`
}

// Type implements Inbound.
func (*AddNote) Type() Type { return TypeAddNote }

// Vec returns the note position.
func (m *AddNote) Vec() model.Vec3 { return toVec3(m.Position) }

// UpdateNote replaces the color and position of an existing note.
type UpdateNote struct {
	ID       string    `json:"id" validate:"required,max=64,printascii"`
	Color    string    `json:"color" validate:"displaycolor"`
	Position []float64 `json:"position" validate:"required,len=3"`
}

// Type implements Inbound.
func (*UpdateNote) Type() Type { return TypeUpdateNote }

// Vec returns the note position.
func (m *UpdateNote) Vec() model.Vec3 { return toVec3(m.Position) }

// DeleteNotes removes a set of notes by id.
type DeleteNotes struct {
	IDs []string `json:"ids" validate:"required,min=1,max=1000,dive,required,max=64,printascii"`
}

// Type implements Inbound.
func (*DeleteNotes) Type() Type { return TypeDeleteNotes }

// Decode parses and validates one inbound frame.
func Decode(b []byte) (Inbound, error) {
	env, err := DecodeEnvelope(b)
	if err != nil {
		return nil, err
	}

	var msg Inbound
	switch env.Type {
	case TypeUpdateState:
		msg = &UpdateState{}
	case TypeAddNote:
		msg = &AddNote{}
	case TypeUpdateNote:
		msg = &UpdateNote{}
	case TypeDeleteNotes:
		msg = &DeleteNotes{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %s without data", ErrInvalid, env.Type)
	}
	if err := json.Unmarshal(env.Data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, env.Type, err)
	}
	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, env.Type, err)
	}
	return msg, nil
}

func toVec3(v []float64) model.Vec3 {
	return model.Vec3{v[0], v[1], v[2]}
}
