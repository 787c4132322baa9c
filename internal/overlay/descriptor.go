package overlay

import (
	"errors"
	"fmt"
	"math"
)

// Kind selects how a descriptor is rendered
type Kind string

const (
	KindText Kind = "text"
	KindLogo Kind = "logo"
)

// Defaults applied when a field is omitted on create
const (
	DefaultX     = 10
	DefaultY     = 30
	DefaultScale = 1.0

	// MaxScale caps the size multiplier for text and logos
	MaxScale = 20.0
)

var (
	// ErrNotFound is returned for unknown descriptor IDs
	ErrNotFound = errors.New("overlay not found")
	// ErrInvalid is returned for descriptors that cannot be rendered
	ErrInvalid = errors.New("invalid overlay")
)

// Color is an RGB triple. JSON form is [r, g, b].
type Color [3]uint8

// Descriptor is one visual element composited onto every frame.
// JSON names follow the overlay HTTP API (type, size).
type Descriptor struct {
	ID      string  `json:"id" yaml:"id,omitempty"`
	Kind    Kind    `json:"type" yaml:"type"`
	Content string  `json:"content" yaml:"content"`
	X       int     `json:"x" yaml:"x"`
	Y       int     `json:"y" yaml:"y"`
	Scale   float64 `json:"size" yaml:"size"`
	Color   *Color  `json:"color,omitempty" yaml:"color,omitempty"`
}

// Validate checks the fields the compositor needs.
func (d Descriptor) Validate() error {
	switch d.Kind {
	case KindText:
		if d.Content == "" {
			return fmt.Errorf("%w: text overlay has no content", ErrInvalid)
		}
	case KindLogo:
		// empty content selects the default logo
	case "":
		return fmt.Errorf("%w: missing type", ErrInvalid)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalid, d.Kind)
	}

	if d.Scale <= 0 || math.IsNaN(d.Scale) || math.IsInf(d.Scale, 0) {
		return fmt.Errorf("%w: size must be a positive number, got %v", ErrInvalid, d.Scale)
	}
	if d.Scale > MaxScale {
		return fmt.Errorf("%w: size %v exceeds %v", ErrInvalid, d.Scale, MaxScale)
	}
	return nil
}

// clone copies the descriptor including its color
func (d Descriptor) clone() Descriptor {
	if d.Color != nil {
		c := *d.Color
		d.Color = &c
	}
	return d
}

// Fields carries optional descriptor fields for create and partial update.
// A nil field is left unchanged (update) or defaulted (create).
type Fields struct {
	Kind    *Kind    `json:"type,omitempty"`
	Content *string  `json:"content,omitempty"`
	X       *int     `json:"x,omitempty"`
	Y       *int     `json:"y,omitempty"`
	Scale   *float64 `json:"size,omitempty"`
	Color   *Color   `json:"color,omitempty"`
}

// ApplyTo returns d with every non-nil field of f set.
func (f Fields) ApplyTo(d Descriptor) Descriptor {
	if f.Kind != nil {
		d.Kind = *f.Kind
	}
	if f.Content != nil {
		d.Content = *f.Content
	}
	if f.X != nil {
		d.X = *f.X
	}
	if f.Y != nil {
		d.Y = *f.Y
	}
	if f.Scale != nil {
		d.Scale = *f.Scale
	}
	if f.Color != nil {
		c := *f.Color
		d.Color = &c
	}
	return d
}

// Descriptor builds a new descriptor from f with create-time defaults.
// Type and content are required.
func (f Fields) Descriptor() (Descriptor, error) {
	if f.Kind == nil || f.Content == nil {
		return Descriptor{}, fmt.Errorf("%w: missing required fields", ErrInvalid)
	}
	d := f.ApplyTo(Descriptor{X: DefaultX, Y: DefaultY, Scale: DefaultScale})
	return d, d.Validate()
}
