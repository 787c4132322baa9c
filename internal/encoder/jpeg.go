package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"

	"github.com/kikiluvv/overlaycast/internal/frame"
)

// ErrEncode wraps every encoding failure; the caller drops the frame
var ErrEncode = errors.New("frame encode failed")

// DefaultQuality is used when no quality is configured
const DefaultQuality = 80

// Encoder turns a composited frame into still-image bytes
type Encoder interface {
	Encode(f *frame.Frame) ([]byte, error)
	ContentType() string
}

// JPEG encodes frames at a fixed quality
type JPEG struct {
	quality int
}

var _ Encoder = (*JPEG)(nil)

// NewJPEG creates a JPEG encoder. Quality is clamped to 1..100.
func NewJPEG(quality int) *JPEG {
	switch {
	case quality <= 0:
		quality = DefaultQuality
	case quality > 100:
		quality = 100
	}
	return &JPEG{quality: quality}
}

// Quality returns the configured quality
func (e *JPEG) Quality() int {
	return e.quality
}

// ContentType of the encoded bytes
func (e *JPEG) ContentType() string {
	return "image/jpeg"
}

// Encode returns f as a baseline JPEG
func (e *JPEG) Encode(f *frame.Frame) ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%w: malformed frame", ErrEncode)
	}

	var buf bytes.Buffer
	buf.Grow(f.Width * f.Height / 4)
	if err := jpeg.Encode(&buf, f.RGBA(), &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return buf.Bytes(), nil
}
