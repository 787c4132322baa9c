package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/kikiluvv/overlaycast/internal/assets"
	"github.com/kikiluvv/overlaycast/internal/frame"
	"github.com/kikiluvv/overlaycast/internal/overlay"
)

// ErrOverlayApply wraps every per-descriptor failure
var ErrOverlayApply = errors.New("overlay apply failed")

// Failure reasons reported to the failure hook
const (
	ReasonInvalid     = "invalid"
	ReasonAsset       = "asset"
	ReasonOutOfBounds = "out_of_bounds"
	ReasonPanic       = "panic"
)

// Failure describes one descriptor that could not be applied
type Failure struct {
	ID     string
	Kind   overlay.Kind
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("overlay %s (%s): %s: %v", f.ID, f.Kind, f.Reason, f.Err)
}

func (f *Failure) Unwrap() []error {
	return []error{ErrOverlayApply, f.Err}
}

// LogoSource resolves logo content to decoded assets
type LogoSource interface {
	Get(name string) (*assets.Logo, error)
}

// Options configures text rendering
type Options struct {
	// FontSize is the pixel size at scale 1
	FontSize float64
	// Stroke is the glyph thickness in pixels
	Stroke int
	// TextColor is used when a text descriptor has no color
	TextColor color.RGBA
}

// DefaultOptions returns the rendering defaults
func DefaultOptions() Options {
	return Options{
		FontSize:  24,
		Stroke:    2,
		TextColor: color.RGBA{R: 255, G: 255, B: 255, A: 255},
	}
}

var parseFont = sync.OnceValues(func() (*opentype.Font, error) {
	return opentype.Parse(goregular.TTF)
})

// Compositor draws overlay descriptors onto frames in place.
//
// A Compositor caches font faces, which are not safe for concurrent
// use; create one per pipeline session. The logo source may be shared.
type Compositor struct {
	logger zerolog.Logger
	logos  LogoSource
	opts   Options

	font  *opentype.Font
	faces map[float64]font.Face

	onFailure func(*Failure)
}

// New creates a compositor
func New(logos LogoSource, opts Options, logger zerolog.Logger) (*Compositor, error) {
	fnt, err := parseFont()
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}

	defaults := DefaultOptions()
	if opts.FontSize <= 0 {
		opts.FontSize = defaults.FontSize
	}
	if opts.Stroke < 1 {
		opts.Stroke = defaults.Stroke
	}
	if opts.TextColor == (color.RGBA{}) {
		opts.TextColor = defaults.TextColor
	}

	return &Compositor{
		logger: logger.With().Str("component", "compositor").Logger(),
		logos:  logos,
		opts:   opts,
		font:   fnt,
		faces:  make(map[float64]font.Face),
	}, nil
}

// OnFailure registers fn to be called for every failed descriptor
func (c *Compositor) OnFailure(fn func(*Failure)) {
	c.onFailure = fn
}

// Apply draws descs onto f in order and returns f. A descriptor that
// fails is logged and skipped; the rest still apply.
func (c *Compositor) Apply(ctx context.Context, f *frame.Frame, descs []overlay.Descriptor) *frame.Frame {
	if !f.Valid() {
		c.logger.Warn().Msg("skipping overlays on malformed frame")
		return f
	}

	for _, d := range descs {
		if ctx.Err() != nil {
			return f
		}
		if fail := c.applyOne(f, d); fail != nil {
			c.report(f, fail)
		}
	}
	return f
}

func (c *Compositor) report(f *frame.Frame, fail *Failure) {
	ev := c.logger.Warn()
	if fail.Reason == ReasonOutOfBounds {
		ev = c.logger.Debug()
	}
	ev.Err(fail).
		Str("overlay", fail.ID).
		Str("type", string(fail.Kind)).
		Str("reason", fail.Reason).
		Uint64("seq", f.Seq).
		Msg("overlay skipped")

	if c.onFailure != nil {
		c.onFailure(fail)
	}
}

func (c *Compositor) applyOne(f *frame.Frame, d overlay.Descriptor) (fail *Failure) {
	defer func() {
		if r := recover(); r != nil {
			fail = &Failure{ID: d.ID, Kind: d.Kind, Reason: ReasonPanic, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := d.Validate(); err != nil {
		return &Failure{ID: d.ID, Kind: d.Kind, Reason: ReasonInvalid, Err: err}
	}

	switch d.Kind {
	case overlay.KindText:
		return c.drawText(f, d)
	case overlay.KindLogo:
		return c.drawLogo(f, d)
	}
	return nil
}

func (c *Compositor) drawText(f *frame.Frame, d overlay.Descriptor) *Failure {
	face, err := c.face(d.Scale)
	if err != nil {
		return &Failure{ID: d.ID, Kind: d.Kind, Reason: ReasonInvalid, Err: err}
	}

	col := c.opts.TextColor
	if d.Color != nil {
		col = color.RGBA{R: d.Color[0], G: d.Color[1], B: d.Color[2], A: 255}
	}

	drawer := &font.Drawer{
		Dst:  f,
		Src:  image.NewUniform(col),
		Face: face,
	}

	// thickness is emulated by overdrawing in a stroke x stroke square
	// centred on the baseline origin
	t := c.opts.Stroke
	for dy := 0; dy < t; dy++ {
		for dx := 0; dx < t; dx++ {
			drawer.Dot = fixed.P(d.X+dx-t/2, d.Y+dy-t/2)
			drawer.DrawString(d.Content)
		}
	}
	return nil
}

// TextBounds returns the rectangle drawText may touch for d
func (c *Compositor) TextBounds(d overlay.Descriptor) (image.Rectangle, error) {
	face, err := c.face(d.Scale)
	if err != nil {
		return image.Rectangle{}, err
	}
	b, _ := font.BoundString(face, d.Content)
	r := image.Rect(b.Min.X.Floor(), b.Min.Y.Floor(), b.Max.X.Ceil(), b.Max.Y.Ceil())

	t := c.opts.Stroke
	lo, hi := -(t / 2), t-1-t/2
	return image.Rect(r.Min.X+d.X+lo, r.Min.Y+d.Y+lo, r.Max.X+d.X+hi, r.Max.Y+d.Y+hi), nil
}

func (c *Compositor) drawLogo(f *frame.Frame, d overlay.Descriptor) *Failure {
	logo, err := c.logos.Get(d.Content)
	if err != nil {
		return &Failure{ID: d.ID, Kind: d.Kind, Reason: ReasonAsset, Err: err}
	}

	// bounds are settled before resizing so a skipped logo costs nothing
	w, h := logo.ScaledSize(d.Scale)
	target := image.Rect(d.X, d.Y, d.X+w, d.Y+h)
	if w > 0 && h > 0 && !target.In(f.Bounds()) {
		return &Failure{
			ID:     d.ID,
			Kind:   d.Kind,
			Reason: ReasonOutOfBounds,
			Err:    fmt.Errorf("logo rect %v exceeds frame %v", target, f.Bounds()),
		}
	}

	img, err := logo.Scaled(d.Scale)
	if err != nil {
		return &Failure{ID: d.ID, Kind: d.Kind, Reason: ReasonAsset, Err: err}
	}

	Blend(f, img, target.Min)
	return nil
}

func (c *Compositor) face(scale float64) (font.Face, error) {
	if face, ok := c.faces[scale]; ok {
		return face, nil
	}
	face, err := opentype.NewFace(c.font, &opentype.FaceOptions{
		Size:    c.opts.FontSize * scale,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("font face at scale %v: %w", scale, err)
	}
	c.faces[scale] = face
	return face, nil
}

// Close releases cached font faces
func (c *Compositor) Close() error {
	var errs []error
	for scale, face := range c.faces {
		errs = append(errs, face.Close())
		delete(c.faces, scale)
	}
	return errors.Join(errs...)
}
