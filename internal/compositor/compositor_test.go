package compositor

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kikiluvv/overlaycast/internal/assets"
	"github.com/kikiluvv/overlaycast/internal/frame"
	"github.com/kikiluvv/overlaycast/internal/overlay"
)

type fixture struct {
	comp     *Compositor
	reg      *assets.Registry
	dir      string
	mu       sync.Mutex
	failures []*Failure
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	reg := assets.NewRegistry(dir)
	cache := assets.NewCache(zerolog.Nop(), reg, assets.Options{DefaultName: "logo", Filter: resize.NearestNeighbor})

	comp, err := New(cache, DefaultOptions(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { comp.Close() })

	fx := &fixture{comp: comp, reg: reg, dir: dir}
	comp.OnFailure(func(f *Failure) {
		fx.mu.Lock()
		fx.failures = append(fx.failures, f)
		fx.mu.Unlock()
	})
	return fx
}

// addLogo writes a w x h PNG filled with c and registers it as name
func (fx *fixture) addLogo(t *testing.T, name string, w, h int, c color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	path := filepath.Join(fx.dir, name+".png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	fx.reg.Register(name, path)
}

func grey(w, h int) *frame.Frame {
	f := frame.New(w, h)
	f.Fill(color.RGBA{R: 100, G: 100, B: 100, A: 255})
	return f
}

func pixel(f *frame.Frame, x, y int) [3]uint8 {
	i := f.PixOffset(x, y)
	return [3]uint8{f.Pix[i], f.Pix[i+1], f.Pix[i+2]}
}

// changedOutside reports the first pixel outside r that differs
func changedOutside(a, b *frame.Frame, r image.Rectangle) (image.Point, bool) {
	for y := 0; y < a.Height; y++ {
		for x := 0; x < a.Width; x++ {
			if (image.Point{x, y}).In(r) {
				continue
			}
			if pixel(a, x, y) != pixel(b, x, y) {
				return image.Point{x, y}, true
			}
		}
	}
	return image.Point{}, false
}

func TestTextChangesOnlyItsRectangle(t *testing.T) {
	fx := newFixture(t)
	d := overlay.Descriptor{ID: "t1", Kind: overlay.KindText, Content: "LIVE", X: 10, Y: 30, Scale: 1}

	f := grey(200, 100)
	orig := f.Clone()
	fx.comp.Apply(context.Background(), f, []overlay.Descriptor{d})

	bounds, err := fx.comp.TextBounds(d)
	require.NoError(t, err)
	bounds = bounds.Inset(-1)

	p, changed := changedOutside(orig, f, bounds)
	assert.False(t, changed, "pixel %v outside %v changed", p, bounds)
	assert.NotEqual(t, orig.Pix, f.Pix, "text drew nothing")
	assert.Empty(t, fx.failures)
}

func TestTextColor(t *testing.T) {
	fx := newFixture(t)
	red := overlay.Color{255, 0, 0}
	d := overlay.Descriptor{ID: "t1", Kind: overlay.KindText, Content: "I", X: 20, Y: 40, Scale: 2, Color: &red}

	f := frame.New(100, 60)
	fx.comp.Apply(context.Background(), f, []overlay.Descriptor{d})

	sawRed := false
	for i := 0; i < len(f.Pix); i += frame.Channels {
		assert.Zero(t, f.Pix[i+1])
		assert.Zero(t, f.Pix[i+2])
		if f.Pix[i] == 255 {
			sawRed = true
		}
	}
	assert.True(t, sawRed)
}

func TestLogoOpaqueReplacesPixels(t *testing.T) {
	fx := newFixture(t)
	fx.addLogo(t, "logo", 4, 3, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	f := grey(16, 16)
	orig := f.Clone()
	fx.comp.Apply(context.Background(), f, []overlay.Descriptor{
		{ID: "l1", Kind: overlay.KindLogo, Content: "logo", X: 5, Y: 6, Scale: 1},
	})

	rect := image.Rect(5, 6, 9, 9)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			assert.Equal(t, [3]uint8{10, 20, 30}, pixel(f, x, y))
		}
	}
	_, changed := changedOutside(orig, f, rect)
	assert.False(t, changed)
	assert.Empty(t, fx.failures)
}

func TestLogoTransparentKeepsFrame(t *testing.T) {
	fx := newFixture(t)
	fx.addLogo(t, "ghost", 8, 8, color.NRGBA{R: 255, G: 0, B: 0, A: 0})

	f := grey(16, 16)
	orig := f.Clone()
	fx.comp.Apply(context.Background(), f, []overlay.Descriptor{
		{ID: "l1", Kind: overlay.KindLogo, Content: "ghost", X: 0, Y: 0, Scale: 1},
	})

	assert.Equal(t, orig.Pix, f.Pix)
	assert.Empty(t, fx.failures)
}

func TestLogoHalfAlpha(t *testing.T) {
	fx := newFixture(t)
	fx.addLogo(t, "half", 2, 2, color.NRGBA{R: 255, G: 0, B: 200, A: 128})

	f := frame.New(4, 4)
	fx.comp.Apply(context.Background(), f, []overlay.Descriptor{
		{ID: "l1", Kind: overlay.KindLogo, Content: "half", X: 1, Y: 1, Scale: 1},
	})

	// (128*255 + 127*0 + 127) / 255 = 128, (128*200 + 127) / 255 = 100
	assert.Equal(t, [3]uint8{128, 0, 100}, pixel(f, 1, 1))
	assert.Equal(t, [3]uint8{0, 0, 0}, pixel(f, 0, 0))
}

func TestLogoOutOfBoundsLeavesFrameIdentical(t *testing.T) {
	fx := newFixture(t)
	fx.addLogo(t, "logo", 8, 8, color.NRGBA{R: 255, A: 255})

	cases := []overlay.Descriptor{
		{ID: "right", Kind: overlay.KindLogo, Content: "logo", X: 10, Y: 0, Scale: 1},
		{ID: "bottom", Kind: overlay.KindLogo, Content: "logo", X: 0, Y: 9, Scale: 1},
		{ID: "negative", Kind: overlay.KindLogo, Content: "logo", X: -1, Y: 0, Scale: 1},
		{ID: "scaled", Kind: overlay.KindLogo, Content: "logo", X: 0, Y: 0, Scale: 3},
	}
	for _, d := range cases {
		t.Run(d.ID, func(t *testing.T) {
			f := grey(16, 16)
			orig := f.Clone()
			fx.comp.Apply(context.Background(), f, []overlay.Descriptor{d})
			assert.Equal(t, orig.Pix, f.Pix)
		})
	}

	require.Len(t, fx.failures, len(cases))
	for _, fail := range fx.failures {
		assert.Equal(t, ReasonOutOfBounds, fail.Reason)
		assert.ErrorIs(t, fail, ErrOverlayApply)
	}
}

func TestOversizedLogoSkippedBeforeResize(t *testing.T) {
	fx := newFixture(t)
	fx.addLogo(t, "logo", 100, 100, color.NRGBA{R: 255, A: 255})

	// warm the cache so only the scaling path is measured
	fx.comp.Apply(context.Background(), grey(128, 128), []overlay.Descriptor{
		{ID: "warm", Kind: overlay.KindLogo, Content: "logo", Scale: 1},
	})

	f := grey(64, 48)
	orig := f.Clone()

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	fx.comp.Apply(context.Background(), f, []overlay.Descriptor{
		{ID: "huge", Kind: overlay.KindLogo, Content: "logo", Scale: overlay.MaxScale},
	})
	runtime.ReadMemStats(&after)

	assert.Equal(t, orig.Pix, f.Pix)
	// a 2000x2000 NRGBA variant alone would be 16MB
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))

	require.Len(t, fx.failures, 1)
	assert.Equal(t, "huge", fx.failures[0].ID)
	assert.Equal(t, ReasonOutOfBounds, fx.failures[0].Reason)
}

func TestScaleAboveMaxIsInvalid(t *testing.T) {
	fx := newFixture(t)
	fx.addLogo(t, "logo", 4, 4, color.NRGBA{R: 255, A: 255})

	f := grey(8, 8)
	orig := f.Clone()
	fx.comp.Apply(context.Background(), f, []overlay.Descriptor{
		{ID: "logo", Kind: overlay.KindLogo, Content: "logo", Scale: 1000},
		{ID: "text", Kind: overlay.KindText, Content: "x", Y: 6, Scale: 1000},
	})

	assert.Equal(t, orig.Pix, f.Pix)
	require.Len(t, fx.failures, 2)
	for _, fail := range fx.failures {
		assert.Equal(t, ReasonInvalid, fail.Reason)
	}
}

func TestLogoExactFit(t *testing.T) {
	fx := newFixture(t)
	fx.addLogo(t, "logo", 8, 8, color.NRGBA{G: 255, A: 255})

	f := grey(16, 16)
	fx.comp.Apply(context.Background(), f, []overlay.Descriptor{
		{ID: "corner", Kind: overlay.KindLogo, Content: "logo", X: 8, Y: 8, Scale: 1},
	})
	assert.Equal(t, [3]uint8{0, 255, 0}, pixel(f, 15, 15))
	assert.Empty(t, fx.failures)
}

func TestLogoScaled(t *testing.T) {
	fx := newFixture(t)
	fx.addLogo(t, "logo", 8, 8, color.NRGBA{B: 255, A: 255})

	f := grey(16, 16)
	orig := f.Clone()
	fx.comp.Apply(context.Background(), f, []overlay.Descriptor{
		{ID: "half", Kind: overlay.KindLogo, Content: "logo", X: 2, Y: 2, Scale: 0.5},
	})

	rect := image.Rect(2, 2, 6, 6)
	assert.Equal(t, [3]uint8{0, 0, 255}, pixel(f, 5, 5))
	_, changed := changedOutside(orig, f, rect)
	assert.False(t, changed)
}

func TestEmptyLogoContentUsesDefault(t *testing.T) {
	fx := newFixture(t)
	fx.addLogo(t, "logo", 2, 2, color.NRGBA{R: 1, G: 2, B: 3, A: 255})

	f := grey(8, 8)
	fx.comp.Apply(context.Background(), f, []overlay.Descriptor{
		{ID: "l1", Kind: overlay.KindLogo, X: 0, Y: 0, Scale: 1},
	})
	assert.Equal(t, [3]uint8{1, 2, 3}, pixel(f, 0, 0))
}

func TestInvalidDescriptorIsolated(t *testing.T) {
	fx := newFixture(t)
	fx.addLogo(t, "logo", 2, 2, color.NRGBA{R: 255, A: 255})

	descs := []overlay.Descriptor{
		{ID: "no-content", Kind: overlay.KindText, X: 0, Y: 10, Scale: 1},
		{ID: "no-type", Content: "x", Scale: 1},
		{ID: "zero-size", Kind: overlay.KindText, Content: "x", Scale: 0},
		{ID: "missing", Kind: overlay.KindLogo, Content: "nope.png", Scale: 1},
		{ID: "good", Kind: overlay.KindLogo, Content: "logo", X: 3, Y: 3, Scale: 1},
	}

	f := grey(8, 8)
	orig := f.Clone()
	require.NotPanics(t, func() {
		fx.comp.Apply(context.Background(), f, descs)
	})

	assert.Equal(t, [3]uint8{255, 0, 0}, pixel(f, 3, 3))
	_, changed := changedOutside(orig, f, image.Rect(3, 3, 5, 5))
	assert.False(t, changed)

	require.Len(t, fx.failures, 4)
	reasons := map[string]string{}
	for _, fail := range fx.failures {
		reasons[fail.ID] = fail.Reason
	}
	assert.Equal(t, map[string]string{
		"no-content": ReasonInvalid,
		"no-type":    ReasonInvalid,
		"zero-size":  ReasonInvalid,
		"missing":    ReasonAsset,
	}, reasons)
	assert.ErrorIs(t, fx.failures[0], overlay.ErrInvalid)
	assert.ErrorIs(t, fx.failures[3], assets.ErrAssetUnavailable)
}

func TestLaterOverlaysOcclude(t *testing.T) {
	fx := newFixture(t)
	fx.addLogo(t, "red", 4, 4, color.NRGBA{R: 255, A: 255})
	fx.addLogo(t, "blue", 4, 4, color.NRGBA{B: 255, A: 255})

	f := grey(8, 8)
	fx.comp.Apply(context.Background(), f, []overlay.Descriptor{
		{ID: "a", Kind: overlay.KindLogo, Content: "red", X: 0, Y: 0, Scale: 1},
		{ID: "b", Kind: overlay.KindLogo, Content: "blue", X: 2, Y: 2, Scale: 1},
	})

	assert.Equal(t, [3]uint8{255, 0, 0}, pixel(f, 1, 1))
	assert.Equal(t, [3]uint8{0, 0, 255}, pixel(f, 2, 2))
	assert.Equal(t, [3]uint8{0, 0, 255}, pixel(f, 5, 5))
}

type panicLogos struct{}

func (panicLogos) Get(string) (*assets.Logo, error) {
	panic("decoder exploded")
}

func TestPanicIsRecovered(t *testing.T) {
	comp, err := New(panicLogos{}, DefaultOptions(), zerolog.Nop())
	require.NoError(t, err)
	defer comp.Close()

	var got []*Failure
	comp.OnFailure(func(f *Failure) { got = append(got, f) })

	f := grey(64, 64)
	require.NotPanics(t, func() {
		comp.Apply(context.Background(), f, []overlay.Descriptor{
			{ID: "boom", Kind: overlay.KindLogo, Content: "x", Scale: 1},
			{ID: "txt", Kind: overlay.KindText, Content: "ok", X: 2, Y: 30, Scale: 1},
		})
	})

	require.Len(t, got, 1)
	assert.Equal(t, ReasonPanic, got[0].Reason)
}

func TestApplyMalformedFrame(t *testing.T) {
	fx := newFixture(t)
	f := &frame.Frame{Width: 4, Height: 4, Pix: make([]byte, 5)}
	out := fx.comp.Apply(context.Background(), f, []overlay.Descriptor{
		{ID: "t", Kind: overlay.KindText, Content: "x", Scale: 1},
	})
	assert.Same(t, f, out)
	assert.Equal(t, make([]byte, 5), f.Pix)
}

func TestBlendBounds(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 9, A: 255})
	src.SetNRGBA(1, 0, color.NRGBA{G: 9, A: 255})

	f := frame.New(3, 2)
	Blend(f, src, image.Point{X: 1, Y: 1})
	assert.Equal(t, [3]uint8{9, 0, 0}, pixel(f, 1, 1))
	assert.Equal(t, [3]uint8{0, 9, 0}, pixel(f, 2, 1))
	assert.Equal(t, [3]uint8{0, 0, 0}, pixel(f, 0, 1))
}
