package frame

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAllocatesPackedRGB(t *testing.T) {
	f := New(4, 3)
	assert.Equal(t, 4*3*Channels, len(f.Pix))
	assert.True(t, f.Valid())
	assert.Equal(t, image.Rect(0, 0, 4, 3), f.Bounds())
}

func TestNewNegativeDimensions(t *testing.T) {
	f := New(-1, 5)
	assert.Equal(t, 0, f.Width)
	assert.False(t, f.Valid())
}

func TestSetAndAt(t *testing.T) {
	f := New(2, 2)
	f.Set(1, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, f.At(1, 0))
	assert.Equal(t, color.RGBA{A: 255}, f.At(0, 0))

	// out of bounds is ignored
	f.Set(5, 5, color.White)
	assert.Equal(t, color.RGBA{}, f.At(5, 5))
}

func TestFromImageDropsAlphaAndOffset(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 12, 11))
	src.Set(10, 10, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	src.Set(11, 10, color.RGBA{R: 4, G: 5, B: 6, A: 255})

	f := FromImage(src)
	require.Equal(t, 2, f.Width)
	require.Equal(t, 1, f.Height)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, f.Pix)
}

func TestCloneIsDeep(t *testing.T) {
	f := New(1, 1)
	f.Seq = 7
	c := f.Clone()
	c.Pix[0] = 99

	assert.Equal(t, uint64(7), c.Seq)
	assert.Equal(t, byte(0), f.Pix[0])
}

func TestRGBAConversion(t *testing.T) {
	f := New(2, 1)
	f.Fill(color.RGBA{R: 200, G: 100, B: 50})

	img := f.RGBA()
	assert.Equal(t, []byte{200, 100, 50, 255, 200, 100, 50, 255}, img.Pix)
}
