package frame

import (
	"image"
	"image/color"
	"time"
)

// Channels is the number of bytes per pixel in a Frame (R, G, B).
const Channels = 3

// Frame is a packed RGB pixel buffer captured from a source.
//
// A Frame belongs to the pipeline session that read it and is never
// shared between sessions. It implements draw.Image so text and logos
// can be drawn into it in place.
type Frame struct {
	// Seq is the monotonic sequence number assigned by the source reader
	Seq uint64
	// Timestamp is when the frame was read
	Timestamp time.Time
	Width     int
	Height    int
	// Pix holds Width*Height*Channels bytes, row-major, stride Width*Channels
	Pix []byte
}

// New allocates a black frame of the given size.
func New(width, height int) *Frame {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*Channels),
	}
}

// Size returns the byte length of a frame with the given dimensions.
func Size(width, height int) int {
	return width * height * Channels
}

// FromImage copies any image into a new Frame, dropping alpha.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := New(b.Dx(), b.Dy())
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := f.PixOffset(x, y)
			f.Pix[i] = uint8(r >> 8)
			f.Pix[i+1] = uint8(g >> 8)
			f.Pix[i+2] = uint8(bl >> 8)
		}
	}
	return f
}

// Fill paints every pixel with c.
func (f *Frame) Fill(c color.RGBA) {
	for i := 0; i+2 < len(f.Pix); i += Channels {
		f.Pix[i] = c.R
		f.Pix[i+1] = c.G
		f.Pix[i+2] = c.B
	}
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	out := *f
	out.Pix = make([]byte, len(f.Pix))
	copy(out.Pix, f.Pix)
	return &out
}

// Valid reports whether the buffer length matches the dimensions.
func (f *Frame) Valid() bool {
	return f != nil && f.Width > 0 && f.Height > 0 && len(f.Pix) == Size(f.Width, f.Height)
}

// PixOffset returns the index of the first byte of pixel (x, y).
func (f *Frame) PixOffset(x, y int) int {
	return (y*f.Width + x) * Channels
}

func (f *Frame) ColorModel() color.Model { return color.RGBAModel }

func (f *Frame) Bounds() image.Rectangle { return image.Rect(0, 0, f.Width, f.Height) }

func (f *Frame) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(f.Bounds())) {
		return color.RGBA{}
	}
	i := f.PixOffset(x, y)
	return color.RGBA{R: f.Pix[i], G: f.Pix[i+1], B: f.Pix[i+2], A: 0xff}
}

// Set stores c at (x, y). Frames have no alpha channel, so c is
// composited over black before being stored.
func (f *Frame) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(f.Bounds())) {
		return
	}
	rgba := color.RGBAModel.Convert(c).(color.RGBA)
	i := f.PixOffset(x, y)
	f.Pix[i] = rgba.R
	f.Pix[i+1] = rgba.G
	f.Pix[i+2] = rgba.B
}

// RGBA converts the frame into an opaque *image.RGBA, which the JPEG
// encoder handles on its fast path.
func (f *Frame) RGBA() *image.RGBA {
	img := image.NewRGBA(f.Bounds())
	n := f.Width * f.Height
	for p := 0; p < n; p++ {
		s := p * Channels
		d := p * 4
		img.Pix[d] = f.Pix[s]
		img.Pix[d+1] = f.Pix[s+1]
		img.Pix[d+2] = f.Pix[s+2]
		img.Pix[d+3] = 0xff
	}
	return img
}
