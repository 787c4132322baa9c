package compositor

import (
	"image"

	"github.com/kikiluvv/overlaycast/internal/frame"
)

// Blend alpha-blends src onto f with its top-left corner at at:
//
//	out = (a*src + (255-a)*dst + 127) / 255
//
// per channel, with a the source pixel's straight alpha. The caller
// guarantees the target rectangle lies inside f.
func Blend(f *frame.Frame, src *image.NRGBA, at image.Point) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for y := 0; y < h; y++ {
		s := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y)
		d := f.PixOffset(at.X, at.Y+y)
		for x := 0; x < w; x, s, d = x+1, s+4, d+frame.Channels {
			a := uint32(src.Pix[s+3])
			switch a {
			case 0:
				continue
			case 255:
				f.Pix[d] = src.Pix[s]
				f.Pix[d+1] = src.Pix[s+1]
				f.Pix[d+2] = src.Pix[s+2]
				continue
			}
			na := 255 - a
			f.Pix[d] = uint8((a*uint32(src.Pix[s]) + na*uint32(f.Pix[d]) + 127) / 255)
			f.Pix[d+1] = uint8((a*uint32(src.Pix[s+1]) + na*uint32(f.Pix[d+1]) + 127) / 255)
			f.Pix[d+2] = uint8((a*uint32(src.Pix[s+2]) + na*uint32(f.Pix[d+2]) + 127) / 255)
		}
	}
}
