package source

import (
	"context"
	"time"

	"github.com/kikiluvv/overlaycast/internal/ffmpeg"
	"github.com/kikiluvv/overlaycast/internal/frame"
	"github.com/kikiluvv/overlaycast/pkg/util"
)

// FFmpegOpener opens sources by decoding them with an ffmpeg process.
// Width and Height of 0 keep the source's native size.
type FFmpegOpener struct {
	Exec   *ffmpeg.Executor
	Width  int
	Height int
	FPS    float64
}

// Open starts an ffmpeg capture for address. Local files are read at
// their native rate so they behave like a live feed.
func (o *FFmpegOpener) Open(ctx context.Context, address string) (Handle, error) {
	c, err := o.Exec.StartCapture(ctx, ffmpeg.CaptureOptions{
		Input:    address,
		Width:    o.Width,
		Height:   o.Height,
		FPS:      o.FPS,
		Realtime: util.FileExists(address),
	})
	if err != nil {
		return nil, err
	}
	return &captureHandle{capture: c}, nil
}

type captureHandle struct {
	capture *ffmpeg.Capture
}

func (h *captureHandle) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	f := frame.New(h.capture.Width(), h.capture.Height())
	if err := h.capture.ReadFrame(f.Pix); err != nil {
		return nil, err
	}
	f.Timestamp = time.Now()
	return f, nil
}

func (h *captureHandle) Close() error {
	return h.capture.Close()
}
