package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Capture is a running ffmpeg process decoding one input to packed
// rgb24 frames on its stdout.
type Capture struct {
	logger zerolog.Logger
	input  string
	width  int
	height int

	cmd    *exec.Cmd
	stdout *os.File
	cancel context.CancelFunc

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

// CaptureArgs returns the ffmpeg arguments for a raw frame capture
func (e *Executor) CaptureArgs(opts CaptureOptions) []string {
	args := []string{"-hide_banner", "-loglevel", e.logLevel, "-nostdin"}
	if e.threads > 0 {
		args = append(args, "-threads", strconv.Itoa(e.threads))
	}
	if opts.Realtime {
		args = append(args, "-re")
	}
	args = append(args, e.inputArgs(opts.Input)...)
	args = append(args, "-i", opts.Input, "-an")

	args = append(args, VideoFilters{}.Scale(opts.Width, opts.Height).FPS(opts.FPS).Args()...)

	return append(args, "-f", CaptureFormat, "-pix_fmt", CapturePixFmt, "pipe:1")
}

// StartCapture launches ffmpeg for opts.Input. When no output size is
// given the input is probed first and its native size is used.
func (e *Executor) StartCapture(ctx context.Context, opts CaptureOptions) (*Capture, error) {
	if opts.Input == "" {
		return nil, fmt.Errorf("capture input is required")
	}

	if opts.Width <= 0 || opts.Height <= 0 {
		info, err := e.ProbeVideo(ctx, opts.Input)
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", opts.Input, err)
		}
		opts.Width, opts.Height = info.Width, info.Height
	}

	args := e.CaptureArgs(opts)
	logger := e.logger.With().Str("input", opts.Input).Logger()
	logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", args).
		Msg("starting capture")

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, e.ffmpegPath, args...)
	cmd.WaitDelay = captureWaitDelay

	// an explicit pipe keeps Wait from closing stdout under a pending read
	r, w, err := os.Pipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stdout = w

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		r.Close()
		w.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		r.Close()
		w.Close()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	w.Close()

	c := &Capture{
		logger: logger,
		input:  opts.Input,
		width:  opts.Width,
		height: opts.Height,
		cmd:    cmd,
		stdout: r,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(c.done)
		streamLines(stderr, func(line string) {
			logger.Debug().Str("stderr", line).Msg("ffmpeg")
		})
		c.waitErr = cmd.Wait()
	}()

	return c, nil
}

// Width of decoded frames
func (c *Capture) Width() int { return c.width }

// Height of decoded frames
func (c *Capture) Height() int { return c.height }

// FrameSize is the byte length of one packed rgb24 frame
func (c *Capture) FrameSize() int {
	return c.width * c.height * 3
}

// ReadFrame fills buf with exactly one frame. io.EOF means the process
// ended cleanly between frames.
func (c *Capture) ReadFrame(buf []byte) error {
	size := c.FrameSize()
	if len(buf) < size {
		return fmt.Errorf("frame buffer too small: %d < %d", len(buf), size)
	}

	if _, err := io.ReadFull(c.stdout, buf[:size]); err != nil {
		if exitErr := c.exitErr(); exitErr != nil {
			return fmt.Errorf("%w: ffmpeg exited: %w", err, exitErr)
		}
		return err
	}
	return nil
}

// exitErr returns the process exit error if it has already been reaped
func (c *Capture) exitErr() error {
	select {
	case <-c.done:
		return c.waitErr
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Close kills the process and waits for it to be reaped
func (c *Capture) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.closeErr = c.stdout.Close()
		<-c.done

		var exitErr *exec.ExitError
		if c.waitErr != nil && !errors.As(c.waitErr, &exitErr) && !errors.Is(c.waitErr, context.Canceled) {
			c.closeErr = errors.Join(c.closeErr, c.waitErr)
		}
		c.logger.Debug().Msg("capture closed")
	})
	return c.closeErr
}
