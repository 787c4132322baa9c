package ffmpeg

import "time"

// VideoInfo contains metadata about a video source
type VideoInfo struct {
	Source     string
	Duration   time.Duration
	Width      int
	Height     int
	FPS        float64
	Bitrate    int64
	VideoCodec string
}

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args       []string
	LogHandler func(line string)
}

// Options configures an Executor
type Options struct {
	BinaryPath string
	ProbePath  string
	Threads    int
	// RTSPTransport is passed as -rtsp_transport for rtsp:// inputs
	RTSPTransport string
	// LogLevel is ffmpeg's -loglevel for capture processes
	LogLevel string
}

// CaptureOptions configures a raw frame capture process
type CaptureOptions struct {
	Input  string
	Width  int
	Height int
	// FPS of 0 keeps the source rate
	FPS float64
	// Realtime reads the input at its native rate (-re), for files
	Realtime bool
}

// Default capture settings
const (
	DefaultLogLevel  = "error"
	CapturePixFmt    = "rgb24"
	CaptureFormat    = "rawvideo"
	captureWaitDelay = 2 * time.Second
)
