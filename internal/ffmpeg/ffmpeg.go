package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Executor handles all ffmpeg and ffprobe invocations
type Executor struct {
	logger        zerolog.Logger
	ffmpegPath    string
	ffprobePath   string
	threads       int
	rtspTransport string
	logLevel      string
}

// New creates a new ffmpeg executor
func New(logger zerolog.Logger, opts Options) (*Executor, error) {
	bin := opts.BinaryPath
	if bin == "" {
		bin = "ffmpeg"
	}
	probe := opts.ProbePath
	if probe == "" {
		probe = "ffprobe"
	}

	ffmpegPath, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	ffprobePath, err := exec.LookPath(probe)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	logLevel := opts.LogLevel
	if logLevel == "" {
		logLevel = DefaultLogLevel
	}

	return &Executor{
		logger:        logger.With().Str("component", "ffmpeg").Logger(),
		ffmpegPath:    ffmpegPath,
		ffprobePath:   ffprobePath,
		threads:       opts.Threads,
		rtspTransport: opts.RTSPTransport,
		logLevel:      logLevel,
	}, nil
}

// Run executes ffmpeg to completion with the given arguments
func (e *Executor) Run(ctx context.Context, opts RunOptions) error {
	if len(opts.Args) == 0 {
		return fmt.Errorf("no arguments provided")
	}

	baseArgs := []string{"-y", "-hide_banner", "-nostdin", "-loglevel", "info"}
	if e.threads > 0 {
		baseArgs = append(baseArgs, "-threads", fmt.Sprintf("%d", e.threads))
	}
	args := append(baseArgs, opts.Args...)

	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", args).
		Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		streamLines(stderr, opts.LogHandler)
	}()

	go func() {
		defer wg.Done()
		streamLines(stdout, opts.LogHandler)
	}()

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg execution failed: %w", err)
	}

	e.logger.Debug().Msg("ffmpeg execution completed")
	return nil
}

// streamLines forwards each line of r to handler until EOF
func streamLines(r io.Reader, handler func(string)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || handler == nil {
			continue
		}
		handler(line)
	}
}

// isRTSP reports whether input is an RTSP URL
func isRTSP(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "rtsp://") || strings.HasPrefix(lower, "rtsps://")
}

// inputArgs returns the protocol options placed before -i
func (e *Executor) inputArgs(input string) []string {
	if isRTSP(input) && e.rtspTransport != "" {
		return []string{"-rtsp_transport", e.rtspTransport}
	}
	return nil
}
