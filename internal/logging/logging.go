package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls global logger setup
type Options struct {
	Verbose bool
	// JSON writes raw JSON lines instead of the console format
	JSON bool
	Out  io.Writer
	// Tee receives a JSON copy of every line, e.g. a log file
	Tee io.Writer
}

// Init initializes the global logger
func Init(opts Options) {
	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.InfoLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}

	zerolog.SetGlobalLevel(level)

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var primary io.Writer = out
	if !opts.JSON {
		primary = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
			NoColor:    out != os.Stderr,
		}
	}

	log.Logger = NewLogger(primary, opts.Tee)
}

// NewLogger creates a timestamped logger writing to every non-nil writer
func NewLogger(writers ...io.Writer) zerolog.Logger {
	active := make([]io.Writer, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			active = append(active, w)
		}
	}

	switch len(active) {
	case 0:
		return log.Logger
	case 1:
		return zerolog.New(active[0]).With().Timestamp().Logger()
	}

	multi := zerolog.MultiLevelWriter(active...)
	return zerolog.New(multi).With().Timestamp().Logger()
}

// WithComponent creates a logger with a component field
func WithComponent(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}
