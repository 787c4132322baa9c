package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kikiluvv/overlaycast/internal/compositor"
	"github.com/kikiluvv/overlaycast/internal/encoder"
	"github.com/kikiluvv/overlaycast/internal/metrics"
	"github.com/kikiluvv/overlaycast/internal/overlay"
	"github.com/kikiluvv/overlaycast/internal/source"
	"github.com/kikiluvv/overlaycast/internal/stream"
)

// Session processes frames for one viewer. It is not safe for
// concurrent use; cancel the context passed to Next to stop it from
// another goroutine.
type Session struct {
	id      string
	logger  zerolog.Logger
	reader  *source.Reader
	comp    *compositor.Compositor
	encoder encoder.Encoder
	store   overlay.Lister
	metrics *metrics.Metrics
	span    trace.Span

	reconnectsSeen int64
	frames         atomic.Int64
	dropped        atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

var _ stream.FrameSource = (*Session)(nil)

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Next reads one frame, draws the current overlays onto it, and returns
// it encoded. Frames that fail to encode are dropped and the next one
// is read. When the source ends the error wraps both io.EOF and
// source.ErrEndOfStream.
func (s *Session) Next(ctx context.Context) ([]byte, error) {
	for {
		f, err := s.reader.Read(ctx)
		s.syncReconnects()
		if err != nil {
			if errors.Is(err, source.ErrEndOfStream) || errors.Is(err, source.ErrClosed) {
				s.logger.Info().Err(err).Msg("source ended")
				return nil, fmt.Errorf("%w: %w", io.EOF, err)
			}
			return nil, err
		}
		s.metrics.FrameRead()

		descs, err := s.store.List(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn().Err(err).Uint64("seq", f.Seq).Msg("overlay listing failed, frame passes through")
			descs = nil
		}
		s.metrics.OverlaysListed(len(descs))

		s.comp.Apply(ctx, f, descs)

		start := time.Now()
		data, err := s.encoder.Encode(f)
		s.metrics.ObserveEncode(time.Since(start))
		if err != nil {
			s.dropped.Add(1)
			s.metrics.FrameDropped(metrics.DropEncode)
			s.logger.Warn().Err(err).Uint64("seq", f.Seq).Msg("frame dropped")
			continue
		}

		s.frames.Add(1)
		s.metrics.FrameStreamed()
		return data, nil
	}
}

func (s *Session) syncReconnects() {
	n := s.reader.Reconnects()
	if d := n - s.reconnectsSeen; d > 0 {
		s.metrics.Reconnects(d)
		s.span.AddEvent("source.reconnected", trace.WithAttributes(attribute.Int64("reconnects", n)))
		s.reconnectsSeen = n
	}
}

// Stats returns counters for the session so far
func (s *Session) Stats() Stats {
	return Stats{
		Frames:     s.frames.Load(),
		Dropped:    s.dropped.Load(),
		Reconnects: s.reader.Reconnects(),
	}
}

// Close releases the source handle and ends the session span. It is
// idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.reader.Close(), s.comp.Close())
		s.metrics.StreamClosed()

		stats := s.Stats()
		s.span.SetAttributes(
			attribute.Int64("frames", stats.Frames),
			attribute.Int64("dropped", stats.Dropped),
			attribute.Int64("reconnects", stats.Reconnects),
		)
		if s.closeErr != nil {
			s.span.RecordError(s.closeErr)
			s.span.SetStatus(codes.Error, "close")
		}
		s.span.End()

		s.logger.Info().
			Int64("frames", stats.Frames).
			Int64("dropped", stats.Dropped).
			Int64("reconnects", stats.Reconnects).
			Msg("session closed")
	})
	return s.closeErr
}
