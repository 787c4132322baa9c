package pipeline

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kikiluvv/overlaycast/internal/compositor"
	"github.com/kikiluvv/overlaycast/internal/encoder"
	"github.com/kikiluvv/overlaycast/internal/source"
)

const tracerName = "github.com/kikiluvv/overlaycast/internal/pipeline"

// Pipeline opens per-viewer sessions that read, composite, and encode
// frames from one source address each.
type Pipeline struct {
	logger  zerolog.Logger
	config  *Config
	deps    Deps
	encoder *encoder.JPEG
	tracer  trace.Tracer
}

// New creates a new pipeline instance
func New(logger zerolog.Logger, deps Deps, cfg *Config) (*Pipeline, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if deps.Opener == nil {
		return nil, fmt.Errorf("pipeline requires a source opener")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("pipeline requires an overlay store")
	}
	if deps.Logos == nil {
		return nil, fmt.Errorf("pipeline requires a logo source")
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Pipeline{
		logger:  logger.With().Str("component", "pipeline").Logger(),
		config:  cfg,
		deps:    deps,
		encoder: encoder.NewJPEG(cfg.Quality),
		tracer:  tracer,
	}, nil
}

// Open starts a session on address. The session owns the source handle
// until Close; ctx bounds the source process for the session's life.
// A source that cannot be opened yields source.ErrSourceUnavailable.
func (p *Pipeline) Open(ctx context.Context, address string) (*Session, error) {
	id := ulid.Make().String()
	logger := p.logger.With().Str("session", id).Str("source", address).Logger()

	ctx, span := p.tracer.Start(ctx, "pipeline.session",
		trace.WithAttributes(
			attribute.String("session.id", id),
			attribute.String("source.address", address),
		),
	)

	reader, err := source.Open(ctx, p.deps.Opener, address, p.config.Policy, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "source unavailable")
		span.End()
		logger.Warn().Err(err).Msg("failed to open source")
		return nil, err
	}

	comp, err := compositor.New(p.deps.Logos, p.config.Render, logger)
	if err != nil {
		reader.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "compositor")
		span.End()
		return nil, fmt.Errorf("failed to create compositor: %w", err)
	}

	m := p.deps.Metrics
	comp.OnFailure(func(f *compositor.Failure) {
		m.OverlayFailed(string(f.Kind), f.Reason)
	})
	m.StreamOpened()

	logger.Info().Msg("session opened")

	return &Session{
		id:      id,
		logger:  logger,
		reader:  reader,
		comp:    comp,
		encoder: p.encoder,
		store:   p.deps.Store,
		metrics: m,
		span:    span,
	}, nil
}
