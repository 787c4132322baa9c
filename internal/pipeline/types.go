package pipeline

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/kikiluvv/overlaycast/internal/compositor"
	"github.com/kikiluvv/overlaycast/internal/metrics"
	"github.com/kikiluvv/overlaycast/internal/overlay"
	"github.com/kikiluvv/overlaycast/internal/source"
)

// Deps are the collaborators shared by every session
type Deps struct {
	Opener  source.Opener
	Store   overlay.Lister
	Logos   compositor.LogoSource
	Metrics *metrics.Metrics
	// Tracer defaults to the global otel tracer provider
	Tracer trace.Tracer
}

// Config holds pipeline-specific configuration
type Config struct {
	Policy  source.Policy
	Quality int
	Render  compositor.Options
}

// DefaultConfig returns the pipeline defaults
func DefaultConfig() *Config {
	return &Config{
		Policy:  source.DefaultPolicy(),
		Quality: 80,
		Render:  compositor.DefaultOptions(),
	}
}

// Stats summarises one session
type Stats struct {
	Frames     int64
	Dropped    int64
	Reconnects int64
}
