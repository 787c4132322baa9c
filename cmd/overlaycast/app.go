package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/kikiluvv/overlaycast/internal/assets"
	"github.com/kikiluvv/overlaycast/internal/compositor"
	"github.com/kikiluvv/overlaycast/internal/config"
	"github.com/kikiluvv/overlaycast/internal/ffmpeg"
	"github.com/kikiluvv/overlaycast/internal/metrics"
	"github.com/kikiluvv/overlaycast/internal/overlay"
	"github.com/kikiluvv/overlaycast/internal/pipeline"
	"github.com/kikiluvv/overlaycast/internal/source"
)

// app bundles everything serve needs, built from config
type app struct {
	registry *assets.Registry
	store    *overlay.MemoryStore
	gatherer prometheus.Gatherer
	pipeline *pipeline.Pipeline
}

func newExecutor(logger zerolog.Logger, cfg *config.Config) (*ffmpeg.Executor, error) {
	return ffmpeg.New(logger, ffmpeg.Options{
		BinaryPath:    cfg.FFmpeg.BinaryPath,
		ProbePath:     cfg.FFmpeg.ProbePath,
		Threads:       cfg.FFmpeg.Threads,
		RTSPTransport: cfg.FFmpeg.RTSPTransport,
		LogLevel:      cfg.FFmpeg.LogLevel,
	})
}

func newRegistry(cfg *config.Config) *assets.Registry {
	reg := assets.NewRegistry(cfg.Overlays.AssetDir)
	for name, path := range cfg.Overlays.Assets {
		reg.Register(name, path)
	}
	return reg
}

func newApp(logger zerolog.Logger, cfg *config.Config) (*app, error) {
	exec, err := newExecutor(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ffmpeg: %w", err)
	}

	filter, err := assets.ParseFilter(cfg.Overlays.ResizeFilter)
	if err != nil {
		return nil, err
	}

	registry := newRegistry(cfg)
	logos := assets.NewCache(logger, registry, assets.Options{
		DefaultName: cfg.Overlays.DefaultLogo,
		Filter:      filter,
	})

	store, err := overlay.NewMemoryStore(cfg.Overlays.Seed...)
	if err != nil {
		return nil, fmt.Errorf("overlay seed: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if err := m.Register(); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	render := compositor.DefaultOptions()
	render.FontSize = cfg.Overlays.FontSize
	render.Stroke = cfg.Overlays.Stroke

	rc := cfg.Source.Reconnect
	pipe, err := pipeline.New(logger, pipeline.Deps{
		Opener: &source.FFmpegOpener{
			Exec:   exec,
			Width:  cfg.Source.Width,
			Height: cfg.Source.Height,
			FPS:    cfg.Source.FPS,
		},
		Store:   store,
		Logos:   logos,
		Metrics: m,
	}, &pipeline.Config{
		Policy: source.Policy{
			MaxAttempts:  rc.MaxAttempts,
			InitialDelay: rc.InitialDelay,
			MaxDelay:     rc.MaxDelay,
			Multiplier:   rc.Multiplier,
		},
		Quality: cfg.Encoder.Quality,
		Render:  render,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		registry: registry,
		store:    store,
		gatherer: reg,
		pipeline: pipe,
	}, nil
}
