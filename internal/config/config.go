package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kikiluvv/overlaycast/internal/overlay"
	"github.com/kikiluvv/overlaycast/pkg/util"
)

type contextKey string

const configKey contextKey = "config"

// Config holds all application configuration
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	FFmpeg   FFmpegConfig  `yaml:"ffmpeg"`
	Source   SourceConfig  `yaml:"source"`
	Encoder  EncoderConfig `yaml:"encoder"`
	Overlays OverlayConfig `yaml:"overlays"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins       []string      `yaml:"cors_origins"`
}

type FFmpegConfig struct {
	BinaryPath    string `yaml:"binary_path"`
	ProbePath     string `yaml:"probe_path"`
	Threads       int    `yaml:"threads"`
	RTSPTransport string `yaml:"rtsp_transport"`
	LogLevel      string `yaml:"log_level"`
}

// SourceConfig sizes decoded frames and bounds reconnects.
// Width/Height of 0 keep the source's native size (probed).
type SourceConfig struct {
	Width     int             `yaml:"width"`
	Height    int             `yaml:"height"`
	FPS       float64         `yaml:"fps"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig: MaxAttempts 0 retries forever.
type ReconnectConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

type EncoderConfig struct {
	Quality int `yaml:"quality"`
}

type OverlayConfig struct {
	AssetDir     string               `yaml:"asset_dir"`
	DefaultLogo  string               `yaml:"default_logo"`
	Assets       map[string]string    `yaml:"assets"`
	ResizeFilter string               `yaml:"resize_filter"`
	FontSize     float64              `yaml:"font_size"`
	Stroke       int                  `yaml:"stroke"`
	Seed         []overlay.Descriptor `yaml:"seed,omitempty"`
}

// Load reads configuration from file or returns defaults
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate rejects values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Source.Width < 0 || c.Source.Height < 0 {
		return fmt.Errorf("source.width and source.height cannot be negative")
	}
	if (c.Source.Width == 0) != (c.Source.Height == 0) {
		return fmt.Errorf("source.width and source.height must be set together")
	}
	if c.Source.FPS < 0 {
		return fmt.Errorf("source.fps cannot be negative")
	}
	if c.Source.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("source.reconnect.max_attempts cannot be negative")
	}
	if c.Source.Reconnect.Multiplier != 0 && c.Source.Reconnect.Multiplier < 1 {
		return fmt.Errorf("source.reconnect.multiplier must be >= 1")
	}
	if c.Encoder.Quality < 1 || c.Encoder.Quality > 100 {
		return fmt.Errorf("encoder.quality must be between 1 and 100")
	}
	switch c.Overlays.ResizeFilter {
	case "", "bilinear", "nearest":
	default:
		return fmt.Errorf("overlays.resize_filter must be bilinear or nearest, got %q", c.Overlays.ResizeFilter)
	}
	if c.Overlays.FontSize <= 0 {
		return fmt.Errorf("overlays.font_size must be positive")
	}
	if c.Overlays.Stroke < 1 {
		return fmt.Errorf("overlays.stroke must be at least 1")
	}
	switch c.FFmpeg.RTSPTransport {
	case "", "tcp", "udp":
	default:
		return fmt.Errorf("ffmpeg.rtsp_transport must be tcp or udp, got %q", c.FFmpeg.RTSPTransport)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":5000",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   5 * time.Second,
			CORSOrigins:       []string{"*"},
		},
		FFmpeg: FFmpegConfig{
			BinaryPath:    "ffmpeg",
			ProbePath:     "ffprobe",
			Threads:       0,
			RTSPTransport: "tcp",
			LogLevel:      "error",
		},
		Source: SourceConfig{
			Reconnect: ReconnectConfig{
				MaxAttempts:  10,
				InitialDelay: 500 * time.Millisecond,
				MaxDelay:     10 * time.Second,
				Multiplier:   2,
			},
		},
		Encoder: EncoderConfig{
			Quality: 80,
		},
		Overlays: OverlayConfig{
			AssetDir:     "./assets",
			DefaultLogo:  "logo",
			Assets:       map[string]string{"logo": "./assets/logo-overlay.png"},
			ResizeFilter: "bilinear",
			FontSize:     24,
			Stroke:       2,
		},
	}
}

// Default returns the built-in configuration
func Default() *Config {
	return defaultConfig()
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
		filepath.Join(os.Getenv("HOME"), ".overlaycast", "config.yaml"),
	}

	for _, path := range candidates {
		if util.FileExists(path) {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
