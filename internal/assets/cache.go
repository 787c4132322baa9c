package assets

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
)

// ErrAssetUnavailable wraps every failure to produce a logo
var ErrAssetUnavailable = errors.New("logo asset unavailable")

// Filter names accepted by ParseFilter
const (
	FilterBilinear = "bilinear"
	FilterNearest  = "nearest"
)

// ParseFilter maps a config name to a resize filter
func ParseFilter(name string) (resize.InterpolationFunction, error) {
	switch name {
	case "", FilterBilinear:
		return resize.Bilinear, nil
	case FilterNearest:
		return resize.NearestNeighbor, nil
	default:
		return 0, fmt.Errorf("unknown resize filter %q", name)
	}
}

// Logo is a decoded RGBA image with straight (non-premultiplied) alpha.
// The image is never mutated after load.
type Logo struct {
	Name  string
	Path  string
	Image *image.NRGBA

	modTime time.Time
	size    int64
	filter  resize.InterpolationFunction

	mu     sync.Mutex
	scaled map[float64]*image.NRGBA
}

// maxScaledVariants bounds the per-logo memo; it is cleared when full
const maxScaledVariants = 16

// ScaledSize returns the dimensions Scaled would produce for factor,
// truncated toward zero, without resizing anything.
func (l *Logo) ScaledSize(factor float64) (w, h int) {
	b := l.Image.Bounds()
	return int(float64(b.Dx()) * factor), int(float64(b.Dy()) * factor)
}

// Scaled returns the logo resized by factor, memoised per factor.
// Callers should check ScaledSize against their target first: the
// result is allocated in full.
func (l *Logo) Scaled(factor float64) (*image.NRGBA, error) {
	w, h := l.ScaledSize(factor)
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("%w: %s scaled by %v is empty", ErrAssetUnavailable, l.Name, factor)
	}
	b := l.Image.Bounds()
	if w == b.Dx() && h == b.Dy() {
		return l.Image, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if img, ok := l.scaled[factor]; ok {
		return img, nil
	}

	img := toNRGBA(resize.Resize(uint(w), uint(h), l.Image, l.filter))
	if len(l.scaled) >= maxScaledVariants {
		clear(l.scaled)
	}
	l.scaled[factor] = img
	return img, nil
}

func (l *Logo) current(fi os.FileInfo) bool {
	return l.modTime.Equal(fi.ModTime()) && l.size == fi.Size()
}

// Options configures a Cache
type Options struct {
	// DefaultName is used when a descriptor names no asset
	DefaultName string
	Filter      resize.InterpolationFunction
}

// Cache decodes logos once and shares them between pipelines. An entry
// is reloaded only when the backing file's mtime or size changes.
type Cache struct {
	logger   zerolog.Logger
	resolver Resolver
	opts     Options

	mu      sync.RWMutex
	entries map[string]*Logo

	loads atomic.Int64
}

// NewCache creates a logo cache
func NewCache(logger zerolog.Logger, resolver Resolver, opts Options) *Cache {
	return &Cache{
		logger:   logger.With().Str("component", "logo-cache").Logger(),
		resolver: resolver,
		opts:     opts,
		entries:  make(map[string]*Logo),
	}
}

// Get resolves name and returns the decoded logo
func (c *Cache) Get(name string) (*Logo, error) {
	if name == "" {
		name = c.opts.DefaultName
	}

	path, err := c.resolver.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAssetUnavailable, err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAssetUnavailable, err)
	}

	c.mu.RLock()
	logo := c.entries[path]
	c.mu.RUnlock()
	if logo != nil && logo.current(fi) {
		return logo, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if logo := c.entries[path]; logo != nil && logo.current(fi) {
		return logo, nil
	}

	logo, err = c.load(name, path, fi)
	if err != nil {
		return nil, err
	}
	c.entries[path] = logo
	return logo, nil
}

// Loads returns how many times an asset was decoded from disk
func (c *Cache) Loads() int64 {
	return c.loads.Load()
}

// Invalidate drops every cached entry
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Logo)
}

func (c *Cache) load(name, path string, fi os.FileInfo) (*Logo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAssetUnavailable, err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrAssetUnavailable, path, err)
	}

	c.loads.Add(1)
	c.logger.Info().
		Str("asset", name).
		Str("path", path).
		Str("format", format).
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Msg("logo loaded")

	return &Logo{
		Name:    name,
		Path:    path,
		Image:   toNRGBA(img),
		modTime: fi.ModTime(),
		size:    fi.Size(),
		filter:  c.opts.Filter,
		scaled:  make(map[float64]*image.NRGBA),
	}, nil
}

// toNRGBA returns img as a zero-origin *image.NRGBA
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
