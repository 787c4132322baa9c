package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"sync"
	"testing"

	"github.com/nfnt/resize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kikiluvv/overlaycast/internal/assets"
	"github.com/kikiluvv/overlaycast/internal/frame"
	"github.com/kikiluvv/overlaycast/internal/metrics"
	"github.com/kikiluvv/overlaycast/internal/overlay"
	"github.com/kikiluvv/overlaycast/internal/source"
	"github.com/kikiluvv/overlaycast/internal/stream"
)

// gradient returns a deterministic test card
func gradient(w, h int) *frame.Frame {
	f := frame.New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := f.PixOffset(x, y)
			f.Pix[i] = uint8(x / 4)
			f.Pix[i+1] = uint8(y / 4)
			f.Pix[i+2] = 96
		}
	}
	return f
}

type scriptHandle struct {
	mu     sync.Mutex
	frames []*frame.Frame
	closed bool
}

func (h *scriptHandle) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.New("closed")
	}
	if len(h.frames) == 0 {
		return nil, io.EOF
	}
	f := h.frames[0]
	h.frames = h.frames[1:]
	return f, nil
}

func (h *scriptHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// oneShot opens h once; every later open fails
func oneShot(h source.Handle) source.Opener {
	var mu sync.Mutex
	used := false
	return source.OpenerFunc(func(ctx context.Context, address string) (source.Handle, error) {
		mu.Lock()
		defer mu.Unlock()
		if used {
			return nil, errors.New("camera offline")
		}
		used = true
		return h, nil
	})
}

type failingLister struct{}

func (failingLister) List(context.Context) ([]overlay.Descriptor, error) {
	return nil, errors.New("store down")
}

type recordingTracer struct {
	noop.Tracer
	mu    sync.Mutex
	names []string
}

func (r *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
	return r.Tracer.Start(ctx, name, opts...)
}

func newPipeline(t *testing.T, opener source.Opener, store overlay.Lister, m *metrics.Metrics, tracer trace.Tracer) *Pipeline {
	t.Helper()
	reg := assets.NewRegistry(t.TempDir())
	cache := assets.NewCache(zerolog.Nop(), reg, assets.Options{DefaultName: "logo", Filter: resize.Bilinear})

	cfg := DefaultConfig()
	cfg.Policy = source.Policy{MaxAttempts: 1}

	p, err := New(zerolog.Nop(), Deps{
		Opener:  opener,
		Store:   store,
		Logos:   cache,
		Metrics: m,
		Tracer:  tracer,
	}, cfg)
	require.NoError(t, err)
	return p
}

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestLiveTextEndToEnd(t *testing.T) {
	white := overlay.Color{255, 255, 255}
	store, err := overlay.NewMemoryStore(overlay.Descriptor{
		Kind: overlay.KindText, Content: "LIVE", X: 10, Y: 30, Scale: 1, Color: &white,
	})
	require.NoError(t, err)

	h := &scriptHandle{frames: []*frame.Frame{gradient(640, 480)}}
	p := newPipeline(t, oneShot(h), store, nil, nil)

	sess, err := p.Open(context.Background(), "rtsp://cam/live")
	require.NoError(t, err)
	defer sess.Close()

	data, err := sess.Next(context.Background())
	require.NoError(t, err)
	got := decode(t, data)
	assert.Equal(t, image.Rect(0, 0, 640, 480), got.Bounds())

	plain, err := p.encoder.Encode(gradient(640, 480))
	require.NoError(t, err)
	want := decode(t, plain)

	// JPEG works on independent 16x16 blocks, so everything outside the
	// blocks the text touches must decode identically
	near := image.Rect(0, 0, 192, 80)
	diffInside := false
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			same := got.At(x, y) == want.At(x, y)
			if (image.Point{x, y}).In(near) {
				diffInside = diffInside || !same
				continue
			}
			if !same {
				t.Fatalf("pixel (%d,%d) changed away from the text", x, y)
			}
		}
	}
	assert.True(t, diffInside, "text left no trace near (10,30)")
}

func TestSessionStreamsThroughMultiplexer(t *testing.T) {
	store, err := overlay.NewMemoryStore()
	require.NoError(t, err)

	h := &scriptHandle{frames: []*frame.Frame{gradient(64, 48), gradient(64, 48), gradient(64, 48)}}
	p := newPipeline(t, oneShot(h), store, nil, nil)

	sess, err := p.Open(context.Background(), "rtsp://cam/live")
	require.NoError(t, err)
	defer sess.Close()

	var buf bytes.Buffer
	_, err = stream.New(sess).WriteTo(context.Background(), &buf)
	require.NoError(t, err, "end of source is a clean end of stream")
	assert.Equal(t, 3, bytes.Count(buf.Bytes(), []byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")))
	assert.Equal(t, int64(3), sess.Stats().Frames)
}

func TestEndOfStreamWrapsSentinels(t *testing.T) {
	store, err := overlay.NewMemoryStore()
	require.NoError(t, err)

	h := &scriptHandle{frames: []*frame.Frame{gradient(16, 16)}}
	p := newPipeline(t, oneShot(h), store, nil, nil)

	sess, err := p.Open(context.Background(), "rtsp://cam/live")
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Next(context.Background())
	require.NoError(t, err)

	_, err = sess.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, err, source.ErrEndOfStream)
	assert.True(t, h.closed)
}

func TestOpenFailureIsSourceUnavailable(t *testing.T) {
	store, err := overlay.NewMemoryStore()
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	require.NoError(t, m.Register())

	tracer := &recordingTracer{}
	opener := source.OpenerFunc(func(context.Context, string) (source.Handle, error) {
		return nil, errors.New("401 unauthorized")
	})
	p := newPipeline(t, opener, store, m, tracer)

	_, err = p.Open(context.Background(), "rtsp://cam/live")
	assert.ErrorIs(t, err, source.ErrSourceUnavailable)
	assert.Equal(t, []string{"pipeline.session"}, tracer.names)
}

func TestStoreFailurePassesFrameThrough(t *testing.T) {
	h := &scriptHandle{frames: []*frame.Frame{gradient(32, 32)}}
	p := newPipeline(t, oneShot(h), failingLister{}, nil, nil)

	sess, err := p.Open(context.Background(), "rtsp://cam/live")
	require.NoError(t, err)
	defer sess.Close()

	data, err := sess.Next(context.Background())
	require.NoError(t, err)

	plain, err := p.encoder.Encode(gradient(32, 32))
	require.NoError(t, err)
	assert.Equal(t, plain, data)
}

func TestEncodeFailureDropsFrame(t *testing.T) {
	store, err := overlay.NewMemoryStore()
	require.NoError(t, err)

	broken := &frame.Frame{Width: 8, Height: 8, Pix: make([]byte, 7)}
	h := &scriptHandle{frames: []*frame.Frame{broken, gradient(8, 8)}}
	p := newPipeline(t, oneShot(h), store, nil, nil)

	sess, err := p.Open(context.Background(), "rtsp://cam/live")
	require.NoError(t, err)
	defer sess.Close()

	data, err := sess.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, decode(t, data).Bounds().Dx())

	stats := sess.Stats()
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, int64(1), stats.Frames)
}

func TestStoreChangesVisibleNextFrame(t *testing.T) {
	store, err := overlay.NewMemoryStore()
	require.NoError(t, err)

	h := &scriptHandle{frames: []*frame.Frame{gradient(64, 64), gradient(64, 64)}}
	p := newPipeline(t, oneShot(h), store, nil, nil)

	sess, err := p.Open(context.Background(), "rtsp://cam/live")
	require.NoError(t, err)
	defer sess.Close()

	first, err := sess.Next(context.Background())
	require.NoError(t, err)

	kind, content := overlay.KindText, "ON AIR"
	_, err = store.Create(context.Background(), overlay.Fields{Kind: &kind, Content: &content})
	require.NoError(t, err)

	second, err := sess.Next(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestCloseReleasesAndIsIdempotent(t *testing.T) {
	store, err := overlay.NewMemoryStore()
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	require.NoError(t, m.Register())

	h := &scriptHandle{frames: []*frame.Frame{gradient(8, 8)}}
	p := newPipeline(t, oneShot(h), store, m, nil)

	sess, err := p.Open(context.Background(), "rtsp://cam/live")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID())

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	assert.True(t, h.closed)

	_, err = sess.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestCanceledContextStopsSession(t *testing.T) {
	store, err := overlay.NewMemoryStore()
	require.NoError(t, err)

	h := &scriptHandle{frames: []*frame.Frame{gradient(8, 8), gradient(8, 8)}}
	p := newPipeline(t, oneShot(h), store, nil, nil)

	sess, err := p.Open(context.Background(), "rtsp://cam/live")
	require.NoError(t, err)
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sess.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, h.closed)
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(zerolog.Nop(), Deps{}, nil)
	assert.Error(t, err)
}
