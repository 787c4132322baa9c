package stream

import (
	"context"
	"errors"
	"io"
	"iter"
	"net/http"
	"sync/atomic"
)

// Boundary separates parts of the multipart stream
const Boundary = "frame"

// ContentType is the response content type for a stream
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// PartContentType is declared by every part
const PartContentType = "image/jpeg"

// ErrConsumed is yielded when a Multiplexer is iterated a second time
var ErrConsumed = errors.New("stream already consumed")

// FrameSource produces encoded frames on demand. io.EOF ends the stream
// cleanly; any other error ends it with that error.
type FrameSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// FrameSourceFunc adapts a function to FrameSource
type FrameSourceFunc func(ctx context.Context) ([]byte, error)

// Next calls f(ctx)
func (f FrameSourceFunc) Next(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// FormatPart appends one multipart chunk carrying payload to dst:
//
//	--frame\r\nContent-Type: image/jpeg\r\n\r\n<payload>\r\n
func FormatPart(dst []byte, payload []byte) []byte {
	dst = append(dst, "--"+Boundary+"\r\n"...)
	dst = append(dst, "Content-Type: "+PartContentType+"\r\n\r\n"...)
	dst = append(dst, payload...)
	return append(dst, "\r\n"...)
}

// partOverhead is the framing added around each payload
var partOverhead = len(FormatPart(nil, nil))

// Multiplexer frames encoded images into a lazy, non-restartable
// sequence of multipart chunks. Each chunk is produced only when the
// consumer asks for it.
type Multiplexer struct {
	src  FrameSource
	used atomic.Bool

	chunks atomic.Int64
}

// New creates a multiplexer over src
func New(src FrameSource) *Multiplexer {
	return &Multiplexer{src: src}
}

// Chunks returns the chunk sequence. The sequence stops after the
// source reports io.EOF, after yielding the source's first other
// error, or when the consumer stops. Iterating a second time yields
// ErrConsumed.
func (m *Multiplexer) Chunks(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if !m.used.CompareAndSwap(false, true) {
			yield(nil, ErrConsumed)
			return
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			payload, err := m.src.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}

			chunk := FormatPart(make([]byte, 0, len(payload)+partOverhead), payload)
			m.chunks.Add(1)
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// Count returns how many chunks have been produced
func (m *Multiplexer) Count() int64 {
	return m.chunks.Load()
}

// WriteTo writes every chunk to w, flushing after each one when w is an
// http.Flusher, so a chunk is on the wire before the next is produced.
// A clean end of stream returns a nil error.
func (m *Multiplexer) WriteTo(ctx context.Context, w io.Writer) (int64, error) {
	flusher, _ := w.(http.Flusher)

	var n int64
	for chunk, err := range m.Chunks(ctx) {
		if err != nil {
			return n, err
		}
		written, err := w.Write(chunk)
		n += int64(written)
		if err != nil {
			return n, err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return n, nil
}

// SetHeaders prepares an HTTP response for a stream
func SetHeaders(h http.Header) {
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
}
