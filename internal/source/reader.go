package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/kikiluvv/overlaycast/internal/frame"
)

var (
	// ErrSourceUnavailable is returned when the initial open fails
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrFrameRead marks a failed read; the reader absorbs it by reconnecting
	ErrFrameRead = errors.New("frame read failed")
	// ErrEndOfStream is returned once the reconnect policy is exhausted
	ErrEndOfStream = errors.New("end of stream")
	// ErrClosed is returned by Read after Close
	ErrClosed = errors.New("source reader closed")
)

// Handle is one open connection to a source device
type Handle interface {
	ReadFrame(ctx context.Context) (*frame.Frame, error)
	Close() error
}

// Opener opens handles to an address
type Opener interface {
	Open(ctx context.Context, address string) (Handle, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(ctx context.Context, address string) (Handle, error)

// Open calls f(ctx, address)
func (f OpenerFunc) Open(ctx context.Context, address string) (Handle, error) {
	return f(ctx, address)
}

// State of a Reader
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Policy bounds reconnect attempts after a failed read.
// MaxAttempts of 0 retries forever.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultPolicy returns the reconnect policy used when none is configured
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  10,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
}

// backOff builds the delay schedule between reopen attempts. Jitter is
// disabled so the schedule is reproducible.
func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.RandomizationFactor = 0
	if p.InitialDelay > 0 {
		b.InitialInterval = p.InitialDelay
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	b.Reset()
	return b
}

// Reader reads frames from one address, transparently reopening the
// source when a read fails.
//
// Read is not safe for concurrent use; Close may be called from any
// goroutine.
type Reader struct {
	logger  zerolog.Logger
	opener  Opener
	address string
	policy  Policy

	mu     sync.Mutex
	handle Handle
	closed bool

	state      atomic.Int32
	seq        uint64
	reconnects atomic.Int64

	// pending is the frame Open read to confirm the source delivers
	pending *frame.Frame
	// attempts counts reopens since the last delivered frame
	attempts int
	backoff  *backoff.ExponentialBackOff
}

// Open opens address and reads its first frame, returning a Reader in
// the Open state. A source that cannot be opened or yields no frame is
// not retried; the error wraps ErrSourceUnavailable.
func Open(ctx context.Context, opener Opener, address string, policy Policy, logger zerolog.Logger) (*Reader, error) {
	logger = logger.With().Str("component", "source").Str("source", address).Logger()

	h, err := opener.Open(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, address, err)
	}

	first, err := h.ReadFrame(ctx)
	if err != nil {
		h.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s: no frame: %w", ErrSourceUnavailable, address, err)
	}

	r := &Reader{
		logger:  logger,
		opener:  opener,
		address: address,
		policy:  policy,
		handle:  h,
		pending: first,
		backoff: policy.backOff(),
	}
	r.state.Store(int32(StateOpen))

	logger.Info().Msg("source opened")
	return r, nil
}

// State returns the current state
func (r *Reader) State() State {
	return State(r.state.Load())
}

// Reconnects returns how many times the source was successfully reopened
func (r *Reader) Reconnects() int64 {
	return r.reconnects.Load()
}

// Read returns the next frame. Failed reads are absorbed by reopening
// the source; the caller only sees a delay. Frames are numbered with a
// strictly increasing Seq across reconnects.
func (r *Reader) Read(ctx context.Context) (*frame.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			r.Close()
			return nil, err
		}

		h := r.current()
		if h == nil {
			return nil, ErrClosed
		}

		if f := r.pending; f != nil {
			r.pending = nil
			return r.deliver(f), nil
		}

		f, err := h.ReadFrame(ctx)
		if err == nil {
			return r.deliver(f), nil
		}

		if ctx.Err() != nil {
			r.Close()
			return nil, ctx.Err()
		}
		if r.isClosed() {
			return nil, ErrClosed
		}

		r.logger.Warn().
			Err(fmt.Errorf("%w: %w", ErrFrameRead, err)).
			Uint64("last_seq", r.seq).
			Msg("read failed, reconnecting")

		if err := r.reconnect(ctx, err); err != nil {
			return nil, err
		}
	}
}

// deliver numbers f and clears the reconnect budget
func (r *Reader) deliver(f *frame.Frame) *frame.Frame {
	r.seq++
	f.Seq = r.seq
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	if r.attempts > 0 {
		r.attempts = 0
		r.backoff.Reset()
	}
	return f
}

// reconnect releases the current handle and reopens the address. The
// budget runs from the last delivered frame, so a source that reopens
// but never reads still exhausts it. The first reopen of an outage is
// immediate; later ones wait out the backoff delay.
func (r *Reader) reconnect(ctx context.Context, cause error) error {
	r.state.Store(int32(StateReconnecting))
	r.release()

	lastErr := cause

	for r.policy.MaxAttempts == 0 || r.attempts < r.policy.MaxAttempts {
		r.attempts++
		attempt := r.attempts
		if attempt > 1 {
			delay := r.backoff.NextBackOff()
			r.logger.Debug().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("waiting before reopen")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				r.Close()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if r.isClosed() {
			return ErrClosed
		}

		h, err := r.opener.Open(ctx, r.address)
		if err != nil {
			if ctx.Err() != nil {
				r.Close()
				return ctx.Err()
			}
			lastErr = err
			r.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_attempts", r.policy.MaxAttempts).
				Msg("reopen failed")
			continue
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			h.Close()
			return ErrClosed
		}
		r.handle = h
		r.mu.Unlock()

		r.state.Store(int32(StateOpen))
		r.reconnects.Add(1)
		r.logger.Info().
			Int("attempt", attempt).
			Int64("reconnects", r.reconnects.Load()).
			Msg("source reopened")
		return nil
	}

	r.Close()
	r.logger.Error().
		Err(lastErr).
		Int("max_attempts", r.policy.MaxAttempts).
		Msg("reconnect attempts exhausted")
	return fmt.Errorf("%w: %s: gave up after %d attempts: %w", ErrEndOfStream, r.address, r.policy.MaxAttempts, lastErr)
}

// Close releases the handle. It is idempotent.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	h := r.handle
	r.handle = nil
	r.mu.Unlock()

	r.state.Store(int32(StateClosed))
	if h == nil {
		return nil
	}

	err := h.Close()
	r.logger.Info().Uint64("frames", r.seq).Msg("source closed")
	return err
}

func (r *Reader) current() Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle
}

func (r *Reader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// release closes the current handle without closing the reader
func (r *Reader) release() {
	r.mu.Lock()
	h := r.handle
	r.handle = nil
	r.mu.Unlock()

	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		r.logger.Debug().Err(err).Msg("error releasing handle")
	}
}
