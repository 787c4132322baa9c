package overlay

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Lister is the read side consumed by the compositor once per frame.
// Implementations return copies in compositing order.
type Lister interface {
	List(ctx context.Context) ([]Descriptor, error)
}

// Store is the full descriptor store behind the overlay API
type Store interface {
	Lister
	Get(ctx context.Context, id string) (Descriptor, error)
	Create(ctx context.Context, f Fields) (Descriptor, error)
	Update(ctx context.Context, id string, f Fields) (Descriptor, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps descriptors in insertion order. It is safe for
// concurrent CRUD while any number of streams call List.
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	items map[string]Descriptor
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store holding the given seed descriptors.
// Seeds without an ID get one.
func NewMemoryStore(seed ...Descriptor) (*MemoryStore, error) {
	s := &MemoryStore{
		items: make(map[string]Descriptor, len(seed)),
	}
	for i, d := range seed {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("seed overlay %d: %w", i, err)
		}
		if d.ID == "" {
			d.ID = ulid.Make().String()
		}
		if _, dup := s.items[d.ID]; dup {
			return nil, fmt.Errorf("seed overlay %d: duplicate id %q", i, d.ID)
		}
		s.items[d.ID] = d.clone()
		s.order = append(s.order, d.ID)
	}
	return s, nil
}

// List returns a point-in-time copy of every descriptor
func (s *MemoryStore) List(ctx context.Context) ([]Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Descriptor, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].clone())
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.items[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d.clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, f Fields) (Descriptor, error) {
	d, err := f.Descriptor()
	if err != nil {
		return Descriptor{}, err
	}
	d.ID = ulid.Make().String()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[d.ID] = d
	s.order = append(s.order, d.ID)
	return d.clone(), nil
}

// Update applies a partial patch; the result must still validate.
func (s *MemoryStore) Update(ctx context.Context, id string, f Fields) (Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next := f.ApplyTo(cur.clone())
	if err := next.Validate(); err != nil {
		return Descriptor{}, err
	}
	s.items[id] = next
	return next.clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.items, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of stored descriptors
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
