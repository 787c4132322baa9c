package assets

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/kikiluvv/overlaycast/pkg/util"
)

// ErrUnresolvable is returned when a logical asset name maps to no file
var ErrUnresolvable = errors.New("asset not resolvable")

// Resolver maps a logical asset name to a file path
type Resolver interface {
	Resolve(name string) (string, error)
}

// Registry manages named logo assets. Names not registered explicitly
// fall back to a file of the same name under the asset directory.
type Registry struct {
	mu     sync.RWMutex
	dir    string
	assets map[string]string
}

// NewRegistry creates a new asset registry rooted at dir
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:    dir,
		assets: make(map[string]string),
	}
}

// Register adds an asset to the registry
func (r *Registry) Register(name, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[name] = path
}

// Get retrieves a registered asset path by name
func (r *Registry) Get(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	path, ok := r.assets[name]
	return path, ok
}

// List returns all registered asset names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.assets))
	for name := range r.assets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the file path for name.
func (r *Registry) Resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrUnresolvable)
	}

	if path, ok := r.Get(name); ok {
		return path, nil
	}

	if r.dir == "" || !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrUnresolvable, name)
	}

	path := filepath.Join(r.dir, name)
	if !util.FileExists(path) {
		return "", fmt.Errorf("%w: %q", ErrUnresolvable, name)
	}
	return path, nil
}
