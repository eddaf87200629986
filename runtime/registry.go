package runtime

import (
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/enclaveflow/types"
)

// Registry maps runtime ids to adapters. It is read-mostly and safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	runtimes map[ID]Runtime
}

// NewRegistry constructs a registry from the supplied adapters.
func NewRegistry(rts ...Runtime) (*Registry, error) {
	reg := &Registry{runtimes: make(map[ID]Runtime, len(rts))}
	for _, rt := range rts {
		if err := reg.Register(rt); err != nil {
			return nil, err
		}
	}
	if len(reg.runtimes) == 0 {
		return nil, fmt.Errorf("at least one runtime must be registered")
	}
	return reg, nil
}

// Register adds an adapter.
func (r *Registry) Register(rt Runtime) error {
	if rt == nil {
		return fmt.Errorf("runtime cannot be nil")
	}
	id := rt.ID()
	if id == "" {
		return fmt.Errorf("runtime missing identifier")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runtimes[id]; exists {
		return fmt.Errorf("duplicate runtime %q", id)
	}
	r.runtimes[id] = rt
	return nil
}

// Lookup returns the adapter for id or an UnsupportedRuntimeError.
func (r *Registry) Lookup(id ID) (Runtime, error) {
	r.mu.RLock()
	rt, ok := r.runtimes[id]
	r.mu.RUnlock()
	if !ok {
		return nil, types.Errorf(types.KindUnsupportedRuntime, "no runtime registered for %q", id)
	}
	return rt, nil
}

// IDs lists the registered runtimes in sorted order.
func (r *Registry) IDs() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ID, 0, len(r.runtimes))
	for id := range r.runtimes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
