package relay

import (
	"slices"
	"sync"
)

// registry tracks the open connections of one Client keyed by ConnID.
type registry struct {
	mu      sync.RWMutex
	next    ConnID
	handles map[ConnID]*handle
}

func newRegistry() *registry {
	return &registry{
		handles: make(map[ConnID]*handle),
	}
}

// add assigns the next ID, builds the handle with build and stores it.
func (r *registry) add(build func(id ConnID) *handle) *handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	h := build(r.next)
	r.handles[h.id] = h

	return h
}

func (r *registry) remove(id ConnID) {
	r.mu.Lock()
	delete(r.handles, id)
	r.mu.Unlock()
}

func (r *registry) get(id ConnID) (*handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[id]

	return h, ok
}

// ids returns the registered IDs in ascending order.
func (r *registry) ids() []ConnID {
	r.mu.RLock()
	ids := make([]ConnID, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)

	return ids
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.handles)
}

// closeAll closes every registered handle and returns the first error encountered.
func (r *registry) closeAll() error {
	r.mu.RLock()
	handles := make([]*handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	var firstErr error

	for _, h := range handles {
		if err := h.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
