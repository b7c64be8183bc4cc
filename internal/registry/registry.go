// Package registry holds the bounded window of recently seen changes.
//
// The registry is not synchronized. It is owned by a single goroutine (the
// dispatcher's), and readers on other goroutines must go through a Snapshot
// taken on that goroutine.
package registry

// DefaultCapacity is the window size used when none is configured
const DefaultCapacity = 50

// Registry is a recency-ordered collection of changes with unique IDs.
// The head holds the most recently inserted change.
type Registry struct {
	capacity int
	order    []*Change
	index    map[string]*Change
}

// New creates a registry holding at most capacity changes
func New(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity: capacity,
		order:    make([]*Change, 0, capacity),
		index:    make(map[string]*Change, capacity),
	}
}

// Find returns the change with the given ID
func (r *Registry) Find(id string) (*Change, bool) {
	c, ok := r.index[id]
	return c, ok
}

// InsertHead adds c as the newest change, evicting the oldest one first when
// the registry is full. The evicted change, if any, is returned. Inserting an
// ID that is already present is a no-op.
func (r *Registry) InsertHead(c *Change) (evicted *Change) {
	if _, exists := r.index[c.ID]; exists {
		return nil
	}
	if len(r.order) >= r.capacity {
		evicted = r.EvictTail()
	}
	r.order = append(r.order, nil)
	copy(r.order[1:], r.order)
	r.order[0] = c
	r.index[c.ID] = c
	return evicted
}

// EvictTail removes and returns the oldest change, nil when empty
func (r *Registry) EvictTail() *Change {
	n := len(r.order)
	if n == 0 {
		return nil
	}
	tail := r.order[n-1]
	r.order[n-1] = nil
	r.order = r.order[:n-1]
	delete(r.index, tail.ID)
	return tail
}

// Len returns the number of tracked changes
func (r *Registry) Len() int {
	return len(r.order)
}

// Cap returns the configured capacity
func (r *Registry) Cap() int {
	return r.capacity
}

// Snapshot returns copies of the tracked changes, head first
func (r *Registry) Snapshot() []Change {
	out := make([]Change, len(r.order))
	for i, c := range r.order {
		out[i] = *c
	}
	return out
}
