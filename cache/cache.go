package cache

import (
	"sort"
	"sync"
)

// registry is the id keyed top level map. Values are shared pointers; anything
// mutable inside them is guarded by the value's own locks, so this lock is
// only ever held for map lookups and inserts.
type registry[T interface{}] struct {
	entries map[string]T
	mutex   sync.RWMutex
}

func newRegistry[T interface{}]() *registry[T] {
	return &registry[T]{
		entries: make(map[string]T),
	}
}

func (r *registry[T]) Get(id string) (T, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	v, ok := r.entries[id]
	return v, ok
}

// GetOrCreate returns the existing entry, calling visit on it while the map
// lock is still held, or stores the result of create. create receives the
// current number of entries and runs under the write lock.
func (r *registry[T]) GetOrCreate(id string, visit func(T), create func(size int) (T, error)) (T, bool, error) {
	r.mutex.RLock()
	v, ok := r.entries[id]
	if ok {
		if visit != nil {
			visit(v)
		}
		r.mutex.RUnlock()
		return v, false, nil
	}
	r.mutex.RUnlock()

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if v, ok = r.entries[id]; ok {
		if visit != nil {
			visit(v)
		}
		return v, false, nil
	}
	v, err := create(len(r.entries))
	if err != nil {
		var zero T
		return zero, false, err
	}
	r.entries[id] = v
	return v, true, nil
}

// RemoveIf deletes the entry when pred approves it. pred runs under the write
// lock so nothing can look the entry up while the decision is being made.
func (r *registry[T]) RemoveIf(id string, pred func(T) bool) (T, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	v, ok := r.entries[id]
	if !ok || !pred(v) {
		var zero T
		return zero, false
	}
	delete(r.entries, id)
	return v, true
}

func (r *registry[T]) Values() []T {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	values := make([]T, 0, len(r.entries))
	for _, v := range r.entries {
		values = append(values, v)
	}
	return values
}

func (r *registry[T]) Keys() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *registry[T]) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.entries)
}

// Drain empties the map and hands back everything that was in it
func (r *registry[T]) Drain() map[string]T {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	drained := r.entries
	r.entries = make(map[string]T)
	return drained
}
