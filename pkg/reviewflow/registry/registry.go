// Package registry provides a build-then-freeze registry for values
// indexed by key.
//
// Registration happens once, on a single goroutine, through a Builder;
// Freeze produces an immutable Registry that is safe to share across
// goroutines without locks. This replaces the mutable global lookup-table
// pattern: the frozen registry is an ordinary value passed by reference to
// whoever needs it.
package registry

// Builder accumulates registrations before freezing.
// It is not safe for concurrent use.
type Builder[K comparable, V any] struct {
	entries map[K]V
}

// NewBuilder creates an empty registry builder.
func NewBuilder[K comparable, V any]() *Builder[K, V] {
	return &Builder[K, V]{
		entries: make(map[K]V),
	}
}

// Register adds a key. Panics on duplicates: two components claiming the
// same key is a programmer error, not a runtime condition.
func (b *Builder[K, V]) Register(key K, value V) *Builder[K, V] {
	if _, exists := b.entries[key]; exists {
		panic("registry: duplicate key")
	}
	b.entries[key] = value
	return b
}

// Freeze produces the immutable registry. The builder can be discarded
// afterwards; further Register calls do not affect frozen registries.
func (b *Builder[K, V]) Freeze() *Registry[K, V] {
	entries := make(map[K]V, len(b.entries))
	for k, v := range b.entries {
		entries[k] = v
	}
	return &Registry[K, V]{entries: entries}
}

// Registry is an immutable key-value lookup, safe for concurrent reads.
type Registry[K comparable, V any] struct {
	entries map[K]V
}

// Get returns the value for a key and whether it exists.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	v, ok := r.entries[key]
	return v, ok
}

// Len returns the number of registered entries.
func (r *Registry[K, V]) Len() int {
	return len(r.entries)
}

// Keys returns all registered keys in unspecified order.
func (r *Registry[K, V]) Keys() []K {
	keys := make([]K, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}
