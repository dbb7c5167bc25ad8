package history

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory history store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]Record // key: repo "#" pull request
	closed bool
}

// NewMemoryStore creates a new in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Record),
	}
}

func key(repo string, pullRequest int) string {
	return fmt.Sprintf("%s#%d", repo, pullRequest)
}

// Save implements Store.
func (m *MemoryStore) Save(record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	// Copy the slice so the caller's record stays independent.
	record.SeenFiles = append([]string(nil), record.SeenFiles...)
	m.data[key(record.Repo, record.PullRequest)] = record
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(repo string, pullRequest int) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Record{}, ErrStoreClosed
	}

	record, ok := m.data[key(repo, pullRequest)]
	if !ok {
		return Record{}, ErrNotFound
	}

	record.SeenFiles = append([]string(nil), record.SeenFiles...)
	return record, nil
}

// List implements Store.
func (m *MemoryStore) List(repo string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	records := make([]Record, 0)
	for _, record := range m.data {
		if record.Repo == repo {
			record.SeenFiles = append([]string(nil), record.SeenFiles...)
			records = append(records, record)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].PullRequest < records[j].PullRequest
	})

	return records, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(repo string, pullRequest int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.data, key(repo, pullRequest))
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}
