package results

import (
	"strings"
	"sync"

	"github.com/appfoundry/publisher/pkg/task"
)

// MemStore keeps build results in memory for the lifetime of the process.
// Keys are never deleted, and insertion order is preserved so that the
// latest-attempt lookup can walk entries newest-first.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]task.Result
	order   []string
}

func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]task.Result)}
}

// Put stores or overwrites the result for the given composite key.
func (s *MemStore) Put(key string, res task.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		s.order = append(s.order, key)
	}
	s.entries[key] = res
}

// Get returns the result stored under the exact composite key.
func (s *MemStore) Get(key string) (task.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.entries[key]
	return res, ok
}

// Latest returns the most recently inserted result for the email/task pair.
func (s *MemStore) Latest(email, taskID string) (task.Result, bool) {
	prefix := task.KeyPrefix(email, taskID)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		if strings.HasPrefix(s.order[i], prefix) {
			return s.entries[s.order[i]], true
		}
	}
	return task.Result{}, false
}

// Len reports the number of stored entries.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
