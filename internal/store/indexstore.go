package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quantfolio/indexd/internal/domain"
)

// IndexStore holds every live index. Readers get immutable snapshots: a
// set append lands on a copy of the index that replaces the shared pointer
// under the per-index lock, so valuations running against the old snapshot
// never observe a half-applied rebalance. The exclusive lock is held only
// for the duration of the swap, never for a full valuation.
type IndexStore struct {
	mu      sync.RWMutex // guards the index map
	indexes map[int]*indexEntry
}

type indexEntry struct {
	mu    sync.RWMutex // serializes set appends against reads of this index
	index *domain.Index
}

// NewIndexStore creates an empty index store
func NewIndexStore() *IndexStore {
	return &IndexStore{indexes: make(map[int]*indexEntry)}
}

// Add registers a new index. Fails when the id is already taken.
func (s *IndexStore) Add(ix *domain.Index) error {
	if err := ix.Validate(); err != nil {
		return fmt.Errorf("invalid index: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.indexes[ix.ID]; ok {
		return fmt.Errorf("index %d already exists", ix.ID)
	}
	s.indexes[ix.ID] = &indexEntry{index: ix}
	return nil
}

// Get implements domain.IndexSource. The returned index is an immutable
// snapshot: appends replace it rather than mutating it, so callers may
// read it without holding any lock. Mutation goes through AppendSet.
func (s *IndexStore) Get(id int) (*domain.Index, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.index, nil
}

// List implements domain.IndexSource
func (s *IndexStore) List() []*domain.Index {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Index, 0, len(s.indexes))
	for _, e := range s.indexes {
		e.mu.RLock()
		out = append(out, e.index)
		e.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AppendSet applies one rebalance outcome. The set lands on a copy of the
// index that replaces the published snapshot under the per-index lock;
// integrity failures (out-of-order dates, invalid sets) leave the
// published index untouched.
func (s *IndexStore) AppendSet(id int, set *domain.ConstituentSet) error {
	entry, err := s.entry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	next := entry.index.Clone()
	if err := next.AppendSet(set); err != nil {
		return err
	}
	entry.index = next
	return nil
}

func (s *IndexStore) entry(id int) (*indexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.indexes[id]
	if !ok {
		return nil, domain.ErrIndexNotFound(id)
	}
	return entry, nil
}
