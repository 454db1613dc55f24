package inmemorystore

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/vk/mellongo/internal/node"
	"github.com/vk/mellongo/internal/nodestore"
)

// Store is an in-memory implementation of nodestore.Store.
type Store struct {
	nodes sync.Map // Key: node ID string, Value: *node.Instance
	count atomic.Int64
}

var _ nodestore.Store = (*Store)(nil)

// New creates a new, empty in-memory node store.
func New() *Store {
	return &Store{}
}

// Get returns the instance stored under id.
func (s *Store) Get(id string) (*node.Instance, bool) {
	v, ok := s.nodes.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*node.Instance), true
}

// Put stores inst under id, replacing any previous instance.
func (s *Store) Put(id string, inst *node.Instance) {
	if _, loaded := s.nodes.Swap(id, inst); !loaded {
		s.count.Add(1)
	}
}

// Delete removes id and returns the instance it held.
func (s *Store) Delete(id string) (*node.Instance, bool) {
	v, ok := s.nodes.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	s.count.Add(-1)
	return v.(*node.Instance), true
}

// IDs returns every stored id in sorted order.
func (s *Store) IDs() []string {
	var ids []string
	s.nodes.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}

// Len returns the number of stored instances.
func (s *Store) Len() int {
	return int(s.count.Load())
}
