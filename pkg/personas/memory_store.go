package personas

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// InMemoryStore is a thread-safe Provider backed by a map, with
// clone-on-read semantics.
type InMemoryStore struct {
	mu       sync.RWMutex
	personas map[string]*Persona
}

var _ Provider = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		personas: map[string]*Persona{},
	}
}

func (s *InMemoryStore) Put(p *Persona) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := p.Clone()
	if stored.Source == "" {
		stored.Source = "memory"
	}
	s.personas[p.Name] = stored
}

func (s *InMemoryStore) Get(name string) (*Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.personas[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "persona %q", name)
	}
	return p.Clone(), nil
}

func (s *InMemoryStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.personas))
	for name := range s.personas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
