package store

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-go-golems/spellbook/pkg/conversation"
)

type memoryRecord struct {
	messages []*conversation.Message
	meta     Metadata
}

// MemoryStore keeps conversation snapshots in process memory. Useful for
// tests and for sessions that opt out of persistence.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]memoryRecord{}}
}

func (s *MemoryStore) Save(_ context.Context, id string, messages []*conversation.Message, meta Metadata) error {
	if id == "" {
		return errors.New("conversation id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = memoryRecord{
		messages: cloneMessages(messages),
		meta:     meta,
	}
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) ([]*conversation.Message, Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, Metadata{}, errors.Wrapf(ErrNotFound, "conversation %q", id)
	}
	return cloneMessages(rec.messages), rec.meta, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]Entry, 0, len(s.records))
	for id, rec := range s.records {
		entries = append(entries, Entry{ID: id, Metadata: rec.meta})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func cloneMessages(messages []*conversation.Message) []*conversation.Message {
	ret := make([]*conversation.Message, len(messages))
	for i, msg := range messages {
		ret[i] = msg.Clone()
	}
	return ret
}
