package store

import (
	"context"
	"errors"
	"sync"

	"github.com/inkwell-app/realtime/pkg/model"
)

// MemoryStore collects appended events in memory. Used by tests; Fail makes
// every subsequent append error so storage-failure paths can be exercised.
type MemoryStore struct {
	mu       sync.Mutex
	messages []model.ChatMessage
	dms      []model.DirectMessage
	failing  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Fail toggles append failures.
func (s *MemoryStore) Fail(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = on
}

func (s *MemoryStore) AppendMessage(_ context.Context, m model.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("store failing")
	}
	s.messages = append(s.messages, m)
	return nil
}

func (s *MemoryStore) AppendDM(_ context.Context, d model.DirectMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("store failing")
	}
	s.dms = append(s.dms, d)
	return nil
}

// Messages returns a copy of the appended public messages.
func (s *MemoryStore) Messages() []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// DMs returns a copy of the appended direct messages.
func (s *MemoryStore) DMs() []model.DirectMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.DirectMessage, len(s.dms))
	copy(out, s.dms)
	return out
}
