package storage

import (
	"context"
	"sync"
)

// memoryStore keeps the registry and audit log in process memory.
// It backs the "memory" driver and stands in when storage is disabled.
type memoryStore struct {
	mu    sync.Mutex
	chats map[int64]Conversation
	audit []AuditEntry
}

// NewMemory returns an empty in-process Store.
func NewMemory() Store {
	return &memoryStore{chats: map[int64]Conversation{}}
}

func (s *memoryStore) TouchConversation(_ context.Context, c Conversation) error {
	if c.ChatID == 0 {
		return nil
	}
	s.mu.Lock()
	s.chats[c.ChatID], _ = mergeConversation(s.chats[c.ChatID], c)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) ListConversations(context.Context) ([]Conversation, error) {
	s.mu.Lock()
	out := make([]Conversation, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	s.mu.Unlock()
	sortConversations(out)
	return out, nil
}

func (s *memoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	s.audit = append(s.audit, e)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) LastAudit(_ context.Context, action string) (AuditEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.audit) - 1; i >= 0; i-- {
		if s.audit[i].Action == action {
			return s.audit[i], true, nil
		}
	}
	return AuditEntry{}, false, nil
}

func (s *memoryStore) Close() error { return nil }
