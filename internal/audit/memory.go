package audit

import (
	"context"
	"sync"

	"xiezhi/internal/models"
)

// MemoryStore 进程内存储，供测试与未配置审计文件时使用。
type MemoryStore struct {
	mu     sync.RWMutex
	events []*models.AuditEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, e *models.AuditEvent) error {
	if e == nil {
		return nil
	}
	c := *e
	s.mu.Lock()
	s.events = append(s.events, &c)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) QueryBySession(ctx context.Context, sessionID string) ([]*models.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AuditEvent
	for _, e := range s.events {
		if e.SessionID == sessionID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *MemoryStore) Last(ctx context.Context, sessionID string) (*models.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].SessionID == sessionID {
			c := *s.events[i]
			return &c, nil
		}
	}
	return nil, nil
}

// Events 返回全部事件的快照。
func (s *MemoryStore) Events() []*models.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.AuditEvent, len(s.events))
	for i, e := range s.events {
		c := *e
		out[i] = &c
	}
	return out
}
