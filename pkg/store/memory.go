package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps sessions and audit records in process memory. It is
// the default when no database URL is configured and the backing store
// for tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	audit    []*AuditRecord
	nextID   int64
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		nextID:   1,
		now:      time.Now,
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, source string, metadata map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.sessions[id] = &Session{
		ID:        id,
		Source:    source,
		Status:    StatusActive,
		Metadata:  metadata,
		StartedAt: s.now().UTC(),
	}
	return id, nil
}

func (s *MemoryStore) EndSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if sess.Status == StatusActive {
		sess.Status = StatusEnded
		ended := s.now().UTC()
		sess.EndedAt = &ended
	}
	return nil
}

func (s *MemoryStore) MarkSessionError(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Status = StatusError
	sess.Error = reason
	if sess.EndedAt == nil {
		ended := s.now().UTC()
		sess.EndedAt = &ended
	}
	return nil
}

func (s *MemoryStore) Audit(_ context.Context, eventType, sessionID string, metadata map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, &AuditRecord{
		ID:        s.nextID,
		SessionID: sessionID,
		EventType: eventType,
		Metadata:  metadata,
		CreatedAt: s.now().UTC(),
	})
	s.nextID++
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) ListSessions(_ context.Context, limit int) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		out = append(out, &cp)
	}
	// Newest first, matching the Postgres query.
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SessionAudit(_ context.Context, sessionID string, limit int) ([]*AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*AuditRecord
	for _, rec := range s.audit {
		if rec.SessionID != sessionID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}
