// Package store persists call sessions and their audit trail. Two
// implementations exist: a Postgres store for deployments and an
// in-memory store used when no database is configured.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

// Session statuses.
const (
	StatusActive = "active"
	StatusEnded  = "ended"
	StatusError  = "error"
)

type Session struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
}

type AuditRecord struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	EventType string         `json:"event_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store is the persistence surface used by the bridge and the REST API.
type Store interface {
	CreateSession(ctx context.Context, source string, metadata map[string]any) (string, error)
	EndSession(ctx context.Context, id string) error
	MarkSessionError(ctx context.Context, id string, reason string) error
	Audit(ctx context.Context, eventType, sessionID string, metadata map[string]any)

	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, limit int) ([]*Session, error)
	SessionAudit(ctx context.Context, sessionID string, limit int) ([]*AuditRecord, error)

	Ping(ctx context.Context) error
	Close()
}
