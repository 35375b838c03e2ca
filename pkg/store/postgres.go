package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore persists sessions and audit records in Postgres via a
// pgx connection pool. Schema is managed with embedded goose migrations
// applied at startup.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func OpenPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

func (s *PostgresStore) CreateSession(ctx context.Context, source string, metadata map[string]any) (string, error) {
	meta, err := marshalMeta(metadata)
	if err != nil {
		return "", err
	}
	var id string
	err = s.pool.QueryRow(ctx,
		`INSERT INTO sessions (id, source, status, metadata)
		 VALUES (gen_random_uuid(), $1, $2, $3)
		 RETURNING id`,
		source, StatusActive, meta,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) EndSession(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $2, ended_at = now()
		 WHERE id = $1 AND status = $3`,
		id, StatusEnded, StatusActive,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already ended or unknown; distinguish for callers that care.
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) MarkSessionError(ctx context.Context, id string, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $2, error = $3, ended_at = COALESCE(ended_at, now())
		 WHERE id = $1`,
		id, StatusError, reason,
	)
	if err != nil {
		return fmt.Errorf("mark session error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Audit is fire and forget; a failed insert is logged, never surfaced
// into the call path.
func (s *PostgresStore) Audit(ctx context.Context, eventType, sessionID string, metadata map[string]any) {
	meta, err := marshalMeta(metadata)
	if err != nil {
		s.logger.Warn("audit metadata marshal failed", "event", eventType, "error", err)
		return
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (session_id, event_type, metadata) VALUES ($1, $2, $3)`,
		sessionID, eventType, meta,
	)
	if err != nil {
		s.logger.Warn("audit insert failed", "event", eventType, "session_id", sessionID, "error", err)
	}
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, source, status, error, metadata, started_at, ended_at
		 FROM sessions WHERE id = $1`,
		id,
	)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

func (s *PostgresStore) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, status, error, metadata, started_at, ended_at
		 FROM sessions ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SessionAudit(ctx context.Context, sessionID string, limit int) ([]*AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, event_type, metadata, created_at
		 FROM audit_log WHERE session_id = $1 ORDER BY id ASC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("session audit: %w", err)
	}
	defer rows.Close()

	var out []*AuditRecord
	for rows.Next() {
		var (
			rec  AuditRecord
			meta []byte
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.EventType, &meta, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalMeta(meta, &rec.Metadata); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() { s.pool.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess Session
		meta []byte
	)
	err := row.Scan(&sess.ID, &sess.Source, &sess.Status, &sess.Error, &meta, &sess.StartedAt, &sess.EndedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalMeta(meta, &sess.Metadata); err != nil {
		return nil, err
	}
	return &sess, nil
}

func marshalMeta(metadata map[string]any) ([]byte, error) {
	if len(metadata) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(metadata)
}

func unmarshalMeta(raw []byte, dst *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	if len(m) > 0 {
		*dst = m
	}
	return nil
}
