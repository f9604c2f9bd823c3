// Package audit records tool executions durably and keeps per-credential
// usage counters. Recording is best-effort: failures are logged, never
// surfaced to the query path.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/canopyhq/graphpilot/pkg/models"
)

// Store persists audit records and usage counters.
type Store interface {
	Insert(ctx context.Context, record *models.AuditRecord) error
	History(ctx context.Context, credentialID string, limit int) ([]*models.AuditRecord, error)
	Usage(ctx context.Context, credentialID string) (*models.CredentialUsage, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// SQLStore implements Store on SQLite.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens (or creates) the audit database at path.
// An empty path uses an in-memory database.
func NewSQLStore(path string) (*SQLStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}

	s := &SQLStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			credential_id TEXT NOT NULL,
			query TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			success INTEGER NOT NULL,
			error TEXT,
			created_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("audit: create audit_log table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS credential_usage (
			credential_id TEXT PRIMARY KEY,
			total_calls INTEGER NOT NULL DEFAULT 0,
			last_used_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("audit: create credential_usage table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_audit_credential ON audit_log(credential_id)",
		"CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("audit: create index: %w", err)
		}
	}
	return nil
}

// Insert persists one record and bumps the credential's usage counter in
// a single transaction.
func (s *SQLStore) Insert(ctx context.Context, record *models.AuditRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit: begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_log (id, credential_id, query, duration_ms, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.CredentialID, record.Query,
		record.Duration.Milliseconds(), record.Success, record.Error, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert record: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credential_usage (credential_id, total_calls, last_used_at)
		VALUES (?, 1, ?)
		ON CONFLICT(credential_id) DO UPDATE SET
			total_calls = total_calls + 1,
			last_used_at = excluded.last_used_at`,
		record.CredentialID, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: update usage counter: %w", err)
	}

	return tx.Commit()
}

// History returns the most recent records for a credential, newest first.
func (s *SQLStore) History(ctx context.Context, credentialID string, limit int) ([]*models.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, credential_id, query, duration_ms, success, error, created_at
		FROM audit_log WHERE credential_id = ?
		ORDER BY created_at DESC LIMIT ?`,
		credentialID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query history: %w", err)
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		var durationMs int64
		var errText sql.NullString
		if err := rows.Scan(&r.ID, &r.CredentialID, &r.Query, &durationMs, &r.Success, &errText, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan record: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.Error = errText.String
		records = append(records, &r)
	}
	return records, rows.Err()
}

// Usage returns the aggregate counters for a credential.
func (s *SQLStore) Usage(ctx context.Context, credentialID string) (*models.CredentialUsage, error) {
	var u models.CredentialUsage
	err := s.db.QueryRowContext(ctx, `
		SELECT credential_id, total_calls, last_used_at
		FROM credential_usage WHERE credential_id = ?`,
		credentialID,
	).Scan(&u.CredentialID, &u.TotalCalls, &u.LastUsedAt)
	if err == sql.ErrNoRows {
		return &models.CredentialUsage{CredentialID: credentialID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: query usage: %w", err)
	}
	return &u, nil
}

// PurgeOlderThan deletes records created before cutoff and returns the count.
func (s *SQLStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_log WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: purge: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
