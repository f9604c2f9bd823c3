package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/canopyhq/graphpilot/pkg/models"
)

// Logger records tool executions without ever failing the query path.
type Logger struct {
	store  Store
	logger *slog.Logger
	// onFailure is invoked when a write is dropped (metrics hook).
	onFailure func()
}

// NewLogger creates an audit logger over the given store.
func NewLogger(store Store, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{store: store, logger: logger}
}

// SetFailureHook registers a callback invoked when a record is dropped.
func (l *Logger) SetFailureHook(fn func()) {
	l.onFailure = fn
}

// Record persists one execution attempt. Persistence failures are logged
// and swallowed: audit completeness is best-effort, not a correctness
// requirement of the user-facing path.
func (l *Logger) Record(ctx context.Context, credentialID, query string, elapsed time.Duration, success bool, errMessage string) {
	record := &models.AuditRecord{
		CredentialID: credentialID,
		Query:        query,
		Duration:     elapsed,
		Success:      success,
		Error:        errMessage,
	}
	if err := l.store.Insert(ctx, record); err != nil {
		l.logger.Error("audit record dropped",
			"credential_id", credentialID,
			"error", err,
		)
		if l.onFailure != nil {
			l.onFailure()
		}
	}
}

// History returns the most recent records for a credential, newest first.
func (l *Logger) History(ctx context.Context, credentialID string, limit int) ([]*models.AuditRecord, error) {
	return l.store.History(ctx, credentialID, limit)
}

// Usage returns the aggregate counters for a credential.
func (l *Logger) Usage(ctx context.Context, credentialID string) (*models.CredentialUsage, error) {
	return l.store.Usage(ctx, credentialID)
}

// PurgeOlderThan deletes records older than the given number of days.
func (l *Logger) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	return l.store.PurgeOlderThan(ctx, cutoff)
}
