// Package storage persists editor drafts and the audit ledger in SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRepository backs draft autosave and the audit ledger.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath
// and applies migrations.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// SaveDraft implements editor.DraftStore
func (r *SQLiteRepository) SaveDraft(ctx context.Context, sessionID string, snapshot []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO drafts (session_id, snapshot, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id) DO UPDATE SET
			snapshot = excluded.snapshot,
			updated_at = CURRENT_TIMESTAMP`,
		sessionID, string(snapshot))
	if err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// DeleteDraft implements editor.DraftStore
func (r *SQLiteRepository) DeleteDraft(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM drafts WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// ListDrafts implements editor.DraftStore
func (r *SQLiteRepository) ListDrafts(ctx context.Context) (map[string][]byte, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT session_id, snapshot FROM drafts`)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	drafts := make(map[string][]byte)
	for rows.Next() {
		var id, snapshot string
		if err := rows.Scan(&id, &snapshot); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		drafts[id] = []byte(snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w", err)
	}
	return drafts, nil
}

// AuditEvent is one row of the local audit ledger.
type AuditEvent struct {
	ID          int64
	PurchaseID  int64
	Action      string
	Total       float64
	ActorUserID int64
	OccurredAt  time.Time
}

// AppendAuditEvent records one purchase event and returns its id.
func (r *SQLiteRepository) AppendAuditEvent(ctx context.Context, ev AuditEvent) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (purchase_id, action, total, actor_user_id, occurred_at)
		VALUES (?, ?, ?, ?, ?)`,
		ev.PurchaseID, ev.Action, ev.Total, ev.ActorUserID, ev.OccurredAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("append audit event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("audit event id: %w", err)
	}
	return id, nil
}

// ListAuditEvents returns the newest events for a purchase, most recent
// first.
func (r *SQLiteRepository) ListAuditEvents(ctx context.Context, purchaseID int64, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, purchase_id, action, total, actor_user_id, occurred_at
		FROM audit_events
		WHERE purchase_id = ?
		ORDER BY id DESC
		LIMIT ?`, purchaseID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		if err := rows.Scan(&ev.ID, &ev.PurchaseID, &ev.Action, &ev.Total, &ev.ActorUserID, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
