// Package copilot – history.go keeps the conversation history and the tool
// audit log in the dailyclaw.db SQLite database. Per-chat records (tasks,
// settings, workouts, groceries) live in the document store instead.
package copilot

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

const historySchema = `
CREATE TABLE IF NOT EXISTS session_entries (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id            TEXT NOT NULL,
    user_message       TEXT NOT NULL,
    assistant_response TEXT NOT NULL,
    created_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_entries_chat ON session_entries(chat_id, id);

CREATE TABLE IF NOT EXISTS audit_log (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id        TEXT NOT NULL DEFAULT '',
    tool           TEXT NOT NULL,
    failed         INTEGER NOT NULL DEFAULT 0,
    args_summary   TEXT DEFAULT '',
    result_summary TEXT DEFAULT '',
    created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at);
`

// auditSummaryLen bounds the stored argument and result text.
const auditSummaryLen = 500

// OpenDatabase opens (or creates) dailyclaw.db in WAL mode and creates the
// tables.
func OpenDatabase(path string) (*sql.DB, error) {
	if path == "" {
		path = "./data/dailyclaw.db"
	}
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if path == ":memory:" {
		// Each connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}

// History stores exchanges per chat and records tool executions.
type History struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// NewHistory wraps a database opened by OpenDatabase.
func NewHistory(db *sql.DB, logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.Default()
	}
	return &History{db: db, now: time.Now, logger: logger.With("component", "history")}
}

// Append stores one exchange.
func (h *History) Append(ctx context.Context, chatID string, entry ConversationEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = h.now()
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO session_entries (chat_id, user_message, assistant_response, created_at)
		VALUES (?, ?, ?, ?)`,
		chatID, entry.UserMessage, entry.AssistantResponse, ts.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save session entry: %w", err)
	}
	return nil
}

// Recent returns the last limit exchanges of a chat, oldest first.
func (h *History) Recent(ctx context.Context, chatID string, limit int) ([]ConversationEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT user_message, assistant_response, created_at FROM (
			SELECT id, user_message, assistant_response, created_at
			FROM session_entries
			WHERE chat_id = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("load session entries: %w", err)
	}
	defer rows.Close()

	var entries []ConversationEntry
	for rows.Next() {
		var (
			e         ConversationEntry
			createdAt string
		)
		if err := rows.Scan(&e.UserMessage, &e.AssistantResponse, &createdAt); err != nil {
			return nil, fmt.Errorf("scan session entry: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Clear deletes a chat's history and returns the number of removed entries.
func (h *History) Clear(ctx context.Context, chatID string) (int, error) {
	res, err := h.db.ExecContext(ctx, `DELETE FROM session_entries WHERE chat_id = ?`, chatID)
	if err != nil {
		return 0, fmt.Errorf("clear session entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Prune keeps only the newest keep entries of every chat.
func (h *History) Prune(ctx context.Context, keep int) (int, error) {
	res, err := h.db.ExecContext(ctx, `
		DELETE FROM session_entries
		WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY chat_id ORDER BY id DESC) AS rn
				FROM session_entries
			) WHERE rn > ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune session entries: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		h.logger.Info("pruned conversation history", "removed", n, "keep_per_chat", keep)
	}
	return int(n), nil
}

// RecordTool implements ToolAuditor.
func (h *History) RecordTool(ctx context.Context, chatID, tool, args, result string, failed bool) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO audit_log (chat_id, tool, failed, args_summary, result_summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		chatID, tool, failed,
		truncate(args, auditSummaryLen),
		truncate(result, auditSummaryLen),
		h.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record tool audit: %w", err)
	}
	return nil
}

// AuditRecord is one row of the tool audit log.
type AuditRecord struct {
	ChatID    string
	Tool      string
	Failed    bool
	Args      string
	Result    string
	CreatedAt time.Time
}

// RecentAudit returns the newest limit audit rows, newest first. An empty
// chatID returns rows of every chat.
func (h *History) RecentAudit(ctx context.Context, chatID string, limit int) ([]AuditRecord, error) {
	query := `SELECT chat_id, tool, failed, args_summary, result_summary, created_at FROM audit_log`
	args := []any{}
	if chatID != "" {
		query += ` WHERE chat_id = ?`
		args = append(args, chatID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var (
			r         AuditRecord
			createdAt string
		)
		if err := rows.Scan(&r.ChatID, &r.Tool, &r.Failed, &r.Args, &r.Result, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
