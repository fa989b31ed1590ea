// Package history persists finished scans to SQLite so callers can list
// their past results. Persistence is best-effort from the orchestrator's
// point of view: a failed Save never fails the scan that produced it.
package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wrenlabs/websentry/internal/logging"
	"github.com/wrenlabs/websentry/internal/model"

	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed schema.sql
var schemaFS embed.FS

// Record is one persisted scan row.
type Record struct {
	ID         string           `json:"id"`
	CallerID   string           `json:"caller_id,omitempty"`
	URL        string           `json:"url"`
	Domain     string           `json:"domain"`
	Score      int              `json:"score"`
	Report     model.FlatReport `json:"report"`
	DurationMS int64            `json:"scan_duration_ms"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Store is the persistence contract the orchestrator depends on.
type Store interface {
	Save(ctx context.Context, rec Record) error
	ListByCaller(ctx context.Context, callerID string, limit int) ([]Record, error)
	Close() error
}

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger logging.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string, logger logging.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Info("history store ready", logging.Field{Key: "path", Value: path})
	return &SQLiteStore{db: db, logger: logger}, nil
}

func applySchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("exec %q: %w", pragma, err)
		}
	}

	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read embedded schema: %w", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		return fmt.Errorf("exec schema: %w", err)
	}
	return nil
}

// Save inserts one scan row. The record's ID and CreatedAt are filled in if
// zero.
func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	reportJSON, err := json.Marshal(rec.Report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scans (id, caller_id, url, domain, score, report, scan_duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.CallerID, rec.URL, rec.Domain, rec.Score, string(reportJSON), rec.DurationMS, rec.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}

	s.logger.Debug("scan persisted",
		logging.Field{Key: "id", Value: rec.ID},
		logging.Field{Key: "domain", Value: rec.Domain})
	return nil
}

// ListByCaller returns the caller's scans, newest first. An empty callerID
// lists anonymous scans only.
func (s *SQLiteStore) ListByCaller(ctx context.Context, callerID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, caller_id, url, domain, score, report, scan_duration_ms, created_at
		FROM scans
		WHERE caller_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, callerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var reportJSON string
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.CallerID, &rec.URL, &rec.Domain,
			&rec.Score, &reportJSON, &rec.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(reportJSON), &rec.Report); err != nil {
			s.logger.Warn("stored report unreadable",
				logging.Field{Key: "id", Value: rec.ID},
				logging.Field{Key: "error", Value: err.Error()})
		}
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scans: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
