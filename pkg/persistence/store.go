// Package persistence stores action history and template usage in SQLite.
//
// The store is an explicit value owned by its caller; open one per agent
// instance. Tables are append-only: records are inserted once and never
// updated, so the history doubles as an audit log.
package persistence

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"agentd/pkg/logx"
	"agentd/pkg/templates"
	"agentd/pkg/tracker"
)

// CurrentSchemaVersion tracks the schema for migration support.
const CurrentSchemaVersion = 1

// Store wraps the SQLite connection for one agent instance.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open creates or opens the database at path and brings the schema up to
// date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logx.NewLogger("persistence")}
	s.logger.Info("database opened: %s", path)
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func initSchema(db *sql.DB) error {
	version, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if version == CurrentSchemaVersion {
		return nil
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, CurrentSchemaVersion)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS action_records (
			action_id       TEXT PRIMARY KEY,
			trigger_name    TEXT NOT NULL,
			rendered_prompt TEXT NOT NULL,
			result          TEXT NOT NULL,
			reason          TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_action_records_created_at
			ON action_records(created_at);
		CREATE INDEX IF NOT EXISTS idx_action_records_trigger
			ON action_records(trigger_name);

		CREATE TABLE IF NOT EXISTS template_usage (
			template_name    TEXT PRIMARY KEY,
			times_used       INTEGER NOT NULL DEFAULT 0,
			success_count    INTEGER NOT NULL DEFAULT 0,
			total_latency_ms INTEGER NOT NULL DEFAULT 0,
			updated_at       TIMESTAMP NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to check schema table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// SaveActionRecord appends one record to the history.
func (s *Store) SaveActionRecord(rec tracker.ActionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO action_records (action_id, trigger_name, rendered_prompt, result, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ActionID, rec.TriggerName, rec.RenderedPrompt, string(rec.Result), rec.Reason,
		rec.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save action record: %w", err)
	}
	return nil
}

// ActionHistory returns the newest records first, capped at limit. A limit
// of zero or less returns everything.
func (s *Store) ActionHistory(limit int) ([]tracker.ActionRecord, error) {
	query := `
		SELECT action_id, trigger_name, rendered_prompt, result, reason, created_at
		FROM action_records ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query action records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []tracker.ActionRecord
	for rows.Next() {
		var rec tracker.ActionRecord
		var result, createdAt string
		if err := rows.Scan(&rec.ActionID, &rec.TriggerName, &rec.RenderedPrompt, &result, &rec.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan action record: %w", err)
		}
		rec.Result = tracker.ActionResult(result)
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse record timestamp: %w", err)
		}
		rec.Timestamp = ts
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate action records: %w", err)
	}
	return records, nil
}

// CountsByResult returns how many records exist per terminal outcome.
func (s *Store) CountsByResult() (map[tracker.ActionResult]int, error) {
	rows, err := s.db.Query(`SELECT result, COUNT(*) FROM action_records GROUP BY result`)
	if err != nil {
		return nil, fmt.Errorf("failed to query result counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[tracker.ActionResult]int)
	for rows.Next() {
		var result string
		var count int
		if err := rows.Scan(&result, &count); err != nil {
			return nil, fmt.Errorf("failed to scan result count: %w", err)
		}
		counts[tracker.ActionResult(result)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate result counts: %w", err)
	}
	return counts, nil
}

// SaveTemplateUsage upserts the latest usage snapshot for a template.
func (s *Store) SaveTemplateUsage(name string, stats templates.UsageStats) error {
	_, err := s.db.Exec(`
		INSERT INTO template_usage (template_name, times_used, success_count, total_latency_ms, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(template_name) DO UPDATE SET
			times_used = excluded.times_used,
			success_count = excluded.success_count,
			total_latency_ms = excluded.total_latency_ms,
			updated_at = excluded.updated_at`,
		name, stats.TimesUsed, stats.SuccessCount, stats.TotalLatency.Milliseconds(),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save template usage: %w", err)
	}
	return nil
}

// TemplateUsage returns the persisted usage snapshot for one template.
func (s *Store) TemplateUsage(name string) (templates.UsageStats, bool, error) {
	var stats templates.UsageStats
	var latencyMS int64
	err := s.db.QueryRow(`
		SELECT times_used, success_count, total_latency_ms
		FROM template_usage WHERE template_name = ?`, name).
		Scan(&stats.TimesUsed, &stats.SuccessCount, &latencyMS)
	if err == sql.ErrNoRows {
		return templates.UsageStats{}, false, nil
	}
	if err != nil {
		return templates.UsageStats{}, false, fmt.Errorf("failed to query template usage: %w", err)
	}
	stats.TotalLatency = time.Duration(latencyMS) * time.Millisecond
	return stats, true, nil
}
