// Package sqlite implements the durable Audit Store on top of a pure-Go
// SQLite driver: WAL journaling for single-writer durability, additive
// schema evolution via a small forward-only migration list, and the four
// logical tables the Audit Store owns (requests, approvals,
// paired_approvers, service_overrides).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clawguard/clawguard/internal/domain/audit"
)

// Store is a SQLite-backed audit.Store and audit.QueryStore.
type Store struct {
	db *sql.DB
}

// migrations is append-only: new entries add nullable columns or new
// tables, never rewrite history.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		service TEXT NOT NULL,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		approved INTEGER NOT NULL,
		response_status INTEGER,
		agent_ip TEXT NOT NULL,
		request_body TEXT,
		response_body TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_timestamp ON requests(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_service ON requests(service)`,
	`CREATE TABLE IF NOT EXISTS approvals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		service TEXT NOT NULL,
		approved_by TEXT NOT NULL,
		ttl_seconds INTEGER NOT NULL,
		expires_at TEXT NOT NULL,
		revoked INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_approvals_service ON approvals(service)`,
	`CREATE TABLE IF NOT EXISTS paired_approvers (
		chat_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		paired_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS service_overrides (
		service_name TEXT PRIMARY KEY,
		config_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
}

// Open opens (creating if necessary) the SQLite database at path, enables
// WAL journaling, and runs all migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// Single-writer workload: serialize writers at the database/sql level
	// rather than fighting SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	for i, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite: migration %d: %w", i, err)
		}
	}
	return nil
}

func timeStr(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// AppendRequest writes one requests row.
func (s *Store) AppendRequest(ctx context.Context, rec audit.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests (timestamp, service, method, path, approved, response_status, agent_ip, request_body, response_body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		timeStr(rec.Timestamp), rec.Service, rec.Method, rec.Path, boolToInt(rec.Approved),
		rec.ResponseStatus, rec.AgentIP, rec.RequestBody, rec.ResponseBody,
	)
	if err != nil {
		return fmt.Errorf("sqlite: append request: %w", err)
	}
	return nil
}

// PutApproval inserts a new approvals row.
func (s *Store) PutApproval(ctx context.Context, row audit.ApprovalRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (timestamp, service, approved_by, ttl_seconds, expires_at, revoked)
		 VALUES (?, ?, ?, ?, ?, 0)`,
		timeStr(row.Timestamp), row.Service, row.ApprovedBy, row.TTLSeconds, timeStr(row.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put approval: %w", err)
	}
	return nil
}

// RevokeApproval marks the live approvals row for service as revoked.
func (s *Store) RevokeApproval(ctx context.Context, service string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET revoked = 1 WHERE service = ? AND revoked = 0`, service)
	if err != nil {
		return fmt.Errorf("sqlite: revoke approval: %w", err)
	}
	return nil
}

// RevokeAllApprovals marks every live approvals row as revoked.
func (s *Store) RevokeAllApprovals(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE approvals SET revoked = 1 WHERE revoked = 0`)
	if err != nil {
		return 0, fmt.Errorf("sqlite: revoke all approvals: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteExpiredApprovals deletes rows with expires_at <= now.
func (s *Store) DeleteExpiredApprovals(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM approvals WHERE expires_at <= ?`, timeStr(now))
	if err != nil {
		return fmt.Errorf("sqlite: gc expired approvals: %w", err)
	}
	return nil
}

// ListLiveApprovals returns non-revoked rows ordered newest-first.
func (s *Store) ListLiveApprovals(ctx context.Context) ([]audit.ApprovalRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, service, approved_by, ttl_seconds, expires_at, revoked
		 FROM approvals WHERE revoked = 0 ORDER BY timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list live approvals: %w", err)
	}
	defer rows.Close()

	var out []audit.ApprovalRow
	for rows.Next() {
		var r audit.ApprovalRow
		var ts, expiresAt string
		var revoked int
		if err := rows.Scan(&r.ID, &ts, &r.Service, &r.ApprovedBy, &r.TTLSeconds, &expiresAt, &revoked); err != nil {
			return nil, fmt.Errorf("sqlite: scan approval: %w", err)
		}
		if r.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if r.ExpiresAt, err = parseTime(expiresAt); err != nil {
			return nil, err
		}
		r.Revoked = revoked != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// PutPairedApprover upserts a PairedApprover by chat ID.
func (s *Store) PutPairedApprover(ctx context.Context, row audit.PairedApproverRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO paired_approvers (chat_id, name, paired_at) VALUES (?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET name = excluded.name, paired_at = excluded.paired_at`,
		row.ChatID, row.Name, timeStr(row.PairedAt))
	if err != nil {
		return fmt.Errorf("sqlite: put paired approver: %w", err)
	}
	return nil
}

// DeletePairedApprover removes a PairedApprover by chat ID.
func (s *Store) DeletePairedApprover(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM paired_approvers WHERE chat_id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("sqlite: delete paired approver: %w", err)
	}
	return nil
}

// GetPairedApprover looks up a PairedApprover by chat ID.
func (s *Store) GetPairedApprover(ctx context.Context, chatID string) (audit.PairedApproverRow, bool, error) {
	var row audit.PairedApproverRow
	var pairedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, name, paired_at FROM paired_approvers WHERE chat_id = ?`, chatID,
	).Scan(&row.ChatID, &row.Name, &pairedAt)
	if err == sql.ErrNoRows {
		return audit.PairedApproverRow{}, false, nil
	}
	if err != nil {
		return audit.PairedApproverRow{}, false, fmt.Errorf("sqlite: get paired approver: %w", err)
	}
	if row.PairedAt, err = parseTime(pairedAt); err != nil {
		return audit.PairedApproverRow{}, false, err
	}
	return row, true, nil
}

// PutServiceOverride upserts a service_overrides row.
func (s *Store) PutServiceOverride(ctx context.Context, row audit.ServiceOverrideRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO service_overrides (service_name, config_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(service_name) DO UPDATE SET config_json = excluded.config_json, updated_at = excluded.updated_at`,
		row.ServiceName, row.ConfigJSON, timeStr(row.CreatedAt), timeStr(row.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: put service override: %w", err)
	}
	return nil
}

// DeleteServiceOverride removes a service_overrides row.
func (s *Store) DeleteServiceOverride(ctx context.Context, serviceName string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM service_overrides WHERE service_name = ?`, serviceName)
	if err != nil {
		return fmt.Errorf("sqlite: delete service override: %w", err)
	}
	return nil
}

// ListServiceOverrides returns every service_overrides row.
func (s *Store) ListServiceOverrides(ctx context.Context) ([]audit.ServiceOverrideRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT service_name, config_json, created_at, updated_at FROM service_overrides`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list service overrides: %w", err)
	}
	defer rows.Close()

	var out []audit.ServiceOverrideRow
	for rows.Next() {
		var r audit.ServiceOverrideRow
		var createdAt, updatedAt string
		if err := rows.Scan(&r.ServiceName, &r.ConfigJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan service override: %w", err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Recent returns the N most recent requests rows, newest first.
func (s *Store) Recent(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	query := `SELECT id, timestamp, service, method, path, approved, response_status, agent_ip, request_body, response_body FROM requests WHERE 1=1`
	var args []any
	if filter.Service != "" {
		query += ` AND service = ?`
		args = append(args, filter.Service)
	}
	if !filter.StartTime.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, timeStr(filter.StartTime))
	}
	if !filter.EndTime.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, timeStr(filter.EndTime))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent: %w", err)
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		var r audit.Record
		var ts string
		var approved int
		if err := rows.Scan(&r.ID, &ts, &r.Service, &r.Method, &r.Path, &approved, &r.ResponseStatus, &r.AgentIP, &r.RequestBody, &r.ResponseBody); err != nil {
			return nil, fmt.Errorf("sqlite: scan recent: %w", err)
		}
		if r.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		r.Approved = approved != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// QueryStats computes the dashboard's since-T aggregations.
func (s *Store) QueryStats(ctx context.Context, start time.Time) (*audit.Stats, error) {
	stats := &audit.Stats{
		ByService:   make(map[string]int64),
		ByHourOfDay: make(map[int]int64),
		ByMethod:    make(map[string]int64),
	}

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests WHERE timestamp >= ?`, timeStr(start))
	if err := row.Scan(&stats.TotalSince); err != nil {
		return nil, fmt.Errorf("sqlite: query stats total: %w", err)
	}

	if err := s.groupByInt64(ctx, `SELECT service, COUNT(*) FROM requests WHERE timestamp >= ? GROUP BY service`, start, stats.ByService); err != nil {
		return nil, err
	}
	if err := s.groupByInt64(ctx, `SELECT method, COUNT(*) FROM requests WHERE timestamp >= ? GROUP BY method`, start, stats.ByMethod); err != nil {
		return nil, err
	}

	hourRows, err := s.db.QueryContext(ctx,
		`SELECT CAST(strftime('%H', timestamp) AS INTEGER), COUNT(*) FROM requests WHERE timestamp >= ? GROUP BY 1`, timeStr(start))
	if err != nil {
		return nil, fmt.Errorf("sqlite: query stats by hour: %w", err)
	}
	defer hourRows.Close()
	for hourRows.Next() {
		var hour int
		var count int64
		if err := hourRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("sqlite: scan by hour: %w", err)
		}
		stats.ByHourOfDay[hour] = count
	}

	approvedRow := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests WHERE timestamp >= ? AND approved = 1`, timeStr(start))
	if err := approvedRow.Scan(&stats.ApprovedCount); err != nil {
		return nil, fmt.Errorf("sqlite: query stats approved: %w", err)
	}
	deniedRow := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests WHERE timestamp >= ? AND approved = 0`, timeStr(start))
	if err := deniedRow.Scan(&stats.DeniedCount); err != nil {
		return nil, fmt.Errorf("sqlite: query stats denied: %w", err)
	}

	return stats, nil
}

func (s *Store) groupByInt64(ctx context.Context, query string, start time.Time, into map[string]int64) error {
	rows, err := s.db.QueryContext(ctx, query, timeStr(start))
	if err != nil {
		return fmt.Errorf("sqlite: group by: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("sqlite: scan group by: %w", err)
		}
		into[key] = count
	}
	return rows.Err()
}

// Flush is a no-op: every write above is a synchronous INSERT/UPDATE, so
// there is nothing buffered to flush. Present to satisfy audit.Store.
func (s *Store) Flush(ctx context.Context) error { return nil }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var (
	_ audit.Store      = (*Store)(nil)
	_ audit.QueryStore = (*Store)(nil)
)
