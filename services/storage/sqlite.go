// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage provides SQLite-backed persistence for query logs and
// AI optimization suggestions.
//
// The store uses the pure-Go modernc.org/sqlite driver in WAL mode, so the
// dashboard runs with no external database and no CGO. Timestamps are kept
// as Unix milliseconds; affected-table sets are stored as a JSON array in a
// TEXT column.
//
// # Thread Safety
//
// *DB is safe for concurrent use. The connection pool is capped at a single
// writer, which is what SQLite supports anyway.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrConflict is returned when a status transition is not allowed
	// from the row's current state.
	ErrConflict = errors.New("storage: conflicting status transition")
)

// DB wraps the SQLite connection and owns the schema.
type DB struct {
	db *sql.DB
}

// Open creates or opens the dashboard database at dir/dashboard.db.
// Enables WAL mode, foreign keys, and a 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dsn := filepath.Join(dir, "dashboard.db") + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	return open(dsn)
}

// OpenInMemory opens a throwaway in-memory database. Used by tests.
func OpenInMemory() (*DB, error) {
	return open(":memory:")
}

func open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer; a larger pool only produces SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS query_logs (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			query_text      TEXT NOT NULL,
			execution_time  INTEGER NOT NULL,
			affected_tables TEXT NOT NULL DEFAULT '[]',
			query_type      TEXT NOT NULL,
			status          TEXT NOT NULL,
			index_usage     BOOLEAN NOT NULL DEFAULT 0,
			created_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_query_logs_created ON query_logs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_query_logs_exec ON query_logs(execution_time)`,

		`CREATE TABLE IF NOT EXISTS ai_optimizations (
			id                    INTEGER PRIMARY KEY AUTOINCREMENT,
			query_log_id          INTEGER NOT NULL REFERENCES query_logs(id),
			optimization_type     TEXT NOT NULL,
			suggestion            TEXT NOT NULL,
			confidence            INTEGER NOT NULL,
			estimated_improvement INTEGER,
			status                TEXT NOT NULL DEFAULT 'pending',
			created_at            INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_optimizations_created ON ai_optimizations(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_optimizations_status ON ai_optimizations(status)`,
	}
	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// InsertQueryLog persists a query log record and returns its assigned id.
// CreatedAt is assigned here if the caller left it zero.
func (d *DB) InsertQueryLog(ctx context.Context, q *QueryLog) (int64, error) {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	tables, err := json.Marshal(q.AffectedTables)
	if err != nil {
		return 0, fmt.Errorf("marshal affected tables: %w", err)
	}
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO query_logs (query_text, execution_time, affected_tables, query_type, status, index_usage, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		q.QueryText, q.ExecutionTime, string(tables), q.QueryType, q.Status, q.IndexUsage, q.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert query log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	q.ID = id
	return id, nil
}

// InsertOptimization persists a suggestion bound to a query log. Status
// defaults to pending when unset.
func (d *DB) InsertOptimization(ctx context.Context, o *AIOptimization) (int64, error) {
	if o.Status == "" {
		o.Status = StatusPending
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	var improvement sql.NullInt64
	if o.EstimatedImprovement != nil {
		improvement = sql.NullInt64{Int64: int64(*o.EstimatedImprovement), Valid: true}
	}
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO ai_optimizations (query_log_id, optimization_type, suggestion, confidence, estimated_improvement, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.QueryLogID, o.OptimizationType, o.Suggestion, o.Confidence, improvement, o.Status, o.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert optimization: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	o.ID = id
	return id, nil
}

// UpdateOptimizationStatus moves a suggestion out of pending. The only
// legal transitions are pending→applied and pending→rejected; applied and
// rejected are terminal. Returns ErrNotFound for unknown ids and
// ErrConflict when the row has already left pending.
func (d *DB) UpdateOptimizationStatus(ctx context.Context, id int64, status string) error {
	if status != StatusApplied && status != StatusRejected {
		return fmt.Errorf("%w: cannot transition to %q", ErrConflict, status)
	}
	res, err := d.db.ExecContext(ctx,
		`UPDATE ai_optimizations SET status = ? WHERE id = ? AND status = ?`,
		status, id, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("update optimization status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var current string
		err := d.db.QueryRowContext(ctx,
			`SELECT status FROM ai_optimizations WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: already %s", ErrConflict, current)
	}
	return nil
}

// RecentQueryLogs returns the most recent query logs, newest first.
func (d *DB) RecentQueryLogs(ctx context.Context, limit int) ([]QueryLog, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, query_text, execution_time, affected_tables, query_type, status, index_usage, created_at
		 FROM query_logs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent logs: %w", err)
	}
	defer rows.Close()
	return scanQueryLogs(rows)
}

// SlowQueries returns the slowest queries above thresholdMs, slowest first.
func (d *DB) SlowQueries(ctx context.Context, thresholdMs, limit int) ([]QueryLog, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, query_text, execution_time, affected_tables, query_type, status, index_usage, created_at
		 FROM query_logs WHERE execution_time > ? ORDER BY execution_time DESC LIMIT ?`,
		thresholdMs, limit)
	if err != nil {
		return nil, fmt.Errorf("query slow logs: %w", err)
	}
	defer rows.Close()
	return scanQueryLogs(rows)
}

func scanQueryLogs(rows *sql.Rows) ([]QueryLog, error) {
	var logs []QueryLog
	for rows.Next() {
		var q QueryLog
		var tables string
		var createdMs int64
		if err := rows.Scan(&q.ID, &q.QueryText, &q.ExecutionTime, &tables,
			&q.QueryType, &q.Status, &q.IndexUsage, &createdMs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tables), &q.AffectedTables); err != nil {
			q.AffectedTables = nil
		}
		q.CreatedAt = time.UnixMilli(createdMs)
		logs = append(logs, q)
	}
	return logs, rows.Err()
}

// ActiveOptimizations returns pending suggestions, newest first.
func (d *DB) ActiveOptimizations(ctx context.Context, limit int) ([]AIOptimization, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, query_log_id, optimization_type, suggestion, confidence, estimated_improvement, status, created_at
		 FROM ai_optimizations WHERE status = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query active optimizations: %w", err)
	}
	defer rows.Close()

	var opts []AIOptimization
	for rows.Next() {
		var o AIOptimization
		var improvement sql.NullInt64
		var createdMs int64
		if err := rows.Scan(&o.ID, &o.QueryLogID, &o.OptimizationType, &o.Suggestion,
			&o.Confidence, &improvement, &o.Status, &createdMs); err != nil {
			return nil, err
		}
		if improvement.Valid {
			v := int(improvement.Int64)
			o.EstimatedImprovement = &v
		}
		o.CreatedAt = time.UnixMilli(createdMs)
		opts = append(opts, o)
	}
	return opts, rows.Err()
}

// Summary aggregates totals for the dashboard headline metrics.
func (d *DB) Summary(ctx context.Context) (MetricsSummary, error) {
	var s MetricsSummary
	var avg sql.NullFloat64
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(execution_time) FROM query_logs`).Scan(&s.TotalQueries, &avg)
	if err != nil {
		return s, fmt.Errorf("query log summary: %w", err)
	}
	if avg.Valid {
		s.AvgResponseTime = avg.Float64
	}
	err = d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ai_optimizations`).Scan(&s.Optimizations)
	if err != nil {
		return s, fmt.Errorf("optimization summary: %w", err)
	}
	return s, nil
}

// ChartData buckets query activity since the given time into per-minute
// averages, oldest bucket first.
func (d *DB) ChartData(ctx context.Context, since time.Time) ([]ChartPoint, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT (created_at / 60000) * 60000 AS bucket, AVG(execution_time), COUNT(*)
		 FROM query_logs WHERE created_at >= ?
		 GROUP BY bucket ORDER BY bucket`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query chart data: %w", err)
	}
	defer rows.Close()

	var points []ChartPoint
	for rows.Next() {
		var p ChartPoint
		var bucketMs int64
		if err := rows.Scan(&bucketMs, &p.AvgTime, &p.QueryCount); err != nil {
			return nil, err
		}
		p.Interval = time.UnixMilli(bucketMs)
		points = append(points, p)
	}
	return points, rows.Err()
}
