// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func insertLog(t *testing.T, db *DB, text string, execMs int, status string) int64 {
	t.Helper()
	id, err := db.InsertQueryLog(context.Background(), &QueryLog{
		QueryText:      text,
		ExecutionTime:  execMs,
		AffectedTables: []string{"products"},
		QueryType:      "SELECT",
		Status:         status,
	})
	require.NoError(t, err)
	return id
}

func TestInsertAndReadQueryLog(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id := insertLog(t, db, "SELECT * FROM products", 42, "fast")
	require.Greater(t, id, int64(0))

	logs, err := db.RecentQueryLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)

	got := logs[0]
	require.Equal(t, id, got.ID)
	require.Equal(t, "SELECT * FROM products", got.QueryText)
	require.Equal(t, 42, got.ExecutionTime)
	require.Equal(t, []string{"products"}, got.AffectedTables)
	require.Equal(t, "fast", got.Status)
	require.False(t, got.CreatedAt.IsZero())
}

func TestRecentQueryLogsNewestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := insertLog(t, db, "SELECT 1", 10, "fast")
	second := insertLog(t, db, "SELECT 2", 20, "fast")

	logs, err := db.RecentQueryLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, second, logs[0].ID)
	require.Equal(t, first, logs[1].ID)
}

func TestSlowQueriesThreshold(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	insertLog(t, db, "fast query", 100, "fast")
	slowID := insertLog(t, db, "slow query", 150, "slow")
	criticalID := insertLog(t, db, "critical query", 300, "critical")

	logs, err := db.SlowQueries(ctx, 100, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	// Slowest first.
	require.Equal(t, criticalID, logs[0].ID)
	require.Equal(t, slowID, logs[1].ID)
}

func TestOptimizationStatusTransitions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	logID := insertLog(t, db, "SELECT * FROM orders", 250, "critical")
	improvement := 40
	optID, err := db.InsertOptimization(ctx, &AIOptimization{
		QueryLogID:           logID,
		OptimizationType:     "index",
		Suggestion:           "Add an index on orders.status",
		Confidence:           80,
		EstimatedImprovement: &improvement,
	})
	require.NoError(t, err)

	// Defaults to pending and shows up on the active list.
	active, err := db.ActiveOptimizations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, StatusPending, active[0].Status)
	require.NotNil(t, active[0].EstimatedImprovement)
	require.Equal(t, 40, *active[0].EstimatedImprovement)

	// pending -> applied succeeds.
	require.NoError(t, db.UpdateOptimizationStatus(ctx, optID, StatusApplied))

	// Applied is terminal.
	err = db.UpdateOptimizationStatus(ctx, optID, StatusRejected)
	require.ErrorIs(t, err, ErrConflict)

	// Unknown id.
	err = db.UpdateOptimizationStatus(ctx, optID+999, StatusApplied)
	require.ErrorIs(t, err, ErrNotFound)

	// Only terminal states are valid targets.
	err = db.UpdateOptimizationStatus(ctx, optID, StatusPending)
	require.ErrorIs(t, err, ErrConflict)

	active, err = db.ActiveOptimizations(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestSummary(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Empty database yields zeros, not errors.
	s, err := db.Summary(ctx)
	require.NoError(t, err)
	require.Zero(t, s.TotalQueries)
	require.Zero(t, s.AvgResponseTime)

	logID := insertLog(t, db, "SELECT 1", 100, "fast")
	insertLog(t, db, "SELECT 2", 200, "slow")
	_, err = db.InsertOptimization(ctx, &AIOptimization{
		QueryLogID:       logID,
		OptimizationType: "cache",
		Suggestion:       "Cache it",
		Confidence:       60,
	})
	require.NoError(t, err)

	s, err = db.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), s.TotalQueries)
	require.InDelta(t, 150.0, s.AvgResponseTime, 0.001)
	require.Equal(t, int64(1), s.Optimizations)
}

func TestChartDataBucketsByMinute(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Minute)
	for i, ms := range []int{100, 200} {
		_, err := db.InsertQueryLog(ctx, &QueryLog{
			QueryText:     "SELECT 1",
			ExecutionTime: ms,
			QueryType:     "SELECT",
			Status:        "fast",
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}
	_, err := db.InsertQueryLog(ctx, &QueryLog{
		QueryText:     "SELECT 2",
		ExecutionTime: 50,
		QueryType:     "SELECT",
		Status:        "fast",
		CreatedAt:     base.Add(-5 * time.Minute),
	})
	require.NoError(t, err)

	points, err := db.ChartData(ctx, base.Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, points, 2)

	// Oldest bucket first; same-minute rows share a bucket.
	require.Equal(t, int64(1), points[0].QueryCount)
	require.Equal(t, int64(2), points[1].QueryCount)
	require.InDelta(t, 150.0, points[1].AvgTime, 0.001)
	require.True(t, points[0].Interval.Before(points[1].Interval))
}
