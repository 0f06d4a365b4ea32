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

import "time"

// Optimization status values. A suggestion starts pending and moves to
// applied or rejected exactly once, via an explicit external action.
const (
	StatusPending  = "pending"
	StatusApplied  = "applied"
	StatusRejected = "rejected"
)

// QueryLog is one observed operation: its raw text, measured execution
// time, and the classification derived at ingest time. Records are
// immutable after insertion.
type QueryLog struct {
	ID             int64     `json:"id"`
	QueryText      string    `json:"queryText"`
	ExecutionTime  int       `json:"executionTime"` // milliseconds
	AffectedTables []string  `json:"affectedTables"`
	QueryType      string    `json:"queryType"` // SELECT, INSERT, UPDATE, DELETE, DDL
	Status         string    `json:"status"`    // fast, slow, critical
	IndexUsage     bool      `json:"indexUsage"`
	CreatedAt      time.Time `json:"createdAt"`
}

// AIOptimization is a suggestion the advisor produced for a query log.
// Immutable except for Status.
type AIOptimization struct {
	ID                   int64     `json:"id"`
	QueryLogID           int64     `json:"queryLogId"`
	OptimizationType     string    `json:"optimizationType"` // index, rewrite, cache, partition
	Suggestion           string    `json:"suggestion"`
	Confidence           int       `json:"confidence"` // 0-100
	EstimatedImprovement *int      `json:"estimatedImprovement,omitempty"`
	Status               string    `json:"status"`
	CreatedAt            time.Time `json:"createdAt"`
}

// MetricsSummary aggregates the dashboard headline numbers.
type MetricsSummary struct {
	TotalQueries    int64   `json:"totalQueries"`
	AvgResponseTime float64 `json:"avgResponseTime"`
	Optimizations   int64   `json:"optimizations"`
}

// ChartPoint is one per-minute bucket of query activity.
type ChartPoint struct {
	Interval   time.Time `json:"interval"`
	AvgTime    float64   `json:"avgTime"`
	QueryCount int64     `json:"queryCount"`
}
