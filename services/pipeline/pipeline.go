// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline orchestrates the life of one query event: classify,
// persist, stream, publish to live viewers, and — for slow or critical
// queries — enrich with cached or freshly generated optimization
// suggestions.
//
// Failure semantics: only persistence failures abort an ingestion and
// surface to the caller. Every downstream step (stream append, publish,
// enrichment) is best-effort and isolated; a failure there is logged and
// never rolls back or blocks the others. Enrichment runs asynchronously
// and the caller of Ingest never waits for it.
package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/AleutianAI/QueryPulse/services/advisor"
	"github.com/AleutianAI/QueryPulse/services/classifier"
	"github.com/AleutianAI/QueryPulse/services/dashboard/observability"
	"github.com/AleutianAI/QueryPulse/services/eventbus"
	"github.com/AleutianAI/QueryPulse/services/storage"
)

// previewLimit bounds the query text published to live viewers.
const previewLimit = 100

// Store is the slice of the storage layer the pipeline writes through.
type Store interface {
	InsertQueryLog(ctx context.Context, q *storage.QueryLog) (int64, error)
	InsertOptimization(ctx context.Context, o *storage.AIOptimization) (int64, error)
}

// Config tunes the enrichment path.
type Config struct {
	// CacheTTL is how long a generated suggestion stays valid in the
	// optimization cache. While an entry is valid the advisor is never
	// re-invoked for the same query text.
	CacheTTL time.Duration

	// AdvisorTimeout bounds one Analyze call. On timeout the enrichment
	// aborts; it is not retried.
	AdvisorTimeout time.Duration
}

// DefaultConfig returns production defaults: one-hour suggestion
// cache, 30-second advisor deadline.
func DefaultConfig() Config {
	return Config{
		CacheTTL:       time.Hour,
		AdvisorTimeout: 30 * time.Second,
	}
}

// LiveQueryUpdate is the payload published on the query:live topic.
type LiveQueryUpdate struct {
	ID             int64    `json:"id"`
	QueryText      string   `json:"queryText"`
	ExecutionTime  int      `json:"executionTime"`
	Status         string   `json:"status"`
	AffectedTables []string `json:"affectedTables"`
	Timestamp      string   `json:"timestamp"`
}

// SuggestionUpdate is the payload published on the
// optimization:suggestion topic.
type SuggestionUpdate struct {
	QueryLogID           int64  `json:"queryLogId"`
	OptimizationType     string `json:"optimizationType"`
	Suggestion           string `json:"suggestion"`
	Confidence           int    `json:"confidence"`
	EstimatedImprovement *int   `json:"estimatedImprovement,omitempty"`
	Source               string `json:"source"` // "cache" or "ai"
}

// Pipeline carries one query event from raw signal to fan-out.
type Pipeline struct {
	store   Store
	bus     eventbus.Bus
	advisor advisor.Client
	metrics *observability.Metrics
	cfg     Config

	wg sync.WaitGroup
}

// New wires a pipeline. All collaborators are required.
func New(store Store, bus eventbus.Bus, adv advisor.Client, metrics *observability.Metrics, cfg Config) *Pipeline {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	if cfg.AdvisorTimeout <= 0 {
		cfg.AdvisorTimeout = DefaultConfig().AdvisorTimeout
	}
	return &Pipeline{store: store, bus: bus, advisor: adv, metrics: metrics, cfg: cfg}
}

// Ingest processes one observed operation. It classifies and persists the
// event, then best-effort appends it to the durable stream and publishes
// it to live viewers. Slow and critical events additionally trigger
// asynchronous enrichment; Ingest returns without waiting for it.
//
// A persistence failure aborts the whole ingestion and is returned; no
// downstream step runs for that event.
func (p *Pipeline) Ingest(ctx context.Context, rawText string, executionTimeMs int, endpoint string) (*storage.QueryLog, error) {
	q := &storage.QueryLog{
		QueryText:      rawText,
		ExecutionTime:  executionTimeMs,
		AffectedTables: classifier.Entities(rawText, endpoint),
		QueryType:      classifier.Kind(rawText, ""),
		Status:         classifier.Tier(executionTimeMs),
	}

	if _, err := p.store.InsertQueryLog(ctx, q); err != nil {
		p.metrics.IngestFailuresTotal.Inc()
		return nil, err
	}
	p.metrics.QueriesIngestedTotal.WithLabelValues(q.QueryType, q.Status).Inc()

	if err := p.bus.AppendToStream(ctx, eventbus.StreamQueryEvents, map[string]string{
		"queryId":       strconv.FormatInt(q.ID, 10),
		"queryText":     q.QueryText,
		"executionTime": strconv.Itoa(q.ExecutionTime),
		"queryType":     q.QueryType,
		"status":        q.Status,
		"timestamp":     strconv.FormatInt(time.Now().UnixMilli(), 10),
	}); err != nil {
		slog.Warn("Failed to append query event to stream", "query_id", q.ID, "error", err)
	}

	p.publish(ctx, eventbus.TopicQueryLive, LiveQueryUpdate{
		ID:             q.ID,
		QueryText:      preview(q.QueryText),
		ExecutionTime:  q.ExecutionTime,
		Status:         q.Status,
		AffectedTables: q.AffectedTables,
		Timestamp:      q.CreatedAt.UTC().Format(time.RFC3339),
	})

	if _, err := p.bus.Increment(ctx, "stats:queries_total", 1); err != nil {
		slog.Debug("Failed to bump query counter", "error", err)
	}

	if q.Status == classifier.TierSlow || q.Status == classifier.TierCritical {
		p.wg.Add(1)
		go func(id int64, text string, ms int) {
			defer p.wg.Done()
			p.Enrich(context.Background(), id, text, ms)
		}(q.ID, q.QueryText, q.ExecutionTime)
	}

	return q, nil
}

// publish marshals payload and publishes it best-effort.
func (p *Pipeline) publish(ctx context.Context, topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal live update", "topic", topic, "error", err)
		return
	}
	if err := p.bus.Publish(ctx, topic, data); err != nil {
		slog.Warn("Failed to publish live update", "topic", topic, "error", err)
		return
	}
	p.metrics.PublishedTotal.WithLabelValues(topic).Inc()
}

// Close waits for all in-flight enrichments to finish.
func (p *Pipeline) Close() {
	p.wg.Wait()
}

// CacheKey returns the optimization cache key for a query text: an md5
// content hash of the exact bytes, no normalization. Whitespace or case
// differences intentionally produce distinct keys.
func CacheKey(queryText string) string {
	sum := md5.Sum([]byte(queryText))
	return eventbus.KeyPrefixOptimiz + hex.EncodeToString(sum[:])
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLimit {
		return text
	}
	return string(runes[:previewLimit]) + "..."
}
