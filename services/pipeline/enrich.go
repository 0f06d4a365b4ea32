// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/AleutianAI/QueryPulse/services/advisor"
	"github.com/AleutianAI/QueryPulse/services/eventbus"
	"github.com/AleutianAI/QueryPulse/services/storage"
)

// Enrich attaches optimization suggestions to a persisted query event.
// The optimization cache is consulted first; a valid hit is replayed
// without invoking the advisor. On a miss the advisor is called under
// the configured timeout and each suggestion is persisted, cached, and
// published. All failures are logged and swallowed: enrichment never
// affects the already-ingested event.
func (p *Pipeline) Enrich(ctx context.Context, queryLogID int64, queryText string, executionTimeMs int) {
	key := CacheKey(queryText)

	if raw, err := p.bus.Get(ctx, key); err == nil {
		var s advisor.Suggestion
		if jsonErr := json.Unmarshal([]byte(raw), &s); jsonErr == nil && advisor.ValidType(s.OptimizationType) {
			p.emitSuggestion(ctx, queryLogID, s, "cache")
			p.metrics.EnrichmentsTotal.WithLabelValues("cache", "ok").Inc()
			return
		}
		// A corrupt cache entry is treated as a miss.
		slog.Warn("Discarding malformed optimization cache entry", "key", key)
	} else if !errors.Is(err, eventbus.ErrNotFound) {
		slog.Warn("Optimization cache lookup failed", "key", key, "error", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.AdvisorTimeout)
	defer cancel()

	start := time.Now()
	suggestions, err := p.advisor.Analyze(callCtx, queryText, executionTimeMs)
	p.metrics.AdvisorLatencySeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.EnrichmentsTotal.WithLabelValues("ai", "error").Inc()
		slog.Error("Advisor analysis failed", "query_id", queryLogID, "error", err)
		return
	}

	for _, s := range suggestions {
		p.emitSuggestion(ctx, queryLogID, s, "ai")
		if data, jsonErr := json.Marshal(s); jsonErr == nil {
			if cacheErr := p.bus.SetWithTTL(ctx, key, p.cfg.CacheTTL, string(data)); cacheErr != nil {
				slog.Warn("Failed to cache optimization suggestion", "key", key, "error", cacheErr)
			}
		}
	}
	outcome := "ok"
	if len(suggestions) == 0 {
		outcome = "empty"
	}
	p.metrics.EnrichmentsTotal.WithLabelValues("ai", outcome).Inc()
}

// emitSuggestion persists one suggestion and publishes it to live
// viewers tagged with where it came from.
func (p *Pipeline) emitSuggestion(ctx context.Context, queryLogID int64, s advisor.Suggestion, source string) {
	opt := &storage.AIOptimization{
		QueryLogID:           queryLogID,
		OptimizationType:     s.OptimizationType,
		Suggestion:           s.Suggestion,
		Confidence:           s.Confidence,
		EstimatedImprovement: s.EstimatedImprovement,
	}
	if _, err := p.store.InsertOptimization(ctx, opt); err != nil {
		slog.Error("Failed to persist optimization suggestion", "query_id", queryLogID, "error", err)
		return
	}

	p.publish(ctx, eventbus.TopicOptimization, SuggestionUpdate{
		QueryLogID:           queryLogID,
		OptimizationType:     s.OptimizationType,
		Suggestion:           s.Suggestion,
		Confidence:           s.Confidence,
		EstimatedImprovement: s.EstimatedImprovement,
		Source:               source,
	})
}
