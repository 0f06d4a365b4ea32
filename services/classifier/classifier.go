// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classifier maps raw query text and request metadata to a query
// kind, a latency tier, and the set of entities the query touches.
//
// Everything here is a pure function: no I/O, no state, and deterministic
// output for a given input. The pipeline calls these on every ingested
// event, so they must never fail — unrecognizable input resolves to a
// default rather than an error.
package classifier

import (
	"regexp"
	"strings"
)

// Query kinds.
const (
	KindSelect = "SELECT"
	KindInsert = "INSERT"
	KindUpdate = "UPDATE"
	KindDelete = "DELETE"
	KindDDL    = "DDL"
)

// Latency tiers.
const (
	TierFast     = "fast"
	TierSlow     = "slow"
	TierCritical = "critical"
)

// Tier thresholds in milliseconds, exclusive on the lower bound:
// exactly 100ms is still fast, exactly 200ms is still slow.
const (
	slowThresholdMs     = 100
	criticalThresholdMs = 200
)

// tableRe matches the identifier following FROM/JOIN/INTO/UPDATE.
var tableRe = regexp.MustCompile(`(?i)(?:FROM|JOIN|INTO|UPDATE)\s+([a-zA-Z_][a-zA-Z0-9_]*)`)

// knownEntities is the vocabulary matched against endpoint path segments.
var knownEntities = []string{"products", "users", "orders", "categories"}

// Kind classifies the query text into one of the query kinds. SQL keywords
// win: a leading SELECT/INSERT/UPDATE/DELETE decides directly, and any
// CREATE/ALTER/DROP marks the text as DDL. When the text carries no SQL
// keyword, the HTTP method of the originating request is used as a hint
// (POST→INSERT, PUT/PATCH→UPDATE, DELETE→DELETE). Non-SQL operation
// descriptions like "POST /api/orders" carry their own method, so the
// hint may be left empty. Everything else defaults to SELECT.
func Kind(text, methodHint string) string {
	q := strings.ToUpper(strings.TrimSpace(text))

	switch {
	case strings.HasPrefix(q, KindSelect):
		return KindSelect
	case strings.HasPrefix(q, KindInsert):
		return KindInsert
	case strings.HasPrefix(q, KindUpdate):
		return KindUpdate
	case strings.HasPrefix(q, KindDelete):
		return KindDelete
	}
	if strings.Contains(q, "CREATE") || strings.Contains(q, "ALTER") || strings.Contains(q, "DROP") {
		return KindDDL
	}

	// Endpoint-shaped input embeds its own method; otherwise use the hint.
	if methodHint != "" {
		q = strings.ToUpper(methodHint)
	}
	switch {
	case strings.Contains(q, "POST"):
		return KindInsert
	case strings.Contains(q, "PUT"), strings.Contains(q, "PATCH"):
		return KindUpdate
	case strings.Contains(q, "DELETE"):
		return KindDelete
	}
	return KindSelect
}

// Tier buckets an execution time into fast, slow, or critical.
func Tier(executionTimeMs int) string {
	switch {
	case executionTimeMs > criticalThresholdMs:
		return TierCritical
	case executionTimeMs > slowThresholdMs:
		return TierSlow
	default:
		return TierFast
	}
}

// Entities collects the entity names a query touches: identifiers
// following FROM/JOIN/INTO/UPDATE in the text, plus any known entity that
// appears as a segment of the originating endpoint path. Names are
// lowercased and deduplicated, preserving first-appearance order. A query
// touching nothing recognizable yields ["unknown"].
func Entities(text, endpoint string) []string {
	var entities []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			entities = append(entities, name)
		}
	}

	for _, m := range tableRe.FindAllStringSubmatch(text, -1) {
		add(strings.ToLower(m[1]))
	}
	for _, known := range knownEntities {
		if strings.Contains(endpoint, known) {
			add(known)
		}
	}

	if len(entities) == 0 {
		return []string{"unknown"}
	}
	return entities
}
