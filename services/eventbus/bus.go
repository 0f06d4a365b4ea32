// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package eventbus unifies access to the external Redis broker and an
// in-process fallback behind one Bus interface.
//
// The variant is selected once, at startup: Connect pings Redis with a
// bounded timeout and returns either a RedisBus (mode live) or a started
// MemoryBus (mode fallback) for the remainder of the process lifetime.
// Dependents receive the Bus by injection and never branch on the mode
// themselves.
//
// All methods return explicit errors; callers decide whether a failure is
// fatal (it never is for the pipeline, which logs and continues).
package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Mode identifies which transport backs the bus.
type Mode string

const (
	// ModeLive routes all operations to the external Redis broker.
	ModeLive Mode = "live"
	// ModeFallback routes all operations to the in-process cache.
	ModeFallback Mode = "fallback"
)

// Topics and stream keys used by the pipeline and the live fan-out.
const (
	TopicQueryLive       = "query:live"
	TopicOptimization    = "optimization:suggestion"
	TopicOptimizApplied  = "optimization:applied"
	TopicDemoMetrics     = "demo:metrics"
	StreamQueryEvents    = "query:events"
	KeyPrefixOptimiz     = "optimization:"
	ConnectTimeout       = 3 * time.Second
)

// ErrNotFound is returned by Get when a key is absent or expired.
var ErrNotFound = errors.New("eventbus: key not found")

// StreamEntry is one record read back from a stream.
type StreamEntry struct {
	ID     string
	Fields map[string]string
}

// Handler receives a published payload. Handlers must not block: they run
// on the delivery goroutine for their topic.
type Handler func(payload []byte)

// Subscription is a live binding of a handler to a topic. Unsubscribe is
// idempotent and releases all resources the binding holds.
type Subscription struct {
	unsubscribe func()
}

// Unsubscribe releases the binding. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s != nil && s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// Bus is the uniform operation set over Redis or the in-process fallback.
//
// Publish with zero subscribers is a no-op, never an error, and is never
// replayed for later subscribers. Per-topic delivery order matches publish
// order for every subscriber.
type Bus interface {
	// SetWithTTL stores a value that expires after ttl.
	SetWithTTL(ctx context.Context, key string, ttl time.Duration, value string) error

	// Get returns the value at key, or ErrNotFound if absent or expired.
	Get(ctx context.Context, key string) (string, error)

	// Publish delivers payload to all current subscribers of topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe binds handler to topic until Unsubscribe is called.
	Subscribe(ctx context.Context, topic string, handler Handler) (*Subscription, error)

	// AppendToStream appends fields to an ordered stream.
	AppendToStream(ctx context.Context, stream string, fields map[string]string) error

	// StreamRecent returns up to count most recent entries, newest first.
	StreamRecent(ctx context.Context, stream string, count int64) ([]StreamEntry, error)

	// Increment atomically adds by to a counter key and returns the result.
	Increment(ctx context.Context, key string, by int64) (int64, error)

	// Ping verifies the transport is reachable.
	Ping(ctx context.Context) error

	// Mode reports which transport backs this bus.
	Mode() Mode

	// Close releases the transport and any background tasks.
	Close() error
}

// Config holds connection settings for the external broker.
type Config struct {
	// RedisURL is a redis:// connection URL.
	RedisURL string
	// RedisPassword overrides the password in the URL when set.
	RedisPassword string
}

// Connect selects the bus variant for this process: with a configured
// URL it attempts to reach Redis within ConnectTimeout and falls back to
// the in-process cache when the broker is absent. An empty URL skips the
// attempt entirely. The choice is permanent for the process lifetime.
func Connect(ctx context.Context, cfg Config) Bus {
	if cfg.RedisURL == "" {
		slog.Info("No Redis URL configured, using in-memory fallback for caching")
		return NewMemoryBus()
	}

	pingCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	rb, err := NewRedisBus(cfg)
	if err == nil {
		if err = rb.Ping(pingCtx); err == nil {
			slog.Info("Redis connected", "url", cfg.RedisURL)
			return rb
		}
		rb.Close()
	}
	slog.Warn("Redis not available, using in-memory fallback for caching", "error", err)
	return NewMemoryBus()
}
