// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eventbus

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// sweepInterval is how often the background sweep reclaims expired
// cache entries. Readers never see an expired entry regardless: Get
// checks expiry lazily and evicts on read.
const sweepInterval = 60 * time.Second

type memoryEntry struct {
	value   string
	expires time.Time
}

type memorySubscriber struct {
	id      int64
	handler Handler
}

// MemoryBus is the in-process substitute for Redis, used when the broker
// is unreachable at startup.
//
// Pub/sub is synchronous local fan-out: Publish invokes every registered
// handler for the topic inline, in registration order, and nothing is kept
// for subscribers that arrive later. Streams are unbounded ordered slices
// per key. A single background sweep goroutine reclaims expired cache
// entries; Close stops it.
type MemoryBus struct {
	mu      sync.RWMutex
	cache   map[string]memoryEntry
	streams map[string][]StreamEntry
	subs    map[string][]memorySubscriber

	nextSubID int64
	nextSeq   int64

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryBus creates a fallback bus and starts its cleanup sweep.
func NewMemoryBus() *MemoryBus {
	b := &MemoryBus{
		cache:   make(map[string]memoryEntry),
		streams: make(map[string][]StreamEntry),
		subs:    make(map[string][]memorySubscriber),
		done:    make(chan struct{}),
	}
	go b.sweep()
	return b
}

// Mode reports ModeFallback.
func (b *MemoryBus) Mode() Mode { return ModeFallback }

// Ping always succeeds: the fallback is the process itself.
func (b *MemoryBus) Ping(ctx context.Context) error { return nil }

// SetWithTTL stores value with an absolute expiry timestamp.
func (b *MemoryBus) SetWithTTL(ctx context.Context, key string, ttl time.Duration, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache[key] = memoryEntry{value: value, expires: time.Now().Add(ttl)}
	return nil
}

// Get returns the value at key, evicting it first if expired.
func (b *MemoryBus) Get(ctx context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.cache[key]
	if !ok {
		return "", ErrNotFound
	}
	if time.Now().After(entry.expires) {
		delete(b.cache, key)
		return "", ErrNotFound
	}
	return entry.value, nil
}

// Publish invokes every handler registered for topic, in registration
// order. A topic with no subscribers is a silent no-op.
func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	subs := make([]memorySubscriber, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(payload)
	}
	return nil
}

// Subscribe registers handler for topic until Unsubscribe is called.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string, handler Handler) (*Subscription, error) {
	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	b.subs[topic] = append(b.subs[topic], memorySubscriber{id: id, handler: handler})
	b.mu.Unlock()

	return &Subscription{unsubscribe: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[topic]
		for i, s := range subs {
			if s.id == id {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
	}}, nil
}

// AppendToStream appends an entry with a generated sequential id.
func (b *MemoryBus) AppendToStream(ctx context.Context, stream string, fields map[string]string) error {
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSeq++
	id := fmt.Sprintf("%d-%d", time.Now().UnixMilli(), b.nextSeq)
	b.streams[stream] = append(b.streams[stream], StreamEntry{ID: id, Fields: copied})
	return nil
}

// StreamRecent returns the count most recent entries, newest first.
func (b *MemoryBus) StreamRecent(ctx context.Context, stream string, count int64) ([]StreamEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entries := b.streams[stream]
	if count < 0 {
		count = 0
	}
	n := int64(len(entries))
	if count < n {
		n = count
	}
	out := make([]StreamEntry, 0, n)
	for i := int64(len(entries)) - 1; i >= int64(len(entries))-n; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

// Increment adds by to a counter stored as a cache entry. Counters share
// the cache map and carry a one-hour TTL, matching the broker's behavior
// of treating counters as expiring keys.
func (b *MemoryBus) Increment(ctx context.Context, key string, by int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var current int64
	if entry, ok := b.cache[key]; ok && time.Now().Before(entry.expires) {
		current, _ = strconv.ParseInt(entry.value, 10, 64)
	}
	current += by
	b.cache[key] = memoryEntry{
		value:   strconv.FormatInt(current, 10),
		expires: time.Now().Add(time.Hour),
	}
	return current, nil
}

// Close stops the background sweep. Idempotent.
func (b *MemoryBus) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}

// sweep reclaims expired cache entries on a fixed interval until Close.
func (b *MemoryBus) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			now := time.Now()
			b.mu.Lock()
			for key, entry := range b.cache {
				if now.After(entry.expires) {
					delete(b.cache, key)
				}
			}
			b.mu.Unlock()
		}
	}
}
