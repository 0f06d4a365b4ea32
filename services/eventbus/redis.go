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
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus backs the Bus interface with an external Redis broker.
//
// Each Subscribe opens a dedicated PubSub connection with its own pump
// goroutine, so per-topic delivery order is the order Redis delivered the
// messages. Unsubscribe closes the PubSub, which ends the pump.
type RedisBus struct {
	client *redis.Client

	mu   sync.Mutex
	subs map[*redis.PubSub]struct{}
}

// NewRedisBus builds a Redis-backed bus from the config. It does not
// verify connectivity; call Ping for that (Connect does).
func NewRedisBus(cfg Config) (*RedisBus, error) {
	url := cfg.RedisURL
	if url == "" {
		url = "redis://localhost:6379"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	return &RedisBus{
		client: redis.NewClient(opts),
		subs:   make(map[*redis.PubSub]struct{}),
	}, nil
}

// Mode reports ModeLive.
func (b *RedisBus) Mode() Mode { return ModeLive }

// Ping verifies the broker is reachable.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// SetWithTTL stores value at key with an expiry.
func (b *RedisBus) SetWithTTL(ctx context.Context, key string, ttl time.Duration, value string) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

// Get returns the value at key, mapping redis.Nil to ErrNotFound.
func (b *RedisBus) Get(ctx context.Context, key string) (string, error) {
	val, err := b.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Publish sends payload on the topic channel.
func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, topic, payload).Err()
}

// Subscribe opens a PubSub on topic and pumps messages into handler.
func (b *RedisBus) Subscribe(ctx context.Context, topic string, handler Handler) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, topic)

	// Receive confirms the SUBSCRIBE round-trip so a dead broker surfaces
	// here instead of as a silently idle channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	b.mu.Lock()
	b.subs[pubsub] = struct{}{}
	b.mu.Unlock()

	go func() {
		for msg := range pubsub.Channel() {
			handler([]byte(msg.Payload))
		}
	}()

	return &Subscription{unsubscribe: func() {
		b.mu.Lock()
		delete(b.subs, pubsub)
		b.mu.Unlock()
		if err := pubsub.Close(); err != nil {
			slog.Warn("Failed to close Redis subscription", "topic", topic, "error", err)
		}
	}}, nil
}

// AppendToStream appends fields to a Redis stream with an auto id.
func (b *RedisBus) AppendToStream(ctx context.Context, stream string, fields map[string]string) error {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return b.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Err()
}

// StreamRecent returns the count most recent entries, newest first.
func (b *RedisBus) StreamRecent(ctx context.Context, stream string, count int64) ([]StreamEntry, error) {
	msgs, err := b.client.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("redis xrevrange: %w", err)
	}
	entries := make([]StreamEntry, 0, len(msgs))
	for _, m := range msgs {
		fields := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			if s, ok := v.(string); ok {
				fields[k] = s
			}
		}
		entries = append(entries, StreamEntry{ID: m.ID, Fields: fields})
	}
	return entries, nil
}

// Increment atomically adds by to key.
func (b *RedisBus) Increment(ctx context.Context, key string, by int64) (int64, error) {
	return b.client.IncrBy(ctx, key, by).Result()
}

// Close shuts down all open subscriptions and the client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	for pubsub := range b.subs {
		pubsub.Close()
	}
	b.subs = make(map[*redis.PubSub]struct{})
	b.mu.Unlock()
	return b.client.Close()
}
