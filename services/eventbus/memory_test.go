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
	"errors"
	"testing"
	"time"
)

func newTestBus(t *testing.T) *MemoryBus {
	t.Helper()
	b := NewMemoryBus()
	t.Cleanup(func() { b.Close() })
	return b
}

func TestMemoryBusCacheRoundTrip(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	if err := b.SetWithTTL(ctx, "optimization:abc", time.Minute, `{"v":1}`); err != nil {
		t.Fatalf("SetWithTTL failed: %v", err)
	}
	got, err := b.Get(ctx, "optimization:abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != `{"v":1}` {
		t.Errorf("Get = %q, want %q", got, `{"v":1}`)
	}
}

func TestMemoryBusGetMissing(t *testing.T) {
	b := newTestBus(t)
	_, err := b.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get for missing key returned %v, want ErrNotFound", err)
	}
}

func TestMemoryBusTTLExpiry(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	if err := b.SetWithTTL(ctx, "k", 10*time.Millisecond, "v"); err != nil {
		t.Fatalf("SetWithTTL failed: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	if _, err := b.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after expiry returned %v, want ErrNotFound", err)
	}
}

func TestMemoryBusPublishOrderAndFanOut(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	var first, second []string
	sub1, err := b.Subscribe(ctx, "query:live", func(payload []byte) {
		first = append(first, string(payload))
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub1.Unsubscribe()
	sub2, err := b.Subscribe(ctx, "query:live", func(payload []byte) {
		second = append(second, string(payload))
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub2.Unsubscribe()

	for _, msg := range []string{"a", "b", "c"} {
		if err := b.Publish(ctx, "query:live", []byte(msg)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	want := []string{"a", "b", "c"}
	for i, msgs := range [][]string{first, second} {
		if len(msgs) != len(want) {
			t.Fatalf("subscriber %d received %d messages, want %d", i, len(msgs), len(want))
		}
		for j := range want {
			if msgs[j] != want[j] {
				t.Errorf("subscriber %d message %d = %q, want %q", i, j, msgs[j], want[j])
			}
		}
	}
}

func TestMemoryBusNoReplayForLateSubscribers(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	if err := b.Publish(ctx, "query:live", []byte("early")); err != nil {
		t.Fatalf("Publish with no subscribers should be a no-op, got %v", err)
	}

	var got []string
	sub, err := b.Subscribe(ctx, "query:live", func(payload []byte) {
		got = append(got, string(payload))
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	if len(got) != 0 {
		t.Fatalf("late subscriber received replayed messages: %v", got)
	}
}

func TestMemoryBusUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	var count int
	sub, err := b.Subscribe(ctx, "demo:metrics", func([]byte) { count++ })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	b.Publish(ctx, "demo:metrics", []byte("1"))
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent
	b.Publish(ctx, "demo:metrics", []byte("2"))

	if count != 1 {
		t.Errorf("handler invoked %d times, want 1", count)
	}
}

func TestMemoryBusStreamRecentNewestFirst(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		if err := b.AppendToStream(ctx, StreamQueryEvents, map[string]string{"queryId": id}); err != nil {
			t.Fatalf("AppendToStream failed: %v", err)
		}
	}

	entries, err := b.StreamRecent(ctx, StreamQueryEvents, 2)
	if err != nil {
		t.Fatalf("StreamRecent failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("StreamRecent returned %d entries, want 2", len(entries))
	}
	if entries[0].Fields["queryId"] != "3" || entries[1].Fields["queryId"] != "2" {
		t.Errorf("StreamRecent order = [%s %s], want [3 2]",
			entries[0].Fields["queryId"], entries[1].Fields["queryId"])
	}
	if entries[0].ID == "" || entries[0].ID == entries[1].ID {
		t.Errorf("stream entry ids should be unique and non-empty, got %q and %q",
			entries[0].ID, entries[1].ID)
	}
}

func TestMemoryBusStreamRecentNonPositiveCount(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	if err := b.AppendToStream(ctx, StreamQueryEvents, map[string]string{"queryId": "1"}); err != nil {
		t.Fatalf("AppendToStream failed: %v", err)
	}

	for _, count := range []int64{0, -1, -50} {
		entries, err := b.StreamRecent(ctx, StreamQueryEvents, count)
		if err != nil {
			t.Fatalf("StreamRecent(%d) failed: %v", count, err)
		}
		if len(entries) != 0 {
			t.Errorf("StreamRecent(%d) returned %d entries, want 0", count, len(entries))
		}
	}
}

func TestMemoryBusIncrement(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	if v, err := b.Increment(ctx, "stats:queries_total", 1); err != nil || v != 1 {
		t.Fatalf("first Increment = (%d, %v), want (1, nil)", v, err)
	}
	if v, err := b.Increment(ctx, "stats:queries_total", 5); err != nil || v != 6 {
		t.Fatalf("second Increment = (%d, %v), want (6, nil)", v, err)
	}
}

func TestConnectFallsBackWithoutRedis(t *testing.T) {
	t.Run("empty url skips the broker entirely", func(t *testing.T) {
		start := time.Now()
		bus := Connect(context.Background(), Config{})
		t.Cleanup(func() { bus.Close() })

		if bus.Mode() != ModeFallback {
			t.Fatalf("Connect without a URL returned mode %q, want %q", bus.Mode(), ModeFallback)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("Connect with no URL took %v; it must not dial anything", elapsed)
		}
		if err := bus.Ping(context.Background()); err != nil {
			t.Errorf("fallback Ping should always succeed, got %v", err)
		}
	})

	t.Run("unreachable broker falls back", func(t *testing.T) {
		// Port 1 is never a Redis server; the dial fails fast.
		bus := Connect(context.Background(), Config{RedisURL: "redis://127.0.0.1:1"})
		t.Cleanup(func() { bus.Close() })

		if bus.Mode() != ModeFallback {
			t.Fatalf("Connect to a dead broker returned mode %q, want %q", bus.Mode(), ModeFallback)
		}
	})
}
