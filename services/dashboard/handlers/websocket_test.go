// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/QueryPulse/services/dashboard/observability"
	"github.com/AleutianAI/QueryPulse/services/eventbus"
)

// fakeConn captures frames written by the relay.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	err    error
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) envelopes(t *testing.T) []Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		var env Envelope
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("frame is not a valid envelope: %v (%s)", err, f)
		}
		out = append(out, env)
	}
	return out
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestRelay(t *testing.T) (*relay, *fakeConn, *eventbus.MemoryBus) {
	t.Helper()
	bus := eventbus.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })
	conn := &fakeConn{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r := newRelay(conn, bus, metrics)
	t.Cleanup(r.close)
	return r, conn, bus
}

func TestRelaySendsConnectionAck(t *testing.T) {
	r, conn, _ := newTestRelay(t)
	r.start()

	waitFor(t, func() bool {
		return len(conn.envelopes(t)) >= 1
	})
	envs := conn.envelopes(t)
	if envs[0].Type != "connection" {
		t.Errorf("first frame type = %q, want connection", envs[0].Type)
	}
	if envs[0].Message == "" {
		t.Error("connection ack should carry a message")
	}
}

func TestRelayForwardsPublishedEvents(t *testing.T) {
	r, conn, bus := newTestRelay(t)
	r.start()

	payload := []byte(`{"id":7,"status":"slow"}`)
	if err := bus.Publish(context.Background(), eventbus.TopicQueryLive, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitFor(t, func() bool {
		for _, env := range conn.envelopes(t) {
			if env.Type == eventbus.TopicQueryLive {
				return true
			}
		}
		return false
	})

	var got Envelope
	for _, env := range conn.envelopes(t) {
		if env.Type == eventbus.TopicQueryLive {
			got = env
		}
	}
	if string(got.Data) != string(payload) {
		t.Errorf("relayed data = %s, want %s", got.Data, payload)
	}
}

func TestRelayCloseStopsDelivery(t *testing.T) {
	r, conn, bus := newTestRelay(t)
	r.start()

	waitFor(t, func() bool { return len(conn.envelopes(t)) >= 1 })
	r.close()
	r.close() // idempotent

	if !conn.isClosed() {
		t.Error("relay close must close the connection")
	}

	before := len(conn.envelopes(t))
	bus.Publish(context.Background(), eventbus.TopicQueryLive, []byte(`{}`))
	time.Sleep(20 * time.Millisecond)
	if after := len(conn.envelopes(t)); after != before {
		t.Errorf("frames delivered after close: %d -> %d", before, after)
	}
}

func TestRelayWriteFailureClosesRelay(t *testing.T) {
	bus := eventbus.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })
	conn := &fakeConn{err: errors.New("broken pipe")}
	r := newRelay(conn, bus, observability.NewMetrics(prometheus.NewRegistry()))
	r.start()

	waitFor(t, conn.isClosed)
}

// deadSubscribeBus reports live mode but refuses every subscription, like
// a broker that died between the startup ping and the first connection.
type deadSubscribeBus struct {
	*eventbus.MemoryBus
}

func (b *deadSubscribeBus) Mode() eventbus.Mode { return eventbus.ModeLive }

func (b *deadSubscribeBus) Subscribe(ctx context.Context, topic string, handler eventbus.Handler) (*eventbus.Subscription, error) {
	return nil, errors.New("broker gone")
}

// waitForDemoMetrics polls until the connection holds a demo:metrics
// frame carrying all three live-metric fields, and returns it.
func waitForDemoMetrics(t *testing.T, conn *fakeConn) Envelope {
	t.Helper()
	var got Envelope
	waitFor(t, func() bool {
		for _, env := range conn.envelopes(t) {
			if env.Type == eventbus.TopicDemoMetrics {
				got = env
				return true
			}
		}
		return false
	})

	var fields map[string]any
	if err := json.Unmarshal(got.Data, &fields); err != nil {
		t.Fatalf("demo metrics payload is not an object: %v (%s)", err, got.Data)
	}
	for _, name := range []string{"queriesPerMin", "activeUsers", "databaseLoad"} {
		if _, ok := fields[name]; !ok {
			t.Errorf("demo metrics payload missing %q: %s", name, got.Data)
		}
	}
	return got
}

func TestRelaySyntheticMetricsInFallbackMode(t *testing.T) {
	bus := eventbus.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })
	conn := &fakeConn{}
	r := newRelay(conn, bus, observability.NewMetrics(prometheus.NewRegistry()))
	r.syntheticEvery = 10 * time.Millisecond
	t.Cleanup(r.close)

	r.start()
	waitForDemoMetrics(t, conn)
}

func TestRelaySyntheticMetricsAfterBindingFailure(t *testing.T) {
	inner := eventbus.NewMemoryBus()
	t.Cleanup(func() { inner.Close() })
	bus := &deadSubscribeBus{MemoryBus: inner}
	conn := &fakeConn{}
	r := newRelay(conn, bus, observability.NewMetrics(prometheus.NewRegistry()))
	r.syntheticEvery = 10 * time.Millisecond
	t.Cleanup(r.close)

	// Live mode with no working subscriptions still delivers a signal.
	r.start()
	waitForDemoMetrics(t, conn)
}
