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
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/QueryPulse/services/dashboard/observability"
	"github.com/AleutianAI/QueryPulse/services/eventbus"
)

// relayTopics are the event-bus topics mirrored to every connected
// dashboard.
var relayTopics = []string{
	eventbus.TopicQueryLive,
	eventbus.TopicOptimization,
	eventbus.TopicOptimizApplied,
	eventbus.TopicDemoMetrics,
}

// syntheticInterval is how often a connection without a real metrics
// feed receives a synthetic frame so the dashboard keeps animating.
const syntheticInterval = 5 * time.Second

// sendBuffer bounds the per-connection outbound queue. A consumer that
// falls this far behind starts losing frames rather than stalling the
// publisher.
const sendBuffer = 64

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Envelope is the frame format on the wire: the topic name as type, the
// published payload untouched as data.
type Envelope struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// frameWriter is the slice of *websocket.Conn the relay writes through.
type frameWriter interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// relay owns one dashboard connection: it subscribes to the relay
// topics, funnels every frame through a single writer goroutine, and
// tears everything down exactly once when the connection dies.
type relay struct {
	conn    frameWriter
	bus     eventbus.Bus
	metrics *observability.Metrics

	send chan []byte
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	subs []*eventbus.Subscription

	// syntheticEvery is the synthetic frame cadence, overridable in tests.
	syntheticEvery time.Duration
}

func newRelay(conn frameWriter, bus eventbus.Bus, metrics *observability.Metrics) *relay {
	return &relay{
		conn:           conn,
		bus:            bus,
		metrics:        metrics,
		send:           make(chan []byte, sendBuffer),
		done:           make(chan struct{}),
		syntheticEvery: syntheticInterval,
	}
}

// start sends the connection acknowledgement, subscribes to all relay
// topics, and launches the writer goroutine. In fallback mode, or when
// any topic binding fails, it also starts the synthetic metrics ticker
// so the connection still receives a live signal.
func (r *relay) start() {
	r.enqueueEnvelope(Envelope{Type: "connection", Message: "Connected to live query feed"})

	bindFailed := false
	for _, topic := range relayTopics {
		topic := topic
		sub, err := r.bus.Subscribe(context.Background(), topic, func(payload []byte) {
			r.enqueueEnvelope(Envelope{Type: topic, Data: json.RawMessage(payload)})
		})
		if err != nil {
			slog.Warn("Failed to subscribe websocket relay", "topic", topic, "error", err)
			bindFailed = true
			continue
		}
		r.mu.Lock()
		r.subs = append(r.subs, sub)
		r.mu.Unlock()
	}

	go r.writeLoop()

	if r.bus.Mode() == eventbus.ModeFallback || bindFailed {
		go r.syntheticLoop()
	}
}

// enqueueEnvelope marshals and queues one frame, dropping it if the
// consumer is too far behind or the relay is closing.
func (r *relay) enqueueEnvelope(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("Failed to marshal websocket envelope", "type", env.Type, "error", err)
		return
	}
	select {
	case <-r.done:
	case r.send <- data:
	default:
		slog.Warn("Dropping frame for slow websocket consumer", "type", env.Type)
	}
}

func (r *relay) writeLoop() {
	for {
		select {
		case <-r.done:
			return
		case data := <-r.send:
			if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Info("Websocket write failed, closing relay", "error", err)
				r.close()
				return
			}
		}
	}
}

// syntheticLoop emits a metrics frame on a fixed cadence so dashboards
// without a real feed still show movement. It stops with the relay.
func (r *relay) syntheticLoop() {
	ticker := time.NewTicker(r.syntheticEvery)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.metrics.SyntheticTicksTotal.Inc()
			payload, _ := json.Marshal(map[string]any{
				"queriesPerMin": 200 + rand.Intn(100),
				"activeUsers":   800 + rand.Intn(500),
				"databaseLoad":  40 + rand.Intn(30),
			})
			r.enqueueEnvelope(Envelope{Type: eventbus.TopicDemoMetrics, Data: payload})
		}
	}
}

// close unsubscribes from every topic, stops the writer and synthetic
// loops, and closes the connection. Safe to call more than once.
func (r *relay) close() {
	r.once.Do(func() {
		close(r.done)
		r.mu.Lock()
		subs := r.subs
		r.subs = nil
		r.mu.Unlock()
		for _, sub := range subs {
			sub.Unsubscribe()
		}
		if err := r.conn.Close(); err != nil {
			slog.Debug("Websocket close failed", "error", err)
		}
	})
}

// LiveFeed upgrades the request and relays bus events to the client
// until it disconnects. Inbound frames are read only to observe the
// close; their content is ignored.
func LiveFeed(bus eventbus.Bus, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Failed to upgrade websocket", "error", err)
			return
		}
		slog.Info("Websocket client connected", "remote", ws.RemoteAddr().String())
		metrics.ActiveConnections.Inc()
		defer metrics.ActiveConnections.Dec()

		r := newRelay(ws, bus, metrics)
		r.start()
		defer r.close()

		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				slog.Info("Websocket client disconnected", "error", err.Error())
				return
			}
		}
	}
}
