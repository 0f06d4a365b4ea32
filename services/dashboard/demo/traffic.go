// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package demo generates synthetic e-commerce query traffic so the
// dashboard has something to show without a real workload behind it.
package demo

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/AleutianAI/QueryPulse/services/eventbus"
	"github.com/AleutianAI/QueryPulse/services/pipeline"
)

// queryTemplates is the pool of synthetic workload shapes. Endpoints
// carry the entity vocabulary the classifier knows about.
var queryTemplates = []struct {
	text     string
	endpoint string
}{
	{"SELECT * FROM products WHERE category_id = 3 ORDER BY price DESC", "/api/products"},
	{"SELECT id, email FROM users WHERE last_login > date('now', '-7 day')", "/api/users"},
	{"SELECT o.id, o.total FROM orders o JOIN users u ON u.id = o.user_id WHERE o.status = 'pending'", "/api/orders"},
	{"SELECT p.name, c.name FROM products p JOIN categories c ON c.id = p.category_id", "/api/categories"},
	{"INSERT INTO orders (user_id, total, status) VALUES (42, 129.95, 'pending')", "/api/orders"},
	{"UPDATE products SET stock = stock - 1 WHERE id = 1007", "/api/products"},
	{"DELETE FROM cart_items WHERE updated_at < date('now', '-30 day')", "/api/users"},
	{"GET /api/products", "/api/products"},
	{"POST /api/orders", "/api/orders"},
}

// metricsEvery controls how many traffic ticks pass between demo:metrics
// publications.
const metricsEvery = 5

// Config tunes the generator cadence.
type Config struct {
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{Interval: 2 * time.Second}
}

// Generator emits synthetic query events through the pipeline on a fixed
// cadence. Start and Stop are idempotent; the generator can be restarted
// any number of times.
type Generator struct {
	pipe *pipeline.Pipeline
	bus  eventbus.Bus
	cfg  Config

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

func NewGenerator(pipe *pipeline.Pipeline, bus eventbus.Bus, cfg Config) *Generator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Generator{pipe: pipe, bus: bus, cfg: cfg}
}

// Start launches the generator goroutine. Returns false if it was
// already running.
func (g *Generator) Start() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return false
	}
	g.running = true
	g.done = make(chan struct{})
	slog.Info("Demo traffic generator starting", "interval", g.cfg.Interval.String())
	go g.runLoop(g.done)
	return true
}

// Stop signals the generator to halt. Returns false if it was not
// running. Safe to call multiple times.
func (g *Generator) Stop() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return false
	}
	slog.Info("Demo traffic generator stopping")
	close(g.done)
	g.running = false
	return true
}

// Running reports whether the generator loop is active.
func (g *Generator) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

func (g *Generator) runLoop(done chan struct{}) {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			g.emitQuery()
			tick++
			if tick%metricsEvery == 0 {
				g.emitMetrics()
			}
		}
	}
}

func (g *Generator) emitQuery() {
	t := queryTemplates[rand.Intn(len(queryTemplates))]
	if _, err := g.pipe.Ingest(context.Background(), t.text, randomExecutionTime(), t.endpoint); err != nil {
		slog.Warn("Demo traffic ingestion failed", "error", err)
	}
}

func (g *Generator) emitMetrics() {
	payload, err := json.Marshal(map[string]any{
		"queriesPerMin": 300 + rand.Intn(50),
		"activeUsers":   1000 + rand.Intn(200),
		"databaseLoad":  40 + rand.Intn(40),
	})
	if err != nil {
		return
	}
	if err := g.bus.Publish(context.Background(), eventbus.TopicDemoMetrics, payload); err != nil {
		slog.Warn("Failed to publish demo metrics", "error", err)
	}
}

// randomExecutionTime skews toward fast queries: roughly 70% fast, 20%
// slow, 10% critical, matching a plausible production spread.
func randomExecutionTime() int {
	switch roll := rand.Intn(100); {
	case roll < 70:
		return 5 + rand.Intn(96) // 5-100ms
	case roll < 90:
		return 101 + rand.Intn(100) // 101-200ms
	default:
		return 201 + rand.Intn(300) // 201-500ms
	}
}
