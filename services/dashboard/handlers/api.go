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
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/QueryPulse/services/advisor"
	"github.com/AleutianAI/QueryPulse/services/eventbus"
	"github.com/AleutianAI/QueryPulse/services/storage"
)

// slowThresholdMs mirrors the classifier boundary: queries strictly above
// this are listed on the slow-query endpoint.
const slowThresholdMs = 100

// estSavingsPerOptimization is the monthly dollar figure attributed to
// one applied or pending optimization on the headline metrics card. The
// dashboard is a demo surface; the figure is illustrative.
const estSavingsPerOptimization = 150.0

// Store is the read/update slice of the storage layer the REST handlers
// use.
type Store interface {
	Ping(ctx context.Context) error
	RecentQueryLogs(ctx context.Context, limit int) ([]storage.QueryLog, error)
	SlowQueries(ctx context.Context, thresholdMs, limit int) ([]storage.QueryLog, error)
	ActiveOptimizations(ctx context.Context, limit int) ([]storage.AIOptimization, error)
	UpdateOptimizationStatus(ctx context.Context, id int64, status string) error
	Summary(ctx context.Context) (storage.MetricsSummary, error)
	ChartData(ctx context.Context, since time.Time) ([]storage.ChartPoint, error)
}

// TrafficController is the demo traffic generator surface.
type TrafficController interface {
	Start() bool
	Stop() bool
	Running() bool
}

// Health reports service liveness plus which event-bus mode the process
// selected at startup.
func Health(store Store, bus eventbus.Bus) gin.HandlerFunc {
	return func(c *gin.Context) {
		dbStatus := "ok"
		if err := store.Ping(c.Request.Context()); err != nil {
			slog.Error("Health check database ping failed", "error", err)
			dbStatus = "error"
		}

		busStatus := "connected"
		if bus.Mode() == eventbus.ModeFallback {
			busStatus = "fallback"
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  dbStatus,
			"redis":     busStatus,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// DashboardMetrics serves the headline cards: totals, average response
// time, active optimization count, and the derived cost-savings figure.
func DashboardMetrics(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := store.Summary(c.Request.Context())
		if err != nil {
			slog.Error("Failed to load metrics summary", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load metrics"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"totalQueries":    summary.TotalQueries,
			"avgResponseTime": summary.AvgResponseTime,
			"optimizations":   summary.Optimizations,
			"costSavings":     float64(summary.Optimizations) * estSavingsPerOptimization,
		})
	}
}

// RecentQueries lists the newest query logs, newest first.
func RecentQueries(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := intQuery(c, "limit", 50)
		logs, err := store.RecentQueryLogs(c.Request.Context(), limit)
		if err != nil {
			slog.Error("Failed to load recent queries", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load recent queries"})
			return
		}
		c.JSON(http.StatusOK, logs)
	}
}

// SlowQueries lists queries above the slow threshold, slowest first.
func SlowQueries(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := intQuery(c, "limit", 20)
		logs, err := store.SlowQueries(c.Request.Context(), slowThresholdMs, limit)
		if err != nil {
			slog.Error("Failed to load slow queries", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load slow queries"})
			return
		}
		c.JSON(http.StatusOK, logs)
	}
}

// ActiveOptimizations lists pending suggestions, newest first.
func ActiveOptimizations(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := intQuery(c, "limit", 50)
		opts, err := store.ActiveOptimizations(c.Request.Context(), limit)
		if err != nil {
			slog.Error("Failed to load active optimizations", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load optimizations"})
			return
		}
		c.JSON(http.StatusOK, opts)
	}
}

// ResolveOptimization moves a pending suggestion to applied or rejected.
// Unknown ids get 404; suggestions that already left pending get 409.
// An apply is announced on the optimization:applied topic so connected
// dashboards update without polling.
func ResolveOptimization(store Store, bus eventbus.Bus, status string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid optimization id"})
			return
		}

		err = store.UpdateOptimizationStatus(c.Request.Context(), id, status)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "optimization not found"})
			return
		case errors.Is(err, storage.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "optimization already resolved"})
			return
		case err != nil:
			slog.Error("Failed to update optimization status", "id", id, "status", status, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update optimization"})
			return
		}

		slog.Info("Optimization resolved", "id", id, "status", status)
		if status == storage.StatusApplied {
			payload, _ := json.Marshal(gin.H{"id": id, "status": status})
			if pubErr := bus.Publish(c.Request.Context(), eventbus.TopicOptimizApplied, payload); pubErr != nil {
				slog.Warn("Failed to announce applied optimization", "id", id, "error", pubErr)
			}
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "status": status})
	}
}

// AIInsights runs the advisor over a sample of recent slow queries and
// returns its aggregate assessment.
func AIInsights(store Store, adv advisor.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		logs, err := store.SlowQueries(c.Request.Context(), slowThresholdMs, 20)
		if err != nil {
			slog.Error("Failed to load queries for insights", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load query sample"})
			return
		}

		samples := make([]advisor.QuerySample, 0, len(logs))
		for _, l := range logs {
			samples = append(samples, advisor.QuerySample{
				QueryText:     l.QueryText,
				ExecutionTime: l.ExecutionTime,
			})
		}

		insights, err := adv.GenerateInsights(c.Request.Context(), samples)
		if err != nil {
			slog.Error("Failed to generate insights", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate insights"})
			return
		}
		c.JSON(http.StatusOK, insights)
	}
}

// ChartData serves per-minute performance buckets for the last N minutes
// (default 60).
func ChartData(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		minutes := intQuery(c, "minutes", 60)
		since := time.Now().Add(-time.Duration(minutes) * time.Minute)
		points, err := store.ChartData(c.Request.Context(), since)
		if err != nil {
			slog.Error("Failed to load chart data", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chart data"})
			return
		}
		c.JSON(http.StatusOK, points)
	}
}

// StartDemo begins synthetic traffic generation. Starting an already
// running generator is a no-op that still reports success.
func StartDemo(traffic TrafficController) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := traffic.Start()
		slog.Info("Demo traffic start requested", "started", started)
		c.JSON(http.StatusOK, gin.H{"running": true, "started": started})
	}
}

// StopDemo halts synthetic traffic generation.
func StopDemo(traffic TrafficController) gin.HandlerFunc {
	return func(c *gin.Context) {
		stopped := traffic.Stop()
		slog.Info("Demo traffic stop requested", "stopped", stopped)
		c.JSON(http.StatusOK, gin.H{"running": false, "stopped": stopped})
	}
}

// DemoStatus reports whether the generator is currently running.
func DemoStatus(traffic TrafficController) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"running": traffic.Running()})
	}
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
