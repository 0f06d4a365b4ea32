// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/QueryPulse/services/advisor"
	"github.com/AleutianAI/QueryPulse/services/dashboard/handlers"
	"github.com/AleutianAI/QueryPulse/services/dashboard/observability"
	"github.com/AleutianAI/QueryPulse/services/eventbus"
	"github.com/AleutianAI/QueryPulse/services/storage"
)

func SetupRoutes(router *gin.Engine, store handlers.Store, bus eventbus.Bus,
	adv advisor.Client, traffic handlers.TrafficController,
	metrics *observability.Metrics, registry *prometheus.Registry) {

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/ws", handlers.LiveFeed(bus, metrics))

	api := router.Group("/api")
	{
		api.GET("/health", handlers.Health(store, bus))
		api.GET("/metrics", handlers.DashboardMetrics(store))
		api.GET("/queries/recent", handlers.RecentQueries(store))
		api.GET("/queries/slow", handlers.SlowQueries(store))
		api.GET("/performance/chart-data", handlers.ChartData(store))
		api.GET("/insights", handlers.AIInsights(store, adv))

		optimizations := api.Group("/optimizations")
		{
			optimizations.GET("/active", handlers.ActiveOptimizations(store))
			optimizations.POST("/:id/apply", handlers.ResolveOptimization(store, bus, storage.StatusApplied))
			optimizations.POST("/:id/reject", handlers.ResolveOptimization(store, bus, storage.StatusRejected))
		}

		demo := api.Group("/demo/traffic")
		{
			demo.POST("/start", handlers.StartDemo(traffic))
			demo.POST("/stop", handlers.StopDemo(traffic))
			demo.GET("/status", handlers.DemoStatus(traffic))
		}
	}
}
