// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dashboard assembles the query monitoring service: storage,
// event bus, advisor, ingestion pipeline, demo traffic generator, and
// the HTTP/WebSocket surface that serves the dashboard UI.
//
// The event bus mode is decided exactly once, at construction: if Redis
// answers a ping within the connect timeout the service runs in live
// mode, otherwise it runs on the in-process fallback bus for its whole
// lifetime. Nothing downstream ever asks which one it got.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/QueryPulse/services/advisor"
	"github.com/AleutianAI/QueryPulse/services/dashboard/demo"
	"github.com/AleutianAI/QueryPulse/services/dashboard/observability"
	"github.com/AleutianAI/QueryPulse/services/dashboard/routes"
	"github.com/AleutianAI/QueryPulse/services/eventbus"
	"github.com/AleutianAI/QueryPulse/services/pipeline"
	"github.com/AleutianAI/QueryPulse/services/storage"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the dashboard lifecycle contract.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until it stops.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds dashboard service configuration. All fields have
// defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 12400
	Port int

	// DataDir is where the SQLite database lives. Default: "./data"
	DataDir string

	// RedisURL selects live mode when reachable, e.g.
	// "redis://localhost:6379". Empty means fallback mode without even
	// attempting a connection.
	RedisURL string

	// RedisPassword is the optional Redis auth credential.
	RedisPassword string

	// AdvisorBackend selects the suggestion engine.
	// Valid values: "openai", "heuristic". Default: "heuristic"
	AdvisorBackend string

	// OTelEndpoint is the OpenTelemetry collector endpoint. Empty
	// disables tracing.
	OTelEndpoint string

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	GinMode string

	// DemoInterval is the synthetic traffic cadence. Default: 2s
	DemoInterval time.Duration
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12400
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.AdvisorBackend == "" {
		cfg.AdvisorBackend = "heuristic"
	}
	if cfg.DemoInterval == 0 {
		cfg.DemoInterval = demo.DefaultConfig().Interval
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service coordinates all dashboard components. All fields are
// read-only after New() returns.
type service struct {
	config        Config
	router        *gin.Engine
	store         *storage.DB
	bus           eventbus.Bus
	advisor       advisor.Client
	pipe          *pipeline.Pipeline
	traffic       *demo.Generator
	metrics       *observability.Metrics
	registry      *prometheus.Registry
	tracerCleanup func(context.Context)
}

// New wires a ready-to-run dashboard service.
//
// # Description
//
// Initialization order matters: storage first (a failure there is
// fatal), then the event-bus mode decision, then the advisor, pipeline,
// demo generator, and finally the router. Tracing is optional and only
// initialized when an OTel endpoint is configured.
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	if s.config.OTelEndpoint != "" {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	store, err := storage.Open(s.config.DataDir)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	s.store = store

	ctx, cancel := context.WithTimeout(context.Background(), eventbus.ConnectTimeout+time.Second)
	defer cancel()
	s.bus = eventbus.Connect(ctx, eventbus.Config{
		RedisURL:      s.config.RedisURL,
		RedisPassword: s.config.RedisPassword,
	})
	slog.Info("Event bus ready", "mode", s.bus.Mode())

	if err := s.initAdvisor(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize advisor: %w", err)
	}

	s.registry = prometheus.NewRegistry()
	s.metrics = observability.NewMetrics(s.registry)

	s.pipe = pipeline.New(s.store, s.bus, s.advisor, s.metrics, pipeline.DefaultConfig())
	s.traffic = demo.NewGenerator(s.pipe, s.bus, demo.Config{Interval: s.config.DemoInterval})

	s.initRouter()
	return s, nil
}

// Run starts the HTTP server and blocks until it stops. Resources are
// released on return.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting dashboard server", "port", s.config.Port, "bus_mode", s.bus.Mode())

	return s.router.Run(addr)
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func (s *service) initAdvisor() error {
	switch s.config.AdvisorBackend {
	case "openai":
		client, err := advisor.NewOpenAIAdvisor()
		if err != nil {
			return err
		}
		s.advisor = client
		slog.Info("Using OpenAI advisor backend")
	case "heuristic":
		s.advisor = advisor.NewHeuristicAdvisor()
		slog.Info("Using heuristic advisor backend")
	default:
		slog.Warn("Unknown advisor backend, defaulting to heuristic", "backend", s.config.AdvisorBackend)
		s.advisor = advisor.NewHeuristicAdvisor()
	}
	return nil
}

// initTracer sets up the OTLP trace exporter. Uses an insecure gRPC
// connection, appropriate for internal networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("dashboard-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

func (s *service) initRouter() {
	s.router = gin.Default()
	if s.config.OTelEndpoint != "" {
		s.router.Use(otelgin.Middleware("dashboard-service"))
	}
	s.router.Use(s.pipe.Middleware())

	routes.SetupRoutes(s.router, s.store, s.bus, s.advisor, s.traffic, s.metrics, s.registry)
}

// cleanup releases resources in reverse construction order. Safe to
// call with partially initialized state.
func (s *service) cleanup() {
	if s.traffic != nil {
		s.traffic.Stop()
	}
	if s.pipe != nil {
		s.pipe.Close()
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			slog.Warn("Event bus close error", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("Storage close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
