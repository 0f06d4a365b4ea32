// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command dashboard starts the QueryPulse monitoring HTTP server.
//
// It reads configuration from environment variables and starts the
// server. When Redis is unreachable the service degrades to an
// in-process event bus and keeps serving.
//
// # Environment Variables
//
//   - DASHBOARD_PORT: HTTP server port (default: 12400)
//   - DATA_DIR: SQLite data directory (default: ./data)
//   - REDIS_URL: Redis connection URL (optional; empty means fallback mode)
//   - REDIS_PASSWORD: Redis auth credential (optional)
//   - ADVISOR_BACKEND: suggestion engine - openai, heuristic (default: heuristic)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (optional)
//   - GIN_MODE: gin framework mode (optional)
//   - LOG_LEVEL: minimum log level - debug, info, warn, error (default: info)
//   - LOG_DIR: directory for daily log files (optional)
//
// # Usage
//
//	# Build
//	go build -o dashboard ./cmd/dashboard
//
//	# Run
//	./dashboard
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/AleutianAI/QueryPulse/pkg/logging"
	"github.com/AleutianAI/QueryPulse/services/dashboard"
)

func main() {
	// Setup structured logging (installed as the slog default)
	logger := logging.Setup(logging.Config{
		Level:   getEnvString("LOG_LEVEL", "info"),
		Service: "dashboard",
		Dir:     os.Getenv("LOG_DIR"),
	})
	defer logger.Close()

	cfg := dashboard.Config{
		Port:           getEnvInt("DASHBOARD_PORT", 12400),
		DataDir:        getEnvString("DATA_DIR", "./data"),
		RedisURL:       os.Getenv("REDIS_URL"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		AdvisorBackend: getEnvString("ADVISOR_BACKEND", "heuristic"),
		OTelEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		GinMode:        os.Getenv("GIN_MODE"),
	}

	slog.Info("Starting dashboard",
		"port", cfg.Port,
		"data_dir", cfg.DataDir,
		"advisor_backend", cfg.AdvisorBackend,
		"redis_configured", cfg.RedisURL != "",
	)

	svc, err := dashboard.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create dashboard: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Dashboard error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
