// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Middleware turns every /api/ request into a query event. The elapsed
// time is captured per request from its own start instant, so concurrent
// requests never contaminate each other's measurements. Ingestion runs
// after the response is written and off the request goroutine; the
// client never waits on it.
func (p *Pipeline) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Next()
			return
		}

		requestID := uuid.New().String()
		c.Set("request_id", requestID)
		start := time.Now()

		c.Next()

		elapsed := int(time.Since(start).Milliseconds())
		raw := c.Request.Method + " " + c.Request.URL.Path
		endpoint := c.Request.URL.Path

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if _, err := p.Ingest(context.Background(), raw, elapsed, endpoint); err != nil {
				slog.Error("Failed to ingest request event", "request_id", requestID, "error", err)
			}
		}()
	}
}
