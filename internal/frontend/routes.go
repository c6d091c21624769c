// Copyright 2026 The Sploot Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package frontend

import (
	"net/http"
	"strconv"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/server/router"

	"github.com/rclong1221/sploot-media-clustering/internal/metrics"
)

// RegisterRoutes registers the service routes. Liveness is unauthenticated;
// everything under /internal/ requires the shared token, checked before
// any request body is touched.
func (h *Handlers) RegisterRoutes(r *router.Router) {
	r.GET("/healthz", router.NewMiddlewareChain(requestLogger("/healthz")), h.Healthz)

	internal := func(route string) router.MiddlewareChain {
		return router.NewMiddlewareChain(requestLogger(route), h.checkToken)
	}
	r.POST("/internal/cluster-jobs", internal("/internal/cluster-jobs"), h.EnqueueJob)
	r.GET("/internal/pets/:pet_id/clusters", internal("/internal/pets/:pet_id/clusters"), h.GetClusters)
	r.POST("/internal/pets/:pet_id/invalidate", internal("/internal/pets/:pet_id/invalidate"), h.InvalidateClusters)
	r.GET("/internal/health/redis", internal("/internal/health/redis"), h.BrokerHealth)
}

// statusWriter records the response status for the request log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// requestLogger emits one structured event per request with the route,
// outcome and latency, and feeds the HTTP metrics.
func requestLogger(route string) router.Middleware {
	return func(ctx *router.Context, next router.Handler) {
		started := clock.Now(ctx.Context)
		sw := &statusWriter{ResponseWriter: ctx.Writer, status: http.StatusOK}
		ctx.Writer = sw
		next(ctx)
		elapsed := clock.Now(ctx.Context).Sub(started)
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
		metrics.HTTPLatency.WithLabelValues(route).Observe(elapsed.Seconds())
		logging.Infof(ctx.Context, "%s %s -> %d in %s", ctx.Request.Method, ctx.Request.URL.Path, sw.status, elapsed)
	}
}
