// Copyright 2026 The Sploot Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package frontend

import (
	"net/http"
	"time"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/server/router"
)

// probeTimeout bounds the broker round-trips of the health endpoint so a
// wedged broker cannot hold health requests open.
const probeTimeout = 2 * time.Second

type healthResponse struct {
	Status string `json:"status"`
}

// Healthz serves GET /healthz: process liveness only, no dependencies.
func (h *Handlers) Healthz(ctx *router.Context) {
	respondWithJSON(ctx, http.StatusOK, healthResponse{Status: "ok"})
}

// BrokerHealth serves GET /internal/health/redis: a low-timeout broker
// ping plus a consumer-group probe on the configured group.
func (h *Handlers) BrokerHealth(ctx *router.Context) {
	probeCtx, cancel := clock.WithTimeout(ctx.Context, probeTimeout)
	defer cancel()

	if err := h.broker.Ping(probeCtx); err != nil {
		logging.WithError(err).Warningf(ctx.Context, "Broker health: ping failed")
		respondWithDetail(ctx, http.StatusServiceUnavailable, "broker unavailable")
		return
	}
	if _, err := h.broker.GroupInfo(probeCtx); err != nil {
		logging.WithError(err).Warningf(ctx.Context, "Broker health: group probe failed")
		respondWithDetail(ctx, http.StatusServiceUnavailable, "consumer group unavailable")
		return
	}
	respondWithJSON(ctx, http.StatusOK, healthResponse{Status: "ok"})
}
