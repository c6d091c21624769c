// Copyright 2026 The Sploot Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package frontend

import (
	"net/http"

	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/server/router"

	"github.com/rclong1221/sploot-media-clustering/internal/cache"
)

// invalidateResponse reports whether an invalidation removed anything.
type invalidateResponse struct {
	Status string `json:"status"`
}

// GetClusters serves GET /internal/pets/:pet_id/clusters with the pet's
// latest cached cluster state.
func (h *Handlers) GetClusters(ctx *router.Context) {
	petID := ctx.Params.ByName("pet_id")
	desc, err := h.store.Get(ctx.Context, petID)
	switch {
	case err == cache.NotExistsErr:
		respondWithDetail(ctx, http.StatusNotFound, "no cluster state for pet")
	case err != nil:
		logging.WithError(err).Errorf(ctx.Context, "Reading cluster state for pet %s", petID)
		http.Error(ctx.Writer, "Internal server error.", http.StatusInternalServerError)
	default:
		respondWithJSON(ctx, http.StatusOK, desc)
	}
}

// InvalidateClusters serves POST /internal/pets/:pet_id/invalidate,
// removing the pet's cached state. The response distinguishes an actual
// removal from a no-op so callers can tell whether state existed.
func (h *Handlers) InvalidateClusters(ctx *router.Context) {
	petID := ctx.Params.ByName("pet_id")
	existed, err := h.store.Delete(ctx.Context, petID)
	if err != nil {
		logging.WithError(err).Errorf(ctx.Context, "Invalidating cluster state for pet %s", petID)
		respondWithDetail(ctx, http.StatusServiceUnavailable, "broker unavailable")
		return
	}
	status := "noop"
	if existed {
		status = "removed"
	}
	logging.Infof(ctx.Context, "Invalidated cluster state for pet %s: %s", petID, status)
	respondWithJSON(ctx, http.StatusAccepted, invalidateResponse{Status: status})
}
