// Copyright 2026 The Sploot Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package frontend

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/server/router"

	"github.com/rclong1221/sploot-media-clustering/internal/clustering"
	"github.com/rclong1221/sploot-media-clustering/internal/metrics"
)

// defaultReason tags jobs enqueued through the HTTP surface without an
// explicit reason.
const defaultReason = "api"

// enqueueRequest is the body of POST /internal/cluster-jobs.
type enqueueRequest struct {
	JobID    string              `json:"job_id"`
	PetID    string              `json:"pet_id"`
	Reason   string              `json:"reason"`
	Force    bool                `json:"force"`
	Payload  clustering.JobPayload `json:"payload"`
	Metadata map[string]string   `json:"metadata"`
}

// enqueueResponse acknowledges an accepted job.
type enqueueResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

// EnqueueJob serves POST /internal/cluster-jobs: validates the body,
// assigns a job ID if the producer omitted one, and appends the job to
// the stream.
func (h *Handlers) EnqueueJob(ctx *router.Context) {
	var req enqueueRequest
	if err := json.NewDecoder(ctx.Request.Body).Decode(&req); err != nil {
		respondWithDetail(ctx, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if req.PetID == "" {
		respondWithDetail(ctx, http.StatusBadRequest, "pet_id is required")
		return
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	if req.Reason == "" {
		req.Reason = defaultReason
	}
	req.Payload.Normalize()

	job := &clustering.Job{
		JobID:     req.JobID,
		PetID:     req.PetID,
		Reason:    req.Reason,
		Force:     req.Force,
		Payload:   req.Payload,
		Metadata:  req.Metadata,
		EmittedAt: clock.Now(ctx.Context).UTC(),
	}
	fields, err := job.StreamFields()
	if err != nil {
		logging.Errorf(ctx.Context, "Encoding job %s: %s", job.JobID, err)
		http.Error(ctx.Writer, "Internal server error.", http.StatusInternalServerError)
		return
	}
	id, err := h.broker.Append(ctx.Context, fields)
	if err != nil {
		logging.WithError(err).Errorf(ctx.Context, "Appending job %s for pet %s", job.JobID, job.PetID)
		respondWithDetail(ctx, http.StatusServiceUnavailable, "broker unavailable")
		return
	}
	metrics.JobsEnqueued.Inc()
	logging.Infof(ctx.Context, "Enqueued job %s for pet %s as %s (reason %q, force %t)", job.JobID, job.PetID, id, job.Reason, job.Force)
	respondWithJSON(ctx, http.StatusAccepted, enqueueResponse{Status: "accepted", JobID: job.JobID})
}
