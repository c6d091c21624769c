// Copyright 2026 The Sploot Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package frontend provides the token-authenticated HTTP surface of the
// clustering service: job enqueue, cluster-state reads and invalidation,
// and health probes.
package frontend

import (
	"context"
	"encoding/json"
	"net/http"

	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/server/router"

	"github.com/rclong1221/sploot-media-clustering/internal/clustering"
	"github.com/rclong1221/sploot-media-clustering/internal/streams"
)

// Broker is the stream surface the frontend appends to and probes.
type Broker interface {
	Append(ctx context.Context, fields map[string]interface{}) (string, error)
	Ping(ctx context.Context) error
	GroupInfo(ctx context.Context) (*streams.GroupInfo, error)
}

// ClusterStore is the cache surface the frontend reads and invalidates.
// Get returns cache.NotExistsErr when there is no state for the pet.
type ClusterStore interface {
	Get(ctx context.Context, petID string) (*clustering.ClusterDescriptor, error)
	Delete(ctx context.Context, petID string) (bool, error)
}

// Handlers services the clustering HTTP routes.
type Handlers struct {
	token  string
	broker Broker
	store  ClusterStore
}

// NewHandlers initialises a new Handlers instance. token is the shared
// internal secret every /internal/* request must present.
func NewHandlers(token string, broker Broker, store ClusterStore) *Handlers {
	return &Handlers{token: token, broker: broker, store: store}
}

func respondWithJSON(ctx *router.Context, status int, data interface{}) {
	bytes, err := json.Marshal(data)
	if err != nil {
		logging.Errorf(ctx.Context, "Marshalling JSON for response: %s", err)
		http.Error(ctx.Writer, "Internal server error.", http.StatusInternalServerError)
		return
	}
	ctx.Writer.Header().Set("Content-Type", "application/json")
	ctx.Writer.WriteHeader(status)
	if _, err := ctx.Writer.Write(bytes); err != nil {
		logging.Errorf(ctx.Context, "Writing JSON response: %s", err)
	}
}

// detail is the uniform error body shape.
type detail struct {
	Detail string `json:"detail"`
}

func respondWithDetail(ctx *router.Context, status int, message string) {
	respondWithJSON(ctx, status, detail{Detail: message})
}
