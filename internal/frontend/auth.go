// Copyright 2026 The Sploot Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package frontend

import (
	"crypto/subtle"
	"net/http"

	"go.chromium.org/luci/server/router"

	"github.com/rclong1221/sploot-media-clustering/internal/metrics"
)

// TokenHeader carries the shared internal secret on every /internal/*
// request.
const TokenHeader = "X-Internal-Token"

// authFailedBody is the fixed 401 response. Fixed so that the body leaks
// nothing about which part of the check failed.
const authFailedBody = "invalid internal token"

// checkToken rejects requests whose token header does not match the
// configured secret. The comparison is constant-time and runs before any
// request body is read.
func (h *Handlers) checkToken(ctx *router.Context, next router.Handler) {
	token := ctx.Request.Header.Get(TokenHeader)
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
		metrics.AuthFailures.Inc()
		respondWithDetail(ctx, http.StatusUnauthorized, authFailedBody)
		return
	}
	next(ctx)
}
