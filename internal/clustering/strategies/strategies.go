// Copyright 2026 The Sploot Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package strategies defines the pluggable clustering strategy contract
// and the registry of available strategies.
package strategies

import (
	"errors"

	"github.com/rclong1221/sploot-media-clustering/internal/clustering"
	"github.com/rclong1221/sploot-media-clustering/internal/clustering/strategies/heuristic"
)

// Strategy turns a job payload into a per-pet cluster descriptor.
//
// Implementations must be pure: no I/O, no failures, and byte-identical
// output given identical payload and params. This is what makes replayed
// jobs safe: the cache write is a full overwrite with the same bytes.
// Malformed payloads normalize to empty outputs rather than errors.
type Strategy interface {
	// Name returns the versioned identifier of the strategy. The name
	// must change whenever the same payload may cluster differently.
	Name() string
	// Cluster computes the cluster descriptor for the given payload.
	Cluster(payload *clustering.JobPayload, params clustering.StrategyParams) *clustering.ClusterDescriptor
}

// registered is the set of strategies jobs may be routed to, default
// first. When an embedding-backed strategy lands it is added here under
// its own versioned name, satisfying the same determinism contract.
var registered = []Strategy{
	&heuristic.Algorithm{},
}

// ErrStrategyNotExist is returned when no strategy with the requested
// name is registered. This may indicate the caller is asking for a
// strategy from a newer or older version of the service.
var ErrStrategyNotExist = errors.New("strategy does not exist")

// Get returns the registered strategy with the given name.
func Get(name string) (Strategy, error) {
	for _, s := range registered {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, ErrStrategyNotExist
}

// Default returns the default strategy.
func Default() Strategy {
	return registered[0]
}
