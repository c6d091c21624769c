// Copyright 2026 The Sploot Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package cache stores per-pet cluster state as JSON blobs with a bounded
// lifetime and explicit invalidation.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/retry/transient"

	"github.com/rclong1221/sploot-media-clustering/internal/clustering"
)

// NotExistsErr is returned by Get when no cluster state exists for the
// pet. A miss is an expected outcome, not a failure; callers must check
// for it before treating an error as a broker problem.
var NotExistsErr = errors.New("no cluster state exists for this pet")

// Store is the cluster-state cache. Writes replace atomically with an
// absolute TTL; reads may observe any committed Put or a miss following a
// Delete.
type Store struct {
	rdb       *redis.Client
	namespace string
	ttl       time.Duration
}

// NewStore creates a Store writing under the given key namespace with the
// given TTL on every Put.
func NewStore(rdb *redis.Client, namespace string, ttl time.Duration) *Store {
	return &Store{rdb: rdb, namespace: namespace, ttl: ttl}
}

// Key returns the cache key holding the pet's cluster state.
func (s *Store) Key(petID string) string {
	return fmt.Sprintf("%s:pets:%s:cluster", s.namespace, petID)
}

// Put replaces the pet's cluster state, resetting its TTL.
func (s *Store) Put(ctx context.Context, desc *clustering.ClusterDescriptor) error {
	blob, err := json.Marshal(desc)
	if err != nil {
		return errors.Annotate(err, "marshal descriptor").Err()
	}
	if err := s.rdb.Set(ctx, s.Key(desc.PetID), blob, s.ttl).Err(); err != nil {
		return transient.Tag.Apply(errors.Annotate(err, "write cluster state for pet %q", desc.PetID).Err())
	}
	return nil
}

// Get reads the pet's cluster state, or NotExistsErr if there is none.
func (s *Store) Get(ctx context.Context, petID string) (*clustering.ClusterDescriptor, error) {
	blob, err := s.rdb.Get(ctx, s.Key(petID)).Bytes()
	if err == redis.Nil {
		return nil, NotExistsErr
	}
	if err != nil {
		return nil, transient.Tag.Apply(errors.Annotate(err, "read cluster state for pet %q", petID).Err())
	}
	desc := &clustering.ClusterDescriptor{}
	if err := json.Unmarshal(blob, desc); err != nil {
		return nil, errors.Annotate(err, "unmarshal cluster state for pet %q", petID).Err()
	}
	return desc, nil
}

// Delete removes the pet's cluster state and reports whether a value was
// actually removed, so callers can distinguish removal from a no-op.
func (s *Store) Delete(ctx context.Context, petID string) (existed bool, err error) {
	removed, err := s.rdb.Del(ctx, s.Key(petID)).Result()
	if err != nil {
		return false, transient.Tag.Apply(errors.Annotate(err, "delete cluster state for pet %q", petID).Err())
	}
	return removed > 0, nil
}
