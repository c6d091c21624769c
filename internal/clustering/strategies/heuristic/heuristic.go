// Copyright 2026 The Sploot Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package heuristic contains the default quality-weighted clustering
// strategy. It groups images over the labels provided by the payload and
// scores members by blending the payload-level quality score with a
// recency bias favouring earlier input positions.
package heuristic

import (
	"fmt"
	"sort"

	"github.com/rclong1221/sploot-media-clustering/internal/clustering"
)

// StrategyVersion is the version of the heuristic strategy. It should be
// incremented whenever the same payload may cluster differently (i.e.
// Cluster(p) returns a different descriptor for some already-processed p).
const StrategyVersion = 1

// StrategyName is the versioned identifier of the heuristic strategy.
// Every strategy version has a distinct name so that descriptors can be
// routed between versions.
var StrategyName = fmt.Sprintf("heuristic-v%d", StrategyVersion)

// Weights blending payload quality against input-order recency when
// scoring a member.
const (
	qualityWeight = 0.7
	recencyWeight = 0.3
)

// syntheticGroup is the single group used when the payload carries no
// labels.
const syntheticGroup = "All"

// Algorithm is an instance of the heuristic clustering strategy.
type Algorithm struct{}

// Name returns the versioned identifier of the strategy.
func (a *Algorithm) Name() string {
	return StrategyName
}

// Cluster computes the cluster descriptor for the given payload.
//
// Images are partitioned in input order round-robin across the group
// list, so group k receives input indices k, k+G, k+2G and so on. Members
// sort by descending score, ties broken by ascending input position, and
// each group is truncated to MaxClusterSize with the first member as the
// hero. The transformation is pure and deterministic; an empty payload
// yields zero clusters with metrics echoing the input.
func (a *Algorithm) Cluster(payload *clustering.JobPayload, params clustering.StrategyParams) *clustering.ClusterDescriptor {
	desc := &clustering.ClusterDescriptor{
		PetID: params.PetID,
		Metrics: clustering.Metrics{
			Coverage:     payload.Coverage,
			QualityScore: payload.QualityScore,
			ProcessedAt:  params.ProcessedAt.UTC(),
			Strategy:     StrategyName,
		},
		UpdatedAt: params.ProcessedAt.UTC(),
	}
	if len(payload.ImageIDs) == 0 {
		return desc
	}

	groups := payload.Labels
	if len(groups) == 0 {
		groups = []string{syntheticGroup}
	}

	members := make([][]clustering.Member, len(groups))
	total := len(payload.ImageIDs)
	for i, imageID := range payload.ImageIDs {
		k := i % len(groups)
		members[k] = append(members[k], clustering.Member{
			ImageID: imageID,
			Score:   score(payload.QualityScore, i, total),
		})
	}

	for k, label := range groups {
		ms := members[k]
		if len(ms) == 0 {
			// More groups than images; a memberless cluster has no hero
			// to surface.
			continue
		}
		// Scores decrease with input position, so the blend is already
		// sorted; the sort keeps the contract explicit for future
		// scoring changes. Ties keep input order (stable).
		sort.SliceStable(ms, func(i, j int) bool {
			return ms[i].Score > ms[j].Score
		})
		if params.MaxClusterSize > 0 && len(ms) > params.MaxClusterSize {
			ms = ms[:params.MaxClusterSize]
		}
		for i := range ms {
			ms[i].Position = i
		}
		cluster := clustering.Cluster{
			ID:          clustering.ClusterID(params.PetID, len(desc.Clusters)),
			HeroImageID: ms[0].ImageID,
			Members:     ms,
		}
		if len(payload.Labels) > 0 {
			cluster.Label = label
		}
		desc.Clusters = append(desc.Clusters, cluster)
	}
	return desc
}

// score blends the payload quality with a recency bias favouring earlier
// input positions, clamped to [0,1]. i is the image's original index out
// of total images.
func score(quality float64, i, total int) float64 {
	s := quality*qualityWeight + (1-float64(i)/float64(total))*recencyWeight
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
