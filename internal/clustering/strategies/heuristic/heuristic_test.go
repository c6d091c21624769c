// Copyright 2026 The Sploot Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package heuristic

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rclong1221/sploot-media-clustering/internal/clustering"

	. "github.com/smartystreets/goconvey/convey"
)

func TestCluster(t *testing.T) {
	a := &Algorithm{}
	processedAt := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	params := clustering.StrategyParams{
		PetID:          "p1",
		MaxClusterSize: 10,
		ProcessedAt:    processedAt,
	}

	Convey(`Single label keeps input order by score`, t, func() {
		payload := &clustering.JobPayload{
			ImageIDs:     []string{"a", "b", "c"},
			Labels:       []string{"L"},
			QualityScore: 1.0,
		}
		desc := a.Cluster(payload, params)
		So(desc.PetID, ShouldEqual, "p1")
		So(desc.Clusters, ShouldHaveLength, 1)
		c := desc.Clusters[0]
		So(c.ID, ShouldEqual, "p1-cluster-0")
		So(c.Label, ShouldEqual, "L")
		So(c.HeroImageID, ShouldEqual, "a")
		So(memberIDs(c), ShouldResemble, []string{"a", "b", "c"})
		So(desc.Metrics.QualityScore, ShouldEqual, 1.0)
		So(desc.Metrics.ProcessedAt, ShouldResemble, processedAt)
		So(desc.Metrics.Strategy, ShouldEqual, StrategyName)
	})

	Convey(`Round-robin assignment across labels`, t, func() {
		payload := &clustering.JobPayload{
			ImageIDs:     []string{"a", "b", "c", "d", "e"},
			Labels:       []string{"indoor", "outdoor"},
			QualityScore: 0.5,
		}
		desc := a.Cluster(payload, params)
		So(desc.Clusters, ShouldHaveLength, 2)
		// Group k receives input indices k, k+2, k+4, ...
		So(memberIDs(desc.Clusters[0]), ShouldResemble, []string{"a", "c", "e"})
		So(memberIDs(desc.Clusters[1]), ShouldResemble, []string{"b", "d"})
		So(desc.Clusters[0].Label, ShouldEqual, "indoor")
		So(desc.Clusters[1].Label, ShouldEqual, "outdoor")
	})

	Convey(`No labels synthesizes one unlabelled group`, t, func() {
		payload := &clustering.JobPayload{
			ImageIDs:     []string{"x", "y"},
			QualityScore: 0.2,
		}
		desc := a.Cluster(payload, params)
		So(desc.Clusters, ShouldHaveLength, 1)
		So(desc.Clusters[0].Label, ShouldEqual, "")
		So(desc.Clusters[0].ID, ShouldEqual, "p1-cluster-0")
		So(memberIDs(desc.Clusters[0]), ShouldResemble, []string{"x", "y"})
	})

	Convey(`Empty payload emits zero clusters with metrics echoed`, t, func() {
		payload := &clustering.JobPayload{
			Coverage:     map[string]float64{"indoor": 0.4},
			QualityScore: 0.9,
		}
		desc := a.Cluster(payload, params)
		So(desc.Clusters, ShouldBeEmpty)
		So(desc.Metrics.Coverage, ShouldResemble, map[string]float64{"indoor": 0.4})
		So(desc.Metrics.QualityScore, ShouldEqual, 0.9)
	})

	Convey(`Members are truncated to MaxClusterSize with hero first`, t, func() {
		payload := &clustering.JobPayload{
			ImageIDs:     []string{"a", "b", "c", "d", "e", "f"},
			QualityScore: 0.8,
		}
		small := params
		small.MaxClusterSize = 2
		desc := a.Cluster(payload, small)
		So(desc.Clusters, ShouldHaveLength, 1)
		c := desc.Clusters[0]
		So(len(c.Members), ShouldBeLessThanOrEqualTo, 2)
		So(c.HeroImageID, ShouldEqual, c.Members[0].ImageID)
		So(c.HeroImageID, ShouldEqual, "a")
	})

	Convey(`Scores are monotone non-increasing and positions dense`, t, func() {
		payload := &clustering.JobPayload{
			ImageIDs:     []string{"a", "b", "c", "d", "e", "f", "g"},
			Labels:       []string{"x", "y", "z"},
			QualityScore: 0.33,
		}
		desc := a.Cluster(payload, params)
		for _, c := range desc.Clusters {
			for i, m := range c.Members {
				So(m.Position, ShouldEqual, i)
				So(m.Score, ShouldBeBetweenOrEqual, 0, 1)
				if i > 0 {
					So(c.Members[i-1].Score, ShouldBeGreaterThanOrEqualTo, m.Score)
				}
			}
		}
	})

	Convey(`Deterministic byte-for-byte`, t, func() {
		payload := &clustering.JobPayload{
			ImageIDs:     []string{"a", "b", "c", "d"},
			Labels:       []string{"L1", "L2"},
			Coverage:     map[string]float64{"L1": 0.6, "L2": 0.3},
			QualityScore: 0.77,
		}
		first, err := json.Marshal(a.Cluster(payload, params))
		So(err, ShouldBeNil)
		second, err := json.Marshal(a.Cluster(payload, params))
		So(err, ShouldBeNil)
		So(string(second), ShouldEqual, string(first))
	})

	Convey(`Scoring blends quality and recency`, t, func() {
		payload := &clustering.JobPayload{
			ImageIDs:     []string{"a", "b", "c"},
			QualityScore: 1.0,
		}
		desc := a.Cluster(payload, params)
		ms := desc.Clusters[0].Members
		// i=0: 1.0*0.7 + 1.0*0.3, clamped to 1. Later positions decay by
		// 0.3/len each step.
		So(ms[0].Score, ShouldEqual, 1.0)
		So(ms[1].Score, ShouldAlmostEqual, 0.9, 1e-9)
		So(ms[2].Score, ShouldAlmostEqual, 0.8, 1e-9)
	})
}

func memberIDs(c clustering.Cluster) []string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.ImageID
	}
	return ids
}
