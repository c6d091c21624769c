// Copyright 2026 The Sploot Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package clustering

import (
	"fmt"
	"time"
)

// ClusterDescriptor is the cached per-pet artifact produced by one
// successful clustering job. Given the same payload and strategy version,
// the descriptor is byte-identical, which is what makes replayed jobs
// safe to overwrite with.
type ClusterDescriptor struct {
	PetID    string    `json:"pet_id"`
	Clusters []Cluster `json:"clusters"`
	Metrics  Metrics   `json:"metrics"`
	// UpdatedAt tracks ProcessedAt so that replays of the same job write
	// an identical descriptor.
	UpdatedAt time.Time `json:"updated_at"`
}

// Metrics carries the aggregate signals of a descriptor. ProcessedAt and
// Strategy are the authoritative ordering signals for external consumers.
type Metrics struct {
	Coverage     map[string]float64 `json:"coverage,omitempty"`
	QualityScore float64            `json:"quality_score"`
	ProcessedAt  time.Time          `json:"processed_at"`
	// Strategy is the versioned name of the strategy that produced this
	// descriptor, for future routing between strategy versions.
	Strategy string `json:"strategy"`
}

// Cluster is one group of images with a chosen hero.
type Cluster struct {
	ID string `json:"id"`
	// Label is the group name from the payload, if any.
	Label string `json:"label,omitempty"`
	// HeroImageID is the image of the highest-scoring member, first on
	// ties. Always equal to Members[0].ImageID when Members is non-empty.
	HeroImageID string   `json:"hero_image_id"`
	Members     []Member `json:"members"`
}

// Member is a single image within a cluster.
type Member struct {
	ImageID string  `json:"image_id"`
	Score   float64 `json:"score"`
	// Position is the member's dense index within the cluster, matching
	// its slice index. Scores are non-increasing along Position.
	Position int `json:"position"`
}

// ClusterID derives the identifier of the index-th cluster of a pet.
func ClusterID(petID string, index int) string {
	return fmt.Sprintf("%s-cluster-%d", petID, index)
}

// StrategyParams are the inputs to a clustering strategy beyond the
// payload itself.
type StrategyParams struct {
	// PetID is the pet the descriptor is produced for.
	PetID string
	// MaxClusterSize bounds the number of members per cluster.
	MaxClusterSize int
	// ProcessedAt is stamped into the descriptor metrics. Callers must
	// derive it from the job (not the wall clock) so that a replayed job
	// produces an identical descriptor.
	ProcessedAt time.Time
}
