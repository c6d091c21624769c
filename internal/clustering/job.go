// Copyright 2026 The Sploot Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package clustering contains the domain types shared between the stream
// ingestion pipeline and the HTTP surface: clustering jobs as they appear
// on the wire, and the per-pet cluster state they produce.
package clustering

import (
	"encoding/json"
	"strconv"
	"time"

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"
)

// Stream entries are flat string-to-string maps. Nested structures
// (payload, metadata) ride along as JSON strings in a single field each.
const (
	fieldJobID     = "job_id"
	fieldPetID     = "pet_id"
	fieldReason    = "reason"
	fieldForce     = "force"
	fieldPayload   = "payload"
	fieldMetadata  = "metadata"
	fieldAttempts  = "attempts"
	fieldEmittedAt = "emitted_at"
)

// Job is a unit of clustering work for a single pet, as published on the
// job stream by a producer.
type Job struct {
	// JobID uniquely identifies this enqueue. Assigned by the producer,
	// or by the HTTP surface if the producer omitted it.
	JobID string `json:"job_id"`
	// PetID names the pet whose cluster state should be recomputed.
	PetID string `json:"pet_id"`
	// Reason is a free-form tag describing why the job was emitted.
	Reason string `json:"reason"`
	// Force bypasses "no change" short-circuits. It does not change the
	// descriptor a job produces, only how its processing is reported.
	Force bool `json:"force"`
	// Payload carries the images and grouping hints to cluster.
	Payload JobPayload `json:"payload"`
	// Metadata is free-form producer context (trace IDs, producer name).
	Metadata map[string]string `json:"metadata,omitempty"`
	// Attempts counts completed delivery attempts. Zero on first append.
	Attempts int `json:"attempts"`
	// EmittedAt is the producer-side emission time.
	EmittedAt time.Time `json:"emitted_at"`
}

// JobPayload is the clustering input attached to a job.
type JobPayload struct {
	// ImageIDs is the ordered set of image tokens to cluster.
	ImageIDs []string `json:"image_ids"`
	// Labels is the ordered list of group names to cluster into.
	Labels []string `json:"labels,omitempty"`
	// Coverage maps a label name to its [0,1] coverage weight. Labels
	// not present in Labels are carried but do not affect scoring.
	Coverage map[string]float64 `json:"coverage,omitempty"`
	// QualityScore is the payload-level quality estimate in [0,1].
	QualityScore float64 `json:"quality_score"`
}

// Normalize brings a decoded payload into canonical form: image IDs and
// labels are deduplicated preserving first occurrence, and the quality
// score is clamped to [0,1]. Safe to call on the zero value.
func (p *JobPayload) Normalize() {
	p.ImageIDs = dedup(p.ImageIDs)
	p.Labels = dedup(p.Labels)
	if p.QualityScore < 0 {
		p.QualityScore = 0
	}
	if p.QualityScore > 1 {
		p.QualityScore = 1
	}
}

func dedup(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := stringset.New(len(values))
	result := values[:0]
	for _, v := range values {
		if seen.Add(v) {
			result = append(result, v)
		}
	}
	return result
}

// StreamFields encodes the job as a flat field map suitable for appending
// to a stream. The inverse of JobFromStreamFields.
func (j *Job) StreamFields() (map[string]interface{}, error) {
	payload, err := json.Marshal(&j.Payload)
	if err != nil {
		return nil, errors.Annotate(err, "marshal payload").Err()
	}
	metadata, err := json.Marshal(j.Metadata)
	if err != nil {
		return nil, errors.Annotate(err, "marshal metadata").Err()
	}
	return map[string]interface{}{
		fieldJobID:     j.JobID,
		fieldPetID:     j.PetID,
		fieldReason:    j.Reason,
		fieldForce:     strconv.FormatBool(j.Force),
		fieldPayload:   string(payload),
		fieldMetadata:  string(metadata),
		fieldAttempts:  strconv.Itoa(j.Attempts),
		fieldEmittedAt: j.EmittedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

// JobFromStreamFields decodes a job from the flat field map of a stream
// entry. Fields absent from the map decode to their zero values, except
// pet_id, which is required. A malformed payload or metadata field is a
// decode error; the caller is expected to dead-letter the message.
func JobFromStreamFields(values map[string]string) (*Job, error) {
	j := &Job{
		JobID:  values[fieldJobID],
		PetID:  values[fieldPetID],
		Reason: values[fieldReason],
	}
	if j.PetID == "" {
		return nil, errors.Reason("job has no pet_id").Err()
	}
	if v := values[fieldForce]; v != "" {
		force, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.Annotate(err, "parse force").Err()
		}
		j.Force = force
	}
	if v := values[fieldPayload]; v != "" {
		if err := json.Unmarshal([]byte(v), &j.Payload); err != nil {
			return nil, errors.Annotate(err, "unmarshal payload").Err()
		}
	}
	if v := values[fieldMetadata]; v != "" {
		if err := json.Unmarshal([]byte(v), &j.Metadata); err != nil {
			return nil, errors.Annotate(err, "unmarshal metadata").Err()
		}
	}
	if v := values[fieldAttempts]; v != "" {
		attempts, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Annotate(err, "parse attempts").Err()
		}
		j.Attempts = attempts
	}
	if v := values[fieldEmittedAt]; v != "" {
		emitted, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, errors.Annotate(err, "parse emitted_at").Err()
		}
		j.EmittedAt = emitted
	}
	j.Payload.Normalize()
	return j, nil
}
