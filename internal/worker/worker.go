// Copyright 2026 The Sploot Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package worker implements the long-lived stream consumer: batch reads
// from the consumer group, dispatch to the clustering strategy, cache
// writes, acknowledgement, and claim-based retry of messages whose
// consumer went silent.
package worker

import (
	"context"
	"time"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/retry/transient"

	"github.com/rclong1221/sploot-media-clustering/internal/clustering"
	"github.com/rclong1221/sploot-media-clustering/internal/clustering/strategies"
	"github.com/rclong1221/sploot-media-clustering/internal/metrics"
	"github.com/rclong1221/sploot-media-clustering/internal/streams"
)

// Dead-letter routing reasons.
const (
	ReasonDecode      = "decode"
	ReasonMaxAttempts = "max_attempts"
)

// Stream is the broker surface the worker consumes from.
type Stream interface {
	// ReadGroup performs a blocking group read; empty on block timeout.
	ReadGroup(ctx context.Context, consumer string, count int64, block time.Duration, cursor string) ([]streams.Message, error)
	// ClaimIdle transfers messages idle longer than minIdle to consumer,
	// paginating from start.
	ClaimIdle(ctx context.Context, consumer string, minIdle time.Duration, start string, count int64) ([]streams.Claimed, string, error)
	// Ack acknowledges one processed message.
	Ack(ctx context.Context, id string) error
	// DeadLetter copies the message to the dead-letter stream and
	// acknowledges the original.
	DeadLetter(ctx context.Context, msg streams.Message, reason string, attempts int) error
	// PendingCount reports how many messages this consumer holds
	// unacknowledged.
	PendingCount(ctx context.Context, consumer string) (int64, error)
}

// Cache is the cluster-state sink the worker writes to.
type Cache interface {
	Put(ctx context.Context, desc *clustering.ClusterDescriptor) error
}

// Options configure one worker instance.
type Options struct {
	// Consumer is this worker's unique name within the consumer group.
	Consumer string
	// Strategy computes descriptors from payloads.
	Strategy strategies.Strategy
	// MaxClusterSize bounds members per emitted cluster.
	MaxClusterSize int
	// ReadCount is the batch size per group read.
	ReadCount int64
	// BlockFor bounds how long a group read blocks when the stream is
	// drained.
	BlockFor time.Duration
	// MinIdle is the idle threshold after which another consumer's
	// pending message may be claimed.
	MinIdle time.Duration
	// MaxAttempts is the delivery-attempt threshold beyond which a
	// message is dead-lettered instead of retried.
	MaxAttempts int
	// MaxPending is the backpressure limit: while this consumer holds at
	// least this many unacknowledged messages, ticks skip the
	// new-message read and only reclaim.
	MaxPending int64
	// ReclaimEvery is the number of ticks between idle-claim passes; a
	// pass also runs on every empty read.
	ReclaimEvery int
	// DrainGrace bounds how long a shutdown waits for the in-flight
	// message after cancellation.
	DrainGrace time.Duration
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.ReadCount <= 0 {
		opts.ReadCount = 16
	}
	if opts.BlockFor <= 0 {
		opts.BlockFor = 5 * time.Second
	}
	if opts.ReclaimEvery <= 0 {
		opts.ReclaimEvery = 10
	}
	if opts.DrainGrace <= 0 {
		opts.DrainGrace = 10 * time.Second
	}
	return opts
}

// Worker is a single-threaded consumer within the shared group. Run N
// workers (each with a unique consumer name) for parallelism; workers
// never coordinate with one another beyond the broker's group semantics.
type Worker struct {
	stream Stream
	cache  Cache
	opts   Options
}

// New creates a worker over the given stream and cache.
func New(stream Stream, cache Cache, opts Options) *Worker {
	return &Worker{stream: stream, cache: cache, opts: opts.withDefaults()}
}

// Run consumes until ctx is cancelled. Message-level failures never stop
// the loop; broker errors back off with a cap and keep retrying. The
// returned error is nil on a drained shutdown.
func (w *Worker) Run(ctx context.Context) error {
	logging.Infof(ctx, "worker %s: consuming", w.opts.Consumer)
	consecutiveErrs := 0
	for tick := 0; ; tick++ {
		if ctx.Err() != nil {
			logging.Infof(ctx, "worker %s: drained, stopping", w.opts.Consumer)
			return nil
		}
		err := w.tickOnce(ctx, tick)
		switch {
		case err == nil:
			consecutiveErrs = 0
		case ctx.Err() != nil:
			logging.Infof(ctx, "worker %s: drained, stopping", w.opts.Consumer)
			return nil
		case transient.Tag.In(err):
			consecutiveErrs++
			delay := backoff(consecutiveErrs)
			logging.WithError(err).Errorf(ctx, "worker %s: broker error, backing off %s", w.opts.Consumer, delay)
			if tr := clock.Sleep(ctx, delay); tr.Err != nil {
				return nil
			}
		default:
			// Unrecoverable; let the supervisor restart the process.
			return errors.Annotate(err, "worker %s", w.opts.Consumer).Err()
		}
	}
}

// backoff caps the retry delay for consecutive broker errors.
func backoff(n int) time.Duration {
	const max = 30 * time.Second
	if n > 5 {
		return max
	}
	d := time.Second << uint(n-1)
	if d > max {
		return max
	}
	return d
}

// tickOnce runs one consume cycle: a bounded blocking read of new
// messages (unless backpressured), in-order processing, and a periodic
// idle-claim pass.
func (w *Worker) tickOnce(ctx context.Context, tick int) error {
	pending, err := w.stream.PendingCount(ctx, w.opts.Consumer)
	if err != nil {
		return err
	}
	metrics.PendingMessages.WithLabelValues(w.opts.Consumer).Set(float64(pending))

	backpressured := pending >= w.opts.MaxPending && w.opts.MaxPending > 0
	if backpressured {
		logging.Warningf(ctx, "worker %s: %d pending messages, skipping read", w.opts.Consumer, pending)
	}

	var msgs []streams.Message
	if !backpressured {
		msgs, err = w.stream.ReadGroup(ctx, w.opts.Consumer, w.opts.ReadCount, w.opts.BlockFor, streams.NewCursor)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			if err := w.process(ctx, msg, 0); err != nil {
				return err
			}
		}
	}

	if backpressured || len(msgs) == 0 || tick%w.opts.ReclaimEvery == 0 {
		return w.reclaim(ctx)
	}
	return nil
}

// reclaim transfers messages idle past the threshold to this consumer
// and retries them, dead-lettering the ones that exhausted their
// attempts. Paginates until the pending-entries scan wraps or a page
// claims nothing.
func (w *Worker) reclaim(ctx context.Context) error {
	start := streams.ClaimStart
	for {
		claimed, next, err := w.stream.ClaimIdle(ctx, w.opts.Consumer, w.opts.MinIdle, start, w.opts.ReadCount)
		if err != nil {
			return err
		}
		for _, c := range claimed {
			if c.Attempts >= w.opts.MaxAttempts {
				logging.Warningf(ctx, "worker %s: message %s exhausted %d attempts, dead-lettering", w.opts.Consumer, c.ID, c.Attempts)
				if err := w.stream.DeadLetter(ctx, c.Message, ReasonMaxAttempts, c.Attempts); err != nil {
					return err
				}
				metrics.DeadLettered.WithLabelValues(ReasonMaxAttempts).Inc()
				continue
			}
			if err := w.process(ctx, c.Message, c.Attempts); err != nil {
				return err
			}
		}
		if len(claimed) == 0 || next == streams.ClaimStart {
			return nil
		}
		start = next
	}
}

// process handles one message: decode, cluster, cache write, then ack.
// The write-then-ack order is what makes delivery at-least-once with a
// safe replay: a crash after the Put replays the message onto an
// identical overwrite.
//
// A decode failure dead-letters immediately; a transient cache or broker
// failure leaves the message pending for the reclaim path. Returned
// errors are broker-level only and feed the caller's backoff.
func (w *Worker) process(ctx context.Context, msg streams.Message, attempts int) error {
	if ctx.Err() != nil {
		// Shutdown arrived mid-batch; give the in-flight message a
		// bounded grace period to complete.
		var cancel context.CancelFunc
		ctx, cancel = clock.WithTimeout(context.WithoutCancel(ctx), w.opts.DrainGrace)
		defer cancel()
	}
	started := clock.Now(ctx)

	job, err := clustering.JobFromStreamFields(msg.Values)
	if err != nil {
		logging.WithError(err).Warningf(ctx, "worker %s: message %s does not decode, dead-lettering", w.opts.Consumer, msg.ID)
		if dlErr := w.stream.DeadLetter(ctx, msg, ReasonDecode, attempts); dlErr != nil {
			return dlErr
		}
		metrics.DeadLettered.WithLabelValues(ReasonDecode).Inc()
		metrics.JobsProcessed.WithLabelValues("decode_error", "false").Inc()
		return nil
	}

	desc := w.opts.Strategy.Cluster(&job.Payload, clustering.StrategyParams{
		PetID:          job.PetID,
		MaxClusterSize: w.opts.MaxClusterSize,
		ProcessedAt:    processedAt(job, msg),
	})
	if err := w.cache.Put(ctx, desc); err != nil {
		// Not acked: the message stays pending and will be reclaimed.
		metrics.JobsProcessed.WithLabelValues("transient_error", forcedLabel(job)).Inc()
		return errors.Annotate(err, "write descriptor for pet %q", job.PetID).Err()
	}
	if err := w.stream.Ack(ctx, msg.ID); err != nil {
		// The descriptor is committed; the redelivery overwrites it with
		// identical bytes.
		metrics.JobsProcessed.WithLabelValues("transient_error", forcedLabel(job)).Inc()
		return err
	}

	elapsed := clock.Now(ctx).Sub(started)
	metrics.ProcessDuration.Observe(elapsed.Seconds())
	metrics.JobsProcessed.WithLabelValues("success", forcedLabel(job)).Inc()
	logging.Infof(ctx, "worker %s: processed job %s pet %s reason %q force %t attempts %d clusters %d in %s",
		w.opts.Consumer, job.JobID, job.PetID, job.Reason, job.Force, attempts, len(desc.Clusters), elapsed)
	return nil
}

func forcedLabel(job *clustering.Job) string {
	if job.Force {
		return "true"
	}
	return "false"
}

// processedAt derives the descriptor timestamp from the job rather than
// the wall clock, so a replayed job produces a byte-identical descriptor.
func processedAt(job *clustering.Job, msg streams.Message) time.Time {
	if !job.EmittedAt.IsZero() {
		return job.EmittedAt
	}
	if ts := msg.Timestamp(); !ts.IsZero() {
		return ts
	}
	return time.Time{}
}
