// Copyright 2026 The Sploot Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package streams is a thin client for the job stream and its consumer
// group: append, blocking group reads, claiming of idle messages,
// acknowledgement and dead-lettering.
package streams

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/retry/transient"
)

// NewCursor reads only never-delivered messages; BacklogCursor replays
// this consumer's still-pending backlog.
const (
	NewCursor     = ">"
	BacklogCursor = "0"
)

// ClaimStart is the cursor value that starts an idle-claim scan at the
// beginning of the pending entries list; ClaimIdle returns it when the
// scan has wrapped.
const ClaimStart = "0-0"

// Message is one stream entry.
type Message struct {
	// ID is the broker-assigned entry ID (millisecond timestamp dash
	// sequence).
	ID string
	// Values is the entry's flat field map.
	Values map[string]string
}

// Timestamp returns the append time encoded in the message ID, or the
// zero time if the ID is not in the broker's standard form.
func (m *Message) Timestamp() time.Time {
	ms, _, found := strings.Cut(m.ID, "-")
	if !found {
		return time.Time{}
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}

// Claimed is a message transferred from an idle consumer, along with the
// number of completed delivery attempts the broker has recorded for it.
type Claimed struct {
	Message
	// Attempts is the number of deliveries before this one. A message
	// claimed for the first time has Attempts == 1 (the original
	// delivery to the consumer that went silent).
	Attempts int
}

// GroupInfo summarizes the consumer group's state on the broker.
type GroupInfo struct {
	Name            string
	Consumers       int64
	Pending         int64
	LastDeliveredID string
}

// Options configure a stream client.
type Options struct {
	// Stream is the main job stream key.
	Stream string
	// Group is the consumer group name.
	Group string
	// DeadLetterStream receives messages that exceeded retry policy.
	DeadLetterStream string
	// MaxLen trims the stream on append when positive; zero leaves the
	// stream unbounded.
	MaxLen int64
	// ApproximateTrim trades trim precision for broker efficiency.
	ApproximateTrim bool
}

// Client wraps the broker's stream primitives for one stream and
// consumer group. Safe for concurrent use.
type Client struct {
	rdb  *redis.Client
	opts Options
}

// NewClient creates a stream client over the given broker connection.
func NewClient(rdb *redis.Client, opts Options) *Client {
	return &Client{rdb: rdb, opts: opts}
}

// Ping probes broker liveness.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return transient.Tag.Apply(errors.Annotate(err, "ping broker").Err())
	}
	return nil
}

// EnsureGroup creates the stream (if absent) and the consumer group
// anchored at the stream tail, so only messages appended after first
// startup are delivered. Idempotent: an already-existing group is not an
// error.
func (c *Client) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.opts.Stream, c.opts.Group, "$").Err()
	if err != nil && !isGroupExists(err) {
		return transient.Tag.Apply(errors.Annotate(err, "create group %q on %q", c.opts.Group, c.opts.Stream).Err())
	}
	return nil
}

func isGroupExists(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// Append appends a field map to the stream, trimming to the configured
// maximum length, and returns the broker-assigned message ID. A broker
// rejection is returned as a transient error; entries are never dropped
// silently.
func (c *Client) Append(ctx context.Context, fields map[string]interface{}) (string, error) {
	id, err := c.rdb.XAdd(ctx, c.addArgs(c.opts.Stream, fields)).Result()
	if err != nil {
		return "", transient.Tag.Apply(errors.Annotate(err, "append to %q", c.opts.Stream).Err())
	}
	return id, nil
}

func (c *Client) addArgs(stream string, fields map[string]interface{}) *redis.XAddArgs {
	args := &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: fields,
	}
	if c.opts.MaxLen > 0 {
		args.MaxLen = c.opts.MaxLen
		args.Approx = c.opts.ApproximateTrim
	}
	return args
}

// ReadGroup performs a blocking group read as the given consumer. A block
// timeout with no messages is an empty result, not an error.
func (c *Client) ReadGroup(ctx context.Context, consumer string, count int64, block time.Duration, cursor string) ([]Message, error) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.opts.Group,
		Consumer: consumer,
		Streams:  []string{c.opts.Stream, cursor},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, transient.Tag.Apply(errors.Annotate(err, "read group %q", c.opts.Group).Err())
	}
	var result []Message
	for _, s := range streams {
		for _, m := range s.Messages {
			result = append(result, messageFrom(m))
		}
	}
	return result, nil
}

// ClaimIdle transfers up to count messages idle for at least minIdle to
// the given consumer, starting the pending-entries scan at start (use
// ClaimStart for the beginning). It returns the claimed messages with
// their prior delivery counts and the cursor for the next page; a
// returned cursor of ClaimStart means the scan wrapped and all pending
// entries have been examined. Claiming increments the broker's delivery
// counter and resets idle time.
func (c *Client) ClaimIdle(ctx context.Context, consumer string, minIdle time.Duration, start string, count int64) ([]Claimed, string, error) {
	if start == "" {
		start = ClaimStart
	}
	msgs, next, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.opts.Stream,
		Group:    c.opts.Group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, start, transient.Tag.Apply(errors.Annotate(err, "claim idle messages").Err())
	}
	if len(msgs) == 0 {
		return nil, next, nil
	}
	attempts, err := c.deliveryCounts(ctx, consumer, msgs)
	if err != nil {
		return nil, start, err
	}
	claimed := make([]Claimed, 0, len(msgs))
	for _, m := range msgs {
		claimed = append(claimed, Claimed{
			Message: messageFrom(m),
			// The claim itself counted as a delivery; attempts counts
			// the ones before it.
			Attempts: int(attempts[m.ID]) - 1,
		})
	}
	return claimed, next, nil
}

// deliveryCounts reads the delivery counters of the given messages from
// this consumer's pending entries.
func (c *Client) deliveryCounts(ctx context.Context, consumer string, msgs []redis.XMessage) (map[string]int64, error) {
	counts := make(map[string]int64, len(msgs))
	for _, m := range msgs {
		pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream:   c.opts.Stream,
			Group:    c.opts.Group,
			Start:    m.ID,
			End:      m.ID,
			Count:    1,
			Consumer: consumer,
		}).Result()
		if err != nil && err != redis.Nil {
			return nil, transient.Tag.Apply(errors.Annotate(err, "read pending entries").Err())
		}
		for _, p := range pending {
			counts[p.ID] = p.RetryCount
		}
	}
	return counts, nil
}

// PendingCount returns the number of messages delivered to the given
// consumer but not yet acknowledged.
func (c *Client) PendingCount(ctx context.Context, consumer string) (int64, error) {
	pending, err := c.rdb.XPending(ctx, c.opts.Stream, c.opts.Group).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, transient.Tag.Apply(errors.Annotate(err, "read pending summary").Err())
	}
	return pending.Consumers[consumer], nil
}

// Ack acknowledges a processed message, removing it from the pending set.
func (c *Client) Ack(ctx context.Context, id string) error {
	if err := c.rdb.XAck(ctx, c.opts.Stream, c.opts.Group, id).Err(); err != nil {
		return transient.Tag.Apply(errors.Annotate(err, "ack %s", id).Err())
	}
	return nil
}

// DeadLetter copies the message to the dead-letter stream with the given
// reason and attempts count, then acknowledges the original. The copy
// happens first so a crash in between replays the message rather than
// losing it.
func (c *Client) DeadLetter(ctx context.Context, msg Message, reason string, attempts int) error {
	fields := DeadLetterFields(msg, reason, attempts, clock.Now(ctx))
	if err := c.rdb.XAdd(ctx, c.addArgs(c.opts.DeadLetterStream, fields)).Err(); err != nil {
		return transient.Tag.Apply(errors.Annotate(err, "append to dead-letter stream %q", c.opts.DeadLetterStream).Err())
	}
	return c.Ack(ctx, msg.ID)
}

// DeadLetterFields builds the dead-letter entry for a message: the
// original fields plus the routing reason, the attempts count at the time
// of dead-lettering, and provenance of the original entry.
func DeadLetterFields(msg Message, reason string, attempts int, now time.Time) map[string]interface{} {
	fields := make(map[string]interface{}, len(msg.Values)+4)
	for k, v := range msg.Values {
		fields[k] = v
	}
	fields["reason"] = reason
	fields["attempts"] = strconv.Itoa(attempts)
	fields["original_id"] = msg.ID
	fields["dead_lettered_at"] = now.UTC().Format(time.RFC3339Nano)
	return fields
}

// GroupInfo reports the consumer group's state, for health probes. A
// missing stream or group is an error.
func (c *Client) GroupInfo(ctx context.Context) (*GroupInfo, error) {
	groups, err := c.rdb.XInfoGroups(ctx, c.opts.Stream).Result()
	if err != nil {
		return nil, transient.Tag.Apply(errors.Annotate(err, "read group info for %q", c.opts.Stream).Err())
	}
	for _, g := range groups {
		if g.Name == c.opts.Group {
			return &GroupInfo{
				Name:            g.Name,
				Consumers:       g.Consumers,
				Pending:         g.Pending,
				LastDeliveredID: g.LastDeliveredID,
			}, nil
		}
	}
	return nil, errors.Reason("group %q does not exist on stream %q", c.opts.Group, c.opts.Stream).Err()
}

func messageFrom(m redis.XMessage) Message {
	values := make(map[string]string, len(m.Values))
	for k, v := range m.Values {
		switch v := v.(type) {
		case string:
			values[k] = v
		default:
			values[k] = fmt.Sprint(v)
		}
	}
	return Message{ID: m.ID, Values: values}
}
