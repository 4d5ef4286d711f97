// Package reconcile tracks per-event sink outcomes so operators can see
// when the two destinations diverge.
//
// The sinks are independently at-least-once; brief gaps between them are
// normal. An event only counts as diverged once exactly one sink has
// recorded a write and the configured reconciliation window has passed.
package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/restream-labs/eventpipe/internal/metrics"
)

const keyPrefix = "eventpipe:recon:"

// Divergence describes one event past the reconciliation window with a
// write recorded in only one sink.
type Divergence struct {
	EventID    string    `json:"event_id"`
	WrittenTo  string    `json:"written_to"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Tracker records sink write outcomes in Redis. A nil Tracker is a valid
// no-op, used when Redis is disabled.
type Tracker struct {
	client *redis.Client
	window time.Duration

	// retention bounds how long an unmatched entry is kept before Redis
	// expires it; divergences older than this stop being reported.
	retention time.Duration
}

// New creates a tracker with the given reconciliation window.
func New(client *redis.Client, window time.Duration) *Tracker {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Tracker{
		client:    client,
		window:    window,
		retention: 4 * window,
	}
}

// Record notes that sinkName accepted eventID. Once both sinks have
// recorded, the entry has converged and is removed.
func (t *Tracker) Record(ctx context.Context, eventID, sinkName string) {
	if t == nil || t.client == nil {
		return
	}

	key := keyPrefix + eventID
	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, key, sinkName, time.Now().UTC().UnixMilli())
	pipe.Expire(ctx, key, t.retention)
	fields := pipe.HLen(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		// Tracking is advisory; never fail the write path over it.
		return
	}

	if fields.Val() >= 2 {
		t.client.Del(ctx, key)
	}
}

// Diverged lists events past the window with only one sink recorded.
func (t *Tracker) Diverged(ctx context.Context) ([]Divergence, error) {
	if t == nil || t.client == nil {
		return nil, nil
	}

	cutoff := time.Now().UTC().Add(-t.window).UnixMilli()
	var out []Divergence

	iter := t.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		entry, err := t.client.HGetAll(ctx, key).Result()
		if err != nil || len(entry) != 1 {
			continue
		}
		for sinkName, raw := range entry {
			ms, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || ms > cutoff {
				continue
			}
			out = append(out, Divergence{
				EventID:    key[len(keyPrefix):],
				WrittenTo:  sinkName,
				RecordedAt: time.UnixMilli(ms).UTC(),
			})
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan reconciliation keys: %w", err)
	}

	metrics.SinksDiverged.Set(float64(len(out)))
	return out, nil
}

// Sweep refreshes the divergence gauge on an interval until ctx ends.
func (t *Tracker) Sweep(ctx context.Context, every time.Duration) {
	if t == nil || t.client == nil {
		return
	}
	if every <= 0 {
		every = time.Minute
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_, _ = t.Diverged(ctx)
		case <-ctx.Done():
			return
		}
	}
}
