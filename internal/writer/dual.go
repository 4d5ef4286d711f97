// Package writer delivers each routed event to both storage destinations.
//
// The two writes are independent: they run concurrently, retry separately,
// and the failure of one never blocks or rolls back the other. The sinks
// are eventually consistent with each other, not transactionally linked.
package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/restream-labs/eventpipe/internal/metrics"
	"github.com/restream-labs/eventpipe/internal/model"
	"github.com/restream-labs/eventpipe/internal/sink"
)

// Config bounds the per-sink retry policy.
type Config struct {
	// MaxAttempts is the total number of tries per sink write, first
	// attempt included.
	MaxAttempts uint64

	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration

	// MaxInterval caps the backoff delay growth.
	MaxInterval time.Duration
}

// DefaultConfig returns the retry policy used when none is configured.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Recorder observes terminal per-sink write successes. The reconciler
// implements it; a nil Recorder disables tracking.
type Recorder interface {
	Record(ctx context.Context, eventID, sinkName string)
}

// Outcome is the terminal result of one dual write. A nil error means that
// sink accepted the event; a non-nil error is a permanent failure, retries
// already exhausted or bypassed.
type Outcome struct {
	Analytical error
	Archive    error
}

// Success reports whether both sinks accepted the event.
func (o Outcome) Success() bool { return o.Analytical == nil && o.Archive == nil }

// Writer issues the two independent sink writes for each event.
type Writer struct {
	analytical sink.Sink
	archive    sink.Sink
	cfg        Config
	recorder   Recorder
	logger     *slog.Logger
}

// New creates a dual-sink writer. recorder may be nil.
func New(analytical, archive sink.Sink, cfg Config, recorder Recorder, logger *slog.Logger) *Writer {
	if cfg.MaxAttempts == 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		analytical: analytical,
		archive:    archive,
		cfg:        cfg,
		recorder:   recorder,
		logger:     logger,
	}
}

// Write attempts both sink writes and blocks until each reaches a terminal
// outcome. It never returns early on the first failure.
func (w *Writer) Write(ctx context.Context, dec *model.RoutingDecision) Outcome {
	var (
		out Outcome
		wg  sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		out.Analytical = w.writeOne(ctx, w.analytical, dec)
	}()
	go func() {
		defer wg.Done()
		out.Archive = w.writeOne(ctx, w.archive, dec)
	}()
	wg.Wait()

	return out
}

// writeOne drives a single sink write to a terminal outcome: success,
// permanent rejection, or retry budget exhausted.
func (w *Writer) writeOne(ctx context.Context, s sink.Sink, dec *model.RoutingDecision) error {
	start := time.Now()
	attempt := 0

	operation := func() error {
		attempt++
		err := s.Write(ctx, dec)
		if err == nil {
			return nil
		}
		if sink.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		metrics.WriteRetries.WithLabelValues(s.Name()).Inc()
		w.logger.Warn("sink write failed, retrying",
			slog.String("sink", s.Name()),
			slog.String("destination", string(dec.Destination)),
			slog.String("event_id", dec.Event.EventID()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.cfg.InitialInterval
	bo.MaxInterval = w.cfg.MaxInterval
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(bo, w.cfg.MaxAttempts-1), ctx))

	metrics.WriteDuration.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.SinkWrites.WithLabelValues(s.Name(), string(dec.Destination), "failure").Inc()
		w.logger.Error("sink write permanently failed",
			slog.String("sink", s.Name()),
			slog.String("destination", string(dec.Destination)),
			slog.String("event_id", dec.Event.EventID()),
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()),
		)
		return err
	}

	metrics.SinkWrites.WithLabelValues(s.Name(), string(dec.Destination), "success").Inc()
	if w.recorder != nil {
		w.recorder.Record(ctx, dec.Event.EventID(), s.Name())
	}
	return nil
}
