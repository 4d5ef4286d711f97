// Package pipeline wires the decoder, router, and dual-sink writer into a
// continuously running process fed from the inbound transport.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/restream-labs/eventpipe/internal/decoder"
	"github.com/restream-labs/eventpipe/internal/dlq"
	"github.com/restream-labs/eventpipe/internal/metrics"
	"github.com/restream-labs/eventpipe/internal/model"
	"github.com/restream-labs/eventpipe/internal/partition"
	"github.com/restream-labs/eventpipe/internal/router"
	"github.com/restream-labs/eventpipe/internal/transport"
	"github.com/restream-labs/eventpipe/internal/writer"
)

// State is the controller lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

// Config tunes the controller.
type Config struct {
	// MinWorkers and MaxWorkers bound the elastic worker pool.
	MinWorkers int
	MaxWorkers int

	// QueueSize is the internal work queue capacity.
	QueueSize int

	// BatchSize is the maximum messages pulled per transport fetch.
	BatchSize int

	// BackpressureHigh pauses transport pulls when outstanding
	// unacknowledged messages reach it; BackpressureLow resumes them.
	// The two thresholds form a hysteresis band to avoid oscillation.
	BackpressureHigh int
	BackpressureLow  int

	// NakDelay is the redelivery delay requested for messages whose sink
	// writes permanently failed without a dead-letter path.
	NakDelay time.Duration

	// ScaleInterval is how often the worker pool is resized from
	// observed queue depth.
	ScaleInterval time.Duration

	// ShutdownTimeout bounds how long Draining waits for in-flight work.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns controller settings suited to a single instance.
func DefaultConfig() Config {
	return Config{
		MinWorkers:       2,
		MaxWorkers:       16,
		QueueSize:        1024,
		BatchSize:        64,
		BackpressureHigh: 512,
		BackpressureLow:  128,
		NakDelay:         5 * time.Second,
		ScaleInterval:    5 * time.Second,
		ShutdownTimeout:  30 * time.Second,
	}
}

// Status is a point-in-time snapshot for the operational surface.
type Status struct {
	State          State             `json:"state"`
	Backpressured  bool              `json:"backpressured"`
	Outstanding    int64             `json:"outstanding"`
	QueueDepth     int               `json:"queue_depth"`
	Workers        int               `json:"workers"`
	DecodeFailures uint64            `json:"decode_failures"`
	WriteFailures  map[string]uint64 `json:"write_failures"`
	MessagesAcked  uint64            `json:"messages_acked"`
}

// Controller owns the lifecycle and failure policy of every pipeline stage.
// All mutable pipeline state lives on the instance, so several controllers
// can coexist in one process.
type Controller struct {
	cfg     Config
	puller  transport.Puller
	decoder *decoder.Decoder
	writer  *writer.Writer
	dlq     dlq.Writer
	logger  *slog.Logger

	queue chan *transport.Message

	mu            sync.Mutex
	state         State
	backpressured bool
	workerStops   []chan struct{}
	workerWG      sync.WaitGroup

	outstanding    atomic.Int64
	decodeFailures atomic.Uint64
	acked          atomic.Uint64

	failMu        sync.Mutex
	writeFailures map[model.Destination]uint64
}

// New creates a controller in the Idle state. dlqWriter may be nil, which
// disables the dead-letter path.
func New(cfg Config, puller transport.Puller, dec *decoder.Decoder, w *writer.Writer, dlqWriter dlq.Writer, logger *slog.Logger) *Controller {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.BackpressureLow >= cfg.BackpressureHigh {
		cfg.BackpressureLow = cfg.BackpressureHigh / 2
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		cfg:           cfg,
		puller:        puller,
		decoder:       dec,
		writer:        w,
		dlq:           dlqWriter,
		logger:        logger,
		queue:         make(chan *transport.Message, cfg.QueueSize),
		state:         StateIdle,
		writeFailures: make(map[model.Destination]uint64),
	}
}

// Run pulls messages until ctx is canceled, then drains in-flight work
// bounded by the shutdown timeout and stops. It blocks for the whole
// lifetime of the pipeline.
func (c *Controller) Run(ctx context.Context) error {
	c.setState(StateRunning)
	c.logger.Info("pipeline started",
		slog.Int("min_workers", c.cfg.MinWorkers),
		slog.Int("max_workers", c.cfg.MaxWorkers),
		slog.Int("backpressure_high", c.cfg.BackpressureHigh),
		slog.Int("backpressure_low", c.cfg.BackpressureLow),
	)

	// Workers outlive ctx so Draining can finish in-flight writes; the
	// shutdown timeout forces procCancel if the drain stalls.
	procCtx, procCancel := context.WithCancel(context.Background())
	defer procCancel()

	for i := 0; i < c.cfg.MinWorkers; i++ {
		c.addWorker(procCtx)
	}

	scaleDone := make(chan struct{})
	go func() {
		defer close(scaleDone)
		c.scaleLoop(ctx, procCtx)
	}()

	c.pullLoop(ctx)

	// Draining: no more pulls, let the queue and in-flight writes finish.
	c.setState(StateDraining)
	c.logger.Info("pipeline draining",
		slog.Int64("outstanding", c.outstanding.Load()),
		slog.Int("queue_depth", len(c.queue)),
	)
	close(c.queue)
	<-scaleDone

	drained := make(chan struct{})
	go func() {
		c.workerWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(c.cfg.ShutdownTimeout):
		c.logger.Warn("shutdown timeout reached, forcing termination",
			slog.Int64("outstanding", c.outstanding.Load()),
		)
		procCancel()
		<-drained
	}

	c.setState(StateStopped)
	c.logger.Info("pipeline stopped", slog.Uint64("messages_acked", c.acked.Load()))
	return nil
}

// pullLoop fetches transport batches while Running, honoring the
// backpressure hysteresis.
func (c *Controller) pullLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if !c.admit() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		msgs, err := c.puller.Fetch(ctx, c.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("transport fetch failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			c.outstanding.Add(1)
			metrics.Outstanding.Set(float64(c.outstanding.Load()))
			select {
			case c.queue <- msg:
				metrics.QueueDepth.Set(float64(len(c.queue)))
			case <-ctx.Done():
				// Never pushed to a worker; hand it back to the broker.
				_ = msg.Nak(0)
				c.outstanding.Add(-1)
				return
			}
		}
	}
}

// admit applies the two-threshold hysteresis: pulls pause at the high
// watermark and resume only after outstanding work drops to the low one.
func (c *Controller) admit() bool {
	out := int(c.outstanding.Load())

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backpressured {
		if out <= c.cfg.BackpressureLow {
			c.backpressured = false
			metrics.Backpressured.Set(0)
			c.logger.Info("backpressure released", slog.Int("outstanding", out))
		}
	} else if out >= c.cfg.BackpressureHigh {
		c.backpressured = true
		metrics.Backpressured.Set(1)
		c.logger.Warn("backpressure engaged", slog.Int("outstanding", out))
	}
	return !c.backpressured
}

// scaleLoop resizes the worker pool from observed queue depth. Workers are
// homogeneous and stateless, so adding and removing them is safe at any
// point.
func (c *Controller) scaleLoop(ctx, procCtx context.Context) {
	interval := c.cfg.ScaleInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		depth := len(c.queue)
		metrics.QueueDepth.Set(float64(depth))

		c.mu.Lock()
		n := len(c.workerStops)
		grow := depth > (c.cfg.QueueSize*3)/4 && n < c.cfg.MaxWorkers
		shrink := depth < c.cfg.QueueSize/4 && n > c.cfg.MinWorkers
		c.mu.Unlock()

		switch {
		case grow:
			c.addWorker(procCtx)
			c.logger.Info("scaled up workers", slog.Int("workers", n+1), slog.Int("queue_depth", depth))
		case shrink:
			c.removeWorker()
			c.logger.Info("scaled down workers", slog.Int("workers", n-1), slog.Int("queue_depth", depth))
		}
	}
}

func (c *Controller) addWorker(procCtx context.Context) {
	stop := make(chan struct{})

	c.mu.Lock()
	c.workerStops = append(c.workerStops, stop)
	metrics.Workers.Set(float64(len(c.workerStops)))
	c.mu.Unlock()

	c.workerWG.Add(1)
	go c.worker(procCtx, stop)
}

func (c *Controller) removeWorker() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.workerStops) == 0 {
		return
	}
	stop := c.workerStops[len(c.workerStops)-1]
	c.workerStops = c.workerStops[:len(c.workerStops)-1]
	metrics.Workers.Set(float64(len(c.workerStops)))
	close(stop)
}

// worker runs the full decode→route→write pipeline for one message at a
// time until the queue closes or the worker is retired.
func (c *Controller) worker(procCtx context.Context, stop chan struct{}) {
	defer c.workerWG.Done()

	for {
		select {
		case <-stop:
			return
		case msg, ok := <-c.queue:
			if !ok {
				return
			}
			c.process(procCtx, msg)
			metrics.QueueDepth.Set(float64(len(c.queue)))
		}
	}
}

// process drives one message to a terminal outcome. The message is
// acknowledged only after both sink writes are terminal; per-message errors
// never propagate to other in-flight events.
func (c *Controller) process(ctx context.Context, msg *transport.Message) {
	defer func() {
		c.outstanding.Add(-1)
		metrics.Outstanding.Set(float64(c.outstanding.Load()))
	}()

	event, err := c.decoder.Decode(msg.Data, msg.Arrival)
	if err != nil {
		c.handleDecodeFailure(ctx, msg, err)
		return
	}
	metrics.EventsDecoded.WithLabelValues(string(event.EventType())).Inc()

	dest := router.Resolve(event)
	payload, err := json.Marshal(event)
	if err != nil {
		// Events marshal by construction; treat a failure like a decode
		// fault rather than crashing the worker.
		c.handleDecodeFailure(ctx, msg, err)
		return
	}

	decision := &model.RoutingDecision{
		Event:       event,
		Destination: dest,
		ArchiveKey:  partition.ObjectKey(dest, event.OccurredAt(), event.EventID()),
		Payload:     payload,
	}

	outcome := c.writer.Write(ctx, decision)
	if outcome.Success() {
		c.ack(msg)
		return
	}

	c.recordWriteFailure(dest)

	if c.dlq != nil {
		cause := outcome.Analytical
		if cause == nil {
			cause = outcome.Archive
		}
		if dlqErr := c.dlq.Write(ctx, msg.Data, cause, "write_failed"); dlqErr != nil {
			c.logger.Error("dead-letter write failed, returning message to transport",
				slog.String("event_id", event.EventID()),
				slog.String("error", dlqErr.Error()),
			)
			c.nak(msg)
			return
		}
		metrics.DLQWritten.WithLabelValues("write_failed").Inc()
		c.ack(msg)
		return
	}

	// No dead-letter path: leave it to the broker to redeliver later.
	c.nak(msg)
}

func (c *Controller) handleDecodeFailure(ctx context.Context, msg *transport.Message, err error) {
	c.decodeFailures.Add(1)

	reason := "decode_failed"
	var decErr *decoder.DecodeError
	if errors.As(err, &decErr) {
		reason = decErr.Reason()
	}
	metrics.DecodeErrors.WithLabelValues(reason).Inc()

	c.logger.Warn("event rejected",
		slog.String("reason", reason),
		slog.String("error", err.Error()),
		slog.String("payload", truncate(msg.Data, 512)),
	)

	if c.dlq != nil {
		if dlqErr := c.dlq.Write(ctx, msg.Data, err, reason); dlqErr != nil {
			c.logger.Error("dead-letter write failed for rejected event",
				slog.String("error", dlqErr.Error()),
			)
		} else {
			metrics.DLQWritten.WithLabelValues(reason).Inc()
		}
	}

	// Redelivering a malformed payload can never succeed.
	c.ack(msg)
}

func (c *Controller) ack(msg *transport.Message) {
	if err := msg.Ack(); err != nil {
		c.logger.Error("ack failed", slog.String("error", err.Error()))
		return
	}
	c.acked.Add(1)
	metrics.MessagesAcked.Inc()
}

func (c *Controller) nak(msg *transport.Message) {
	if err := msg.Nak(c.cfg.NakDelay); err != nil {
		c.logger.Error("nak failed", slog.String("error", err.Error()))
		return
	}
	metrics.MessagesRedelivered.Inc()
}

func (c *Controller) recordWriteFailure(dest model.Destination) {
	c.failMu.Lock()
	c.writeFailures[dest]++
	c.failMu.Unlock()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Status returns a snapshot of the controller for the operational surface.
func (c *Controller) Status() Status {
	c.mu.Lock()
	state := c.state
	backpressured := c.backpressured
	workers := len(c.workerStops)
	c.mu.Unlock()

	c.failMu.Lock()
	failures := make(map[string]uint64, len(c.writeFailures))
	for dest, n := range c.writeFailures {
		failures[string(dest)] = n
	}
	c.failMu.Unlock()

	return Status{
		State:          state,
		Backpressured:  backpressured,
		Outstanding:    c.outstanding.Load(),
		QueueDepth:     len(c.queue),
		Workers:        workers,
		DecodeFailures: c.decodeFailures.Load(),
		WriteFailures:  failures,
		MessagesAcked:  c.acked.Load(),
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
