package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restream-labs/eventpipe/internal/decoder"
	"github.com/restream-labs/eventpipe/internal/model"
	"github.com/restream-labs/eventpipe/internal/sink"
	"github.com/restream-labs/eventpipe/internal/transport"
	"github.com/restream-labs/eventpipe/internal/writer"
)

const validOrder = `{
	"event_type": "order",
	"order_id": "O-1001",
	"customer_id": "c-42",
	"order_date": "2025-11-04T10:15:30Z",
	"status": "confirmed",
	"items": [{"product_id": "p-1", "quantity": 1, "price": 9.99}],
	"shipping_address": {"street": "1 Main St", "city": "Springfield", "country": "US"}
}`

const validInventory = `{
	"event_type": "inventory",
	"inventory_id": "inv-7",
	"product_id": "p-9",
	"warehouse_id": "w-1",
	"quantity_change": -3,
	"quantity_after": 97,
	"timestamp": "2025-11-04T10:15:30Z"
}`

const validActivity = `{
	"event_type": "user_activity",
	"user_id": "u-5",
	"activity_type": "login",
	"timestamp": "2025-11-04T10:15:30Z"
}`

// scriptedPuller hands out its batches once, then blocks until cancellation.
type scriptedPuller struct {
	mu      sync.Mutex
	batches [][]*transport.Message
}

func (p *scriptedPuller) Fetch(ctx context.Context, max int) ([]*transport.Message, error) {
	p.mu.Lock()
	if len(p.batches) > 0 {
		batch := p.batches[0]
		p.batches = p.batches[1:]
		p.mu.Unlock()
		return batch, nil
	}
	p.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *scriptedPuller) Close() error { return nil }

// testMessage tracks its own terminal outcome.
type testMessage struct {
	msg   *transport.Message
	acked atomic.Bool
	naked atomic.Bool
	done  chan struct{}
}

func newTestMessage(payload string) *testMessage {
	tm := &testMessage{done: make(chan struct{})}
	tm.msg = &transport.Message{
		Data:    []byte(payload),
		Arrival: time.Now(),
		AckFunc: func() error {
			tm.acked.Store(true)
			close(tm.done)
			return nil
		},
		NakFunc: func(delay time.Duration) error {
			tm.naked.Store(true)
			close(tm.done)
			return nil
		},
	}
	return tm
}

func waitFor(t *testing.T, tms ...*testMessage) {
	t.Helper()
	for _, tm := range tms {
		select {
		case <-tm.done:
		case <-time.After(5 * time.Second):
			t.Fatal("message never reached a terminal outcome")
		}
	}
}

type memorySink struct {
	name string

	mu     sync.Mutex
	errs   []error
	stored map[string][]byte
}

func newMemorySink(name string, errs ...error) *memorySink {
	return &memorySink{name: name, errs: errs, stored: make(map[string][]byte)}
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Write(ctx context.Context, dec *model.RoutingDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return err
		}
	}
	s.stored[dec.Event.EventID()] = dec.Payload
	return nil
}

func (s *memorySink) Ping(ctx context.Context) error { return nil }
func (s *memorySink) Close()                         {}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

type dlqEntry struct {
	payload []byte
	reason  string
}

type memoryDLQ struct {
	mu      sync.Mutex
	entries []dlqEntry
	err     error
}

func (d *memoryDLQ) Write(ctx context.Context, payload []byte, cause error, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.entries = append(d.entries, dlqEntry{payload: payload, reason: reason})
	return nil
}

func (d *memoryDLQ) list() []dlqEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dlqEntry(nil), d.entries...)
}

func fastWriter(analytical, archive sink.Sink) *writer.Writer {
	return writer.New(analytical, archive, writer.Config{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}, nil, nil)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinWorkers = 2
	cfg.MaxWorkers = 4
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

func runController(t *testing.T, c *Controller, msgs ...*testMessage) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()

	waitFor(t, msgs...)
	cancel()

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("controller never stopped")
	}
}

func TestRunProcessesAllVariantsAndDrains(t *testing.T) {
	order := newTestMessage(validOrder)
	inventory := newTestMessage(validInventory)
	activity := newTestMessage(validActivity)

	puller := &scriptedPuller{batches: [][]*transport.Message{
		{order.msg, inventory.msg, activity.msg},
	}}
	analytical := newMemorySink("analytical")
	archive := newMemorySink("archive")
	c := New(testConfig(), puller, decoder.New(), fastWriter(analytical, archive), nil, nil)

	runController(t, c, order, inventory, activity)

	assert.True(t, order.acked.Load())
	assert.True(t, inventory.acked.Load())
	assert.True(t, activity.acked.Load())
	assert.Equal(t, 3, analytical.count())
	assert.Equal(t, 3, archive.count())

	status := c.Status()
	assert.Equal(t, StateStopped, status.State)
	assert.Equal(t, uint64(3), status.MessagesAcked)
	assert.Zero(t, status.Outstanding)
}

func TestDecodeFailureDeadLettersAndAcks(t *testing.T) {
	bad := newTestMessage(`{"event_type": "order", "order_id":`)
	unknown := newTestMessage(`{"event_type": "refund"}`)

	puller := &scriptedPuller{batches: [][]*transport.Message{{bad.msg, unknown.msg}}}
	analytical := newMemorySink("analytical")
	archive := newMemorySink("archive")
	dlq := &memoryDLQ{}
	c := New(testConfig(), puller, decoder.New(), fastWriter(analytical, archive), dlq, nil)

	runController(t, c, bad, unknown)

	assert.True(t, bad.acked.Load(), "malformed payloads must be acked, redelivery cannot fix them")
	assert.True(t, unknown.acked.Load())
	assert.Zero(t, analytical.count())

	entries := dlq.list()
	require.Len(t, entries, 2)
	reasons := []string{entries[0].reason, entries[1].reason}
	assert.ElementsMatch(t, []string{"syntax", "unknown_type"}, reasons)
	assert.Equal(t, uint64(2), c.Status().DecodeFailures)
}

func TestPermanentWriteFailureDeadLettersAndAcks(t *testing.T) {
	msg := newTestMessage(validOrder)

	perm := sink.Permanent(errors.New("schema mismatch"))
	puller := &scriptedPuller{batches: [][]*transport.Message{{msg.msg}}}
	analytical := newMemorySink("analytical", perm)
	archive := newMemorySink("archive")
	dlq := &memoryDLQ{}
	c := New(testConfig(), puller, decoder.New(), fastWriter(analytical, archive), dlq, nil)

	runController(t, c, msg)

	assert.True(t, msg.acked.Load())
	assert.False(t, msg.naked.Load())
	assert.Equal(t, 1, archive.count(), "the healthy sink still gets its write")

	entries := dlq.list()
	require.Len(t, entries, 1)
	assert.Equal(t, "write_failed", entries[0].reason)
	assert.Equal(t, []byte(validOrder), entries[0].payload)
	assert.Equal(t, uint64(1), c.Status().WriteFailures["orders"])
}

func TestWriteFailureWithoutDLQNaksForRedelivery(t *testing.T) {
	msg := newTestMessage(validOrder)

	perm := sink.Permanent(errors.New("schema mismatch"))
	puller := &scriptedPuller{batches: [][]*transport.Message{{msg.msg}}}
	analytical := newMemorySink("analytical", perm)
	archive := newMemorySink("archive")
	c := New(testConfig(), puller, decoder.New(), fastWriter(analytical, archive), nil, nil)

	runController(t, c, msg)

	assert.False(t, msg.acked.Load())
	assert.True(t, msg.naked.Load(), "without a dead-letter path the broker must redeliver")
}

func TestDLQWriteFailureFallsBackToNak(t *testing.T) {
	msg := newTestMessage(validOrder)

	perm := sink.Permanent(errors.New("schema mismatch"))
	puller := &scriptedPuller{batches: [][]*transport.Message{{msg.msg}}}
	analytical := newMemorySink("analytical", perm)
	archive := newMemorySink("archive")
	dlq := &memoryDLQ{err: errors.New("dlq stream unavailable")}
	c := New(testConfig(), puller, decoder.New(), fastWriter(analytical, archive), dlq, nil)

	runController(t, c, msg)

	assert.False(t, msg.acked.Load(), "losing the event silently is not an option")
	assert.True(t, msg.naked.Load())
}

func TestTransientWriteFailureRecoversWithoutRedelivery(t *testing.T) {
	msg := newTestMessage(validOrder)

	boom := sink.Transient(errors.New("connection reset"))
	puller := &scriptedPuller{batches: [][]*transport.Message{{msg.msg}}}
	analytical := newMemorySink("analytical", boom, boom, nil)
	archive := newMemorySink("archive")
	dlq := &memoryDLQ{}
	c := New(testConfig(), puller, decoder.New(), fastWriter(analytical, archive), dlq, nil)

	runController(t, c, msg)

	assert.True(t, msg.acked.Load())
	assert.Empty(t, dlq.list(), "recovered writes never dead-letter")
	assert.Equal(t, 1, analytical.count())
}

func TestBackpressureHysteresis(t *testing.T) {
	cfg := testConfig()
	cfg.BackpressureHigh = 10
	cfg.BackpressureLow = 4
	c := New(cfg, &scriptedPuller{}, decoder.New(),
		fastWriter(newMemorySink("analytical"), newMemorySink("archive")), nil, nil)

	assert.True(t, c.admit(), "below the high watermark pulls proceed")

	c.outstanding.Store(10)
	assert.False(t, c.admit(), "high watermark engages backpressure")

	// Dropping below high but above low is not enough to resume.
	c.outstanding.Store(7)
	assert.False(t, c.admit())

	c.outstanding.Store(4)
	assert.True(t, c.admit(), "low watermark releases backpressure")

	// Hysteresis: climbing back between the thresholds keeps pulling.
	c.outstanding.Store(9)
	assert.True(t, c.admit())
}

func TestStatusBeforeRun(t *testing.T) {
	c := New(testConfig(), &scriptedPuller{}, decoder.New(),
		fastWriter(newMemorySink("analytical"), newMemorySink("archive")), nil, nil)

	status := c.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.False(t, status.Backpressured)
	assert.Zero(t, status.Workers)
	assert.Empty(t, status.WriteFailures)
}
