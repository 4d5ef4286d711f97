// Package dlq persists events the pipeline could not process: payloads that
// failed to decode, and events whose sink writes permanently failed.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// FailedEvent is one dead-lettered payload.
type FailedEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Payload   []byte    `json:"payload"`
	Error     string    `json:"error"`
	Reason    string    `json:"reason"`
}

// Writer is the controller's view of the dead-letter path. A nil *Queue is
// a valid no-op writer, so the DLQ can be disabled without branching at
// every call site.
type Writer interface {
	Write(ctx context.Context, payload []byte, cause error, reason string) error
}

// Config holds dead-letter stream settings.
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	MaxAge        time.Duration
}

// DefaultConfig returns the standard dead-letter stream layout.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Stream:        "EVENTPIPE_DLQ",
		SubjectPrefix: "eventpipe.dlq",
		MaxAge:        7 * 24 * time.Hour,
	}
}

// Queue writes failed events to a JetStream stream. Safe for use from many
// workers and across multiple pipeline instances.
type Queue struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	stream  jetstream.Stream
	cfg     Config
	written uint64
}

// New connects to NATS and creates or updates the dead-letter stream.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name("eventpipe-dlq"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS for DLQ: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
		MaxAge:   cfg.MaxAge,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	return &Queue{conn: conn, js: js, stream: stream, cfg: cfg}, nil
}

// Write records one failed payload. Subject format: <prefix>.<reason>.
func (q *Queue) Write(ctx context.Context, payload []byte, cause error, reason string) error {
	if q == nil {
		return nil
	}

	failed := FailedEvent{
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Error:     cause.Error(),
		Reason:    reason,
	}

	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", q.cfg.SubjectPrefix, reason)
	if _, err := q.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	atomic.AddUint64(&q.written, 1)
	return nil
}

// Stats returns dead-letter stream counters for the operational surface.
func (q *Queue) Stats(ctx context.Context) map[string]interface{} {
	if q == nil {
		return map[string]interface{}{"enabled": false}
	}

	info, err := q.stream.Info(ctx)
	if err != nil {
		return map[string]interface{}{
			"enabled":       true,
			"written_local": atomic.LoadUint64(&q.written),
			"error":         err.Error(),
		}
	}

	return map[string]interface{}{
		"enabled":        true,
		"written_local":  atomic.LoadUint64(&q.written),
		"total_messages": info.State.Msgs,
		"total_bytes":    info.State.Bytes,
	}
}

// List returns up to limit dead-lettered events, oldest first.
func (q *Queue) List(ctx context.Context, limit int) ([]FailedEvent, error) {
	if q == nil {
		return nil, fmt.Errorf("dlq not enabled")
	}
	if limit <= 0 {
		limit = 100
	}

	consumer, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: q.cfg.SubjectPrefix + ".>",
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch dlq messages: %w", err)
	}

	var events []FailedEvent
	for msg := range batch.Messages() {
		var failed FailedEvent
		if err := json.Unmarshal(msg.Data(), &failed); err != nil {
			continue
		}
		events = append(events, failed)
	}
	return events, nil
}

// Purge removes every event from the dead-letter stream.
func (q *Queue) Purge(ctx context.Context) error {
	if q == nil {
		return fmt.Errorf("dlq not enabled")
	}
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}
	return nil
}

// Close releases the NATS connection.
func (q *Queue) Close() {
	if q != nil {
		q.conn.Close()
	}
}
