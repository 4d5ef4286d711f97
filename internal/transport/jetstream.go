package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Config holds JetStream transport settings.
type Config struct {
	// URL is the NATS server URL (e.g. "nats://localhost:4222").
	URL string

	// Name identifies this client on the connection.
	Name string

	// Stream is the JetStream stream holding inbound events.
	Stream string

	// Subject is the subject the stream captures.
	Subject string

	// Consumer is the durable pull consumer name.
	Consumer string

	// AckWait is the redelivery lease: messages not acked within it are
	// redelivered.
	AckWait time.Duration

	// MaxDeliver bounds redelivery attempts per message.
	MaxDeliver int

	// MaxAckPending bounds unacknowledged messages at the broker.
	MaxAckPending int

	// FetchTimeout is how long a Fetch waits when the stream is empty.
	FetchTimeout time.Duration

	// MaxAge is how long the stream retains unconsumed messages.
	MaxAge time.Duration
}

// DefaultConfig returns transport settings matching a local NATS server.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "eventpipe",
		Stream:        "BACKEND_EVENTS",
		Subject:       "events.backend",
		Consumer:      "eventpipe-pipeline",
		AckWait:       30 * time.Second,
		MaxDeliver:    10,
		MaxAckPending: 5000,
		FetchTimeout:  2 * time.Second,
		MaxAge:        24 * time.Hour,
	}
}

// JetStream implements Puller on a NATS JetStream pull consumer.
type JetStream struct {
	conn     *nats.Conn
	consumer jetstream.Consumer
	cfg      Config
}

// Connect establishes the NATS connection and creates or updates the event
// stream and its durable pull consumer.
func Connect(ctx context.Context, cfg Config) (*JetStream, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    cfg.MaxAge,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create/update stream %s: %w", cfg.Stream, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          cfg.Consumer,
		Durable:       cfg.Consumer,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create/update consumer %s: %w", cfg.Consumer, err)
	}

	return &JetStream{conn: conn, consumer: consumer, cfg: cfg}, nil
}

// Fetch pulls up to max messages from the durable consumer.
func (t *JetStream) Fetch(ctx context.Context, max int) ([]*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch, err := t.consumer.Fetch(max, jetstream.FetchMaxWait(t.cfg.FetchTimeout))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var out []*Message
	for msg := range batch.Messages() {
		out = append(out, toMessage(msg))
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		return out, fmt.Errorf("fetch completed with error: %w", err)
	}
	return out, nil
}

func toMessage(msg jetstream.Msg) *Message {
	arrival := time.Now()
	if meta, err := msg.Metadata(); err == nil {
		arrival = meta.Timestamp
	}
	return &Message{
		Data:    msg.Data(),
		Arrival: arrival,
		AckFunc: msg.Ack,
		NakFunc: msg.NakWithDelay,
	}
}

// Close drains the NATS connection, letting in-flight acks complete.
func (t *JetStream) Close() error {
	return t.conn.Drain()
}
