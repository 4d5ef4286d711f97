package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"gopkg.in/yaml.v3"
)

// Profile describes a seeding run: how many events, how fast, and the mix
// of variants. Loaded from YAML or built from flags.
type Profile struct {
	Count int `yaml:"count"`

	// Rate is events per second; 0 means unthrottled.
	Rate int `yaml:"rate"`

	// Seed fixes the generator for reproducible runs; 0 randomizes.
	Seed int64 `yaml:"seed"`

	// Mix weights each variant. Zero weights are skipped.
	Mix struct {
		Order        int `yaml:"order"`
		Inventory    int `yaml:"inventory"`
		UserActivity int `yaml:"user_activity"`
	} `yaml:"mix"`

	// MalformedPercent injects broken payloads for dead-letter testing.
	MalformedPercent int `yaml:"malformed_percent"`
}

// DefaultProfile returns an even three-way mix.
func DefaultProfile(count int) *Profile {
	p := &Profile{Count: count}
	p.Mix.Order = 1
	p.Mix.Inventory = 1
	p.Mix.UserActivity = 1
	return p
}

// LoadProfile reads a Profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if p.Mix.Order+p.Mix.Inventory+p.Mix.UserActivity == 0 {
		return nil, fmt.Errorf("profile mix has no positive weights")
	}
	return &p, nil
}

// Publisher sends payloads to the inbound event subject.
type Publisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewPublisher connects to NATS for publishing seed events.
func NewPublisher(url, subject string) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.Name("eventpipe-seeder"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return &Publisher{conn: conn, js: js, subject: subject}, nil
}

// Publish sends one payload and waits for the stream acknowledgment.
func (p *Publisher) Publish(ctx context.Context, payload []byte) error {
	_, err := p.js.Publish(ctx, p.subject, payload)
	return err
}

// Close releases the NATS connection.
func (p *Publisher) Close() {
	p.conn.Close()
}

// Run publishes events per the profile until done or ctx is canceled.
// Returns the number of events published.
func Run(ctx context.Context, pub *Publisher, profile *Profile, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	gen := NewGenerator(profile.Seed)

	var throttle <-chan time.Time
	if profile.Rate > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(profile.Rate))
		defer ticker.Stop()
		throttle = ticker.C
	}

	published := 0
	for i := 0; i < profile.Count; i++ {
		if throttle != nil {
			select {
			case <-throttle:
			case <-ctx.Done():
				return published, ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return published, err
		}

		payload := next(gen, profile, i)
		if err := pub.Publish(ctx, payload); err != nil {
			return published, fmt.Errorf("publish event %d: %w", i, err)
		}
		published++

		if published%500 == 0 {
			logger.Info("seeding progress", slog.Int("published", published), slog.Int("total", profile.Count))
		}
	}

	logger.Info("seeding complete", slog.Int("published", published))
	return published, nil
}

// next picks the i-th payload, cycling through the weighted mix and
// injecting malformed payloads at the configured percentage.
func next(gen *Generator, profile *Profile, i int) []byte {
	if profile.MalformedPercent > 0 && i%100 < profile.MalformedPercent {
		return gen.Malformed()
	}

	total := profile.Mix.Order + profile.Mix.Inventory + profile.Mix.UserActivity
	if total == 0 {
		return gen.Order()
	}
	slot := i % total
	switch {
	case slot < profile.Mix.Order:
		return gen.Order()
	case slot < profile.Mix.Order+profile.Mix.Inventory:
		return gen.Inventory()
	default:
		return gen.UserActivity()
	}
}
