// Package archive writes serialized events into the object archive. Objects
// are addressed by the deterministic partition key, and rewriting the same
// key replaces the object, so redelivered events never duplicate.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/restream-labs/eventpipe/internal/model"
	"github.com/restream-labs/eventpipe/internal/sink"
)

// Config holds object store connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseTLS    bool
	Bucket    string
}

// Sink is the S3-compatible implementation of the archive destination.
type Sink struct {
	client *minio.Client
	bucket string
}

// New creates an archive sink client. It does not touch the bucket; call
// EnsureBucket during startup.
func New(cfg Config) (*Sink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &Sink{client: client, bucket: cfg.Bucket}, nil
}

func (s *Sink) Name() string { return "archive" }

// EnsureBucket creates the archive bucket if it does not exist.
func (s *Sink) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Write puts the serialized event at its archive key.
func (s *Sink) Write(ctx context.Context, dec *model.RoutingDecision) error {
	_, err := s.client.PutObject(ctx, s.bucket, dec.ArchiveKey,
		bytes.NewReader(dec.Payload), int64(len(dec.Payload)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	if err != nil {
		return classify(fmt.Errorf("put object %s: %w", dec.ArchiveKey, err))
	}
	return nil
}

// Ping verifies the bucket is reachable.
func (s *Sink) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("object store unreachable: %w", err)
	}
	return nil
}

// Close is a no-op; the underlying HTTP client needs no teardown.
func (s *Sink) Close() {}

// classify maps object store errors onto the sink taxonomy: throttling and
// server-side failures are retryable, other client-side rejections are not.
func classify(err error) error {
	var respErr minio.ErrorResponse
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == http.StatusTooManyRequests,
			respErr.StatusCode >= http.StatusInternalServerError,
			respErr.Code == "SlowDown",
			respErr.Code == "RequestTimeout":
			return sink.Transient(err)
		default:
			return sink.Permanent(err)
		}
	}
	// No structured response means the request never completed.
	return sink.Transient(err)
}
