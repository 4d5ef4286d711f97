package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/restream-labs/eventpipe/internal/config"
	"github.com/restream-labs/eventpipe/internal/decoder"
	"github.com/restream-labs/eventpipe/internal/dlq"
	"github.com/restream-labs/eventpipe/internal/logging"
	"github.com/restream-labs/eventpipe/internal/pipeline"
	"github.com/restream-labs/eventpipe/internal/reconcile"
	"github.com/restream-labs/eventpipe/internal/server"
	"github.com/restream-labs/eventpipe/internal/sink"
	"github.com/restream-labs/eventpipe/internal/sink/analytical"
	"github.com/restream-labs/eventpipe/internal/sink/archive"
	"github.com/restream-labs/eventpipe/internal/transport"
	"github.com/restream-labs/eventpipe/internal/writer"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the ingestion pipeline",
	Long: `Starts the pipeline controller: pulls events from the inbound
stream, decodes and routes them, writes each event to both sinks, and
serves the operational HTTP endpoints. Stops gracefully on SIGINT/SIGTERM,
draining in-flight work first.`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("eventpipe"))
	logging.SetDefault(logger)

	slog.Info("starting eventpipe",
		slog.Int("port", cfg.Server.Port),
		slog.String("nats_url", cfg.NATS.URL),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Analytical sink
	if cfg.Postgres.Migrate {
		if err := migrateUp(cfg.Postgres.URL); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
	}
	analyticalSink, err := analytical.New(ctx, analytical.Config{
		URL:             cfg.Postgres.URL,
		MaxConns:        cfg.Postgres.MaxConns,
		MinConns:        cfg.Postgres.MinConns,
		MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		MaxConnIdleTime: cfg.Postgres.MaxConnIdleTime,
	})
	if err != nil {
		return fmt.Errorf("connect analytical sink: %w", err)
	}
	defer analyticalSink.Close()

	// Archive sink
	archiveSink, err := archive.New(archive.Config{
		Endpoint:  cfg.Archive.Endpoint,
		AccessKey: cfg.Archive.AccessKey,
		SecretKey: cfg.Archive.SecretKey,
		UseTLS:    cfg.Archive.UseTLS,
		Bucket:    cfg.Archive.Bucket,
	})
	if err != nil {
		return fmt.Errorf("create archive sink: %w", err)
	}
	if err := archiveSink.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure archive bucket: %w", err)
	}

	// Reconciliation tracker (optional)
	var tracker *reconcile.Tracker
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, sink reconciliation disabled", slog.String("error", err.Error()))
			_ = client.Close()
		} else {
			tracker = reconcile.New(client, cfg.Reconcile.Window)
			go tracker.Sweep(ctx, cfg.Reconcile.SweepInterval)
			defer client.Close()
			slog.Info("sink reconciliation enabled", slog.Duration("window", cfg.Reconcile.Window))
		}
	} else {
		slog.Info("redis disabled, sink reconciliation not available")
	}

	// Dead-letter queue (optional)
	var dlqWriter dlq.Writer
	if cfg.DLQ.Enabled {
		queue, err := dlq.New(ctx, dlq.Config{
			URL:           cfg.NATS.URL,
			Stream:        cfg.DLQ.Stream,
			SubjectPrefix: cfg.DLQ.SubjectPrefix,
			MaxAge:        cfg.DLQ.MaxAge,
		})
		if err != nil {
			return fmt.Errorf("initialize dead-letter queue: %w", err)
		}
		defer queue.Close()
		dlqWriter = queue
		slog.Info("dead-letter queue enabled", slog.String("stream", cfg.DLQ.Stream))
	} else {
		slog.Warn("dead-letter queue disabled, permanently failed writes will be redelivered")
	}

	// Inbound transport
	puller, err := transport.Connect(ctx, transport.Config{
		URL:           cfg.NATS.URL,
		Name:          "eventpipe",
		Stream:        cfg.NATS.Stream,
		Subject:       cfg.NATS.Subject,
		Consumer:      cfg.NATS.Consumer,
		AckWait:       cfg.NATS.AckWait,
		MaxDeliver:    cfg.NATS.MaxDeliver,
		MaxAckPending: cfg.NATS.MaxAckPending,
		FetchTimeout:  cfg.NATS.FetchTimeout,
		MaxAge:        cfg.NATS.MaxAge,
	})
	if err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	defer puller.Close()

	dualWriter := writer.New(analyticalSink, archiveSink, writer.Config{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
	}, tracker, logger.Logger)

	controller := pipeline.New(pipeline.Config{
		MinWorkers:       cfg.Pipeline.MinWorkers,
		MaxWorkers:       cfg.Pipeline.MaxWorkers,
		QueueSize:        cfg.Pipeline.QueueSize,
		BatchSize:        cfg.Pipeline.BatchSize,
		BackpressureHigh: cfg.Pipeline.BackpressureHigh,
		BackpressureLow:  cfg.Pipeline.BackpressureLow,
		NakDelay:         cfg.Pipeline.NakDelay,
		ScaleInterval:    cfg.Pipeline.ScaleInterval,
		ShutdownTimeout:  cfg.Pipeline.ShutdownTimeout,
	}, puller, decoder.New(), dualWriter, dlqWriter, logger.Logger)

	// Operational HTTP surface
	handler := server.NewHandler(controller, []sink.Sink{analyticalSink, archiveSink}, tracker)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		slog.Info("operational endpoints listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Blocks until the shutdown signal, then drains.
	if err := controller.Run(ctx); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("ops server forced to shut down", slog.String("error", err.Error()))
	}

	slog.Info("eventpipe stopped")
	return nil
}
