package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/restream-labs/eventpipe/internal/config"
	"github.com/restream-labs/eventpipe/internal/dlq"
)

var dlqListLimit int

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and manage the dead-letter queue",
}

var dlqStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dead-letter stream counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDLQ(func(ctx context.Context, q *dlq.Queue) error {
			return printJSON(q.Stats(ctx))
		})
	},
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered events, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDLQ(func(ctx context.Context, q *dlq.Queue) error {
			events, err := q.List(ctx, dlqListLimit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("dead-letter queue is empty")
				return nil
			}
			return printJSON(events)
		})
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove every event from the dead-letter queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDLQ(func(ctx context.Context, q *dlq.Queue) error {
			if err := q.Purge(ctx); err != nil {
				return err
			}
			fmt.Println("dead-letter queue purged")
			return nil
		})
	},
}

func init() {
	dlqListCmd.Flags().IntVar(&dlqListLimit, "limit", 100, "maximum events to list")
	dlqCmd.AddCommand(dlqStatsCmd, dlqListCmd, dlqPurgeCmd)
	rootCmd.AddCommand(dlqCmd)
}

func withDLQ(fn func(context.Context, *dlq.Queue) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queue, err := dlq.New(ctx, dlq.Config{
		URL:           cfg.NATS.URL,
		Stream:        cfg.DLQ.Stream,
		SubjectPrefix: cfg.DLQ.SubjectPrefix,
		MaxAge:        cfg.DLQ.MaxAge,
	})
	if err != nil {
		return err
	}
	defer queue.Close()

	return fn(ctx, queue)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
