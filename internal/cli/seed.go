package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/restream-labs/eventpipe/internal/config"
	"github.com/restream-labs/eventpipe/internal/logging"
	"github.com/restream-labs/eventpipe/internal/seeder"
)

var (
	seedCount     int
	seedRate      int
	seedSeed      int64
	seedMalformed int
	seedProfile   string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Publish synthetic events to the inbound stream",
	Long: `Publishes generated order, inventory, and user activity events to
the inbound event stream for exercising the pipeline end to end. A YAML
profile can fix the count, rate, variant mix, and malformed percentage;
the flags are ignored when a profile is given.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().IntVar(&seedCount, "count", 1000, "number of events to publish")
	seedCmd.Flags().IntVar(&seedRate, "rate", 0, "events per second (0 = unthrottled)")
	seedCmd.Flags().Int64Var(&seedSeed, "seed", 0, "generator seed (0 = random)")
	seedCmd.Flags().IntVar(&seedMalformed, "malformed", 0, "percentage of malformed payloads")
	seedCmd.Flags().StringVar(&seedProfile, "profile", "", "YAML seeding profile (overrides flags)")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), "text").
		With(logging.Component("seeder"))

	var profile *seeder.Profile
	if seedProfile != "" {
		profile, err = seeder.LoadProfile(seedProfile)
		if err != nil {
			return err
		}
	} else {
		profile = seeder.DefaultProfile(seedCount)
		profile.Rate = seedRate
		profile.Seed = seedSeed
		profile.MalformedPercent = seedMalformed
	}

	pub, err := seeder.NewPublisher(cfg.NATS.URL, cfg.NATS.Subject)
	if err != nil {
		return err
	}
	defer pub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	published, err := seeder.Run(ctx, pub, profile, logger.Logger)
	if err != nil {
		return fmt.Errorf("seeding stopped after %d events: %w", published, err)
	}
	fmt.Printf("published %d events to %s\n", published, cfg.NATS.Subject)
	return nil
}
