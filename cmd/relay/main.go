package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	relay "github.com/glimte/mmate-relay"
	"github.com/glimte/mmate-relay/emulator"
	"github.com/glimte/mmate-relay/internal/config"
	"github.com/glimte/mmate-relay/messaging"
	"github.com/glimte/mmate-relay/monitor"
	"github.com/glimte/mmate-relay/transports"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	if err := newRootCmd(cfg, os.Stderr).Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd(cfg *config.Config, logOutput io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mmate-relay",
		Short: "Relay requests from many clients to one server by correlation tag",
		Long: `mmate-relay sits between N clients and a single server. Each request is
tagged before it reaches the server and the server's tagged response is routed
back to the client that sent it. This command runs the relay together with an
emulated server and client population.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if cfg.Duration > 0 {
				var stop context.CancelFunc
				ctx, stop = context.WithTimeout(ctx, cfg.Duration)
				defer stop()
			}

			// Handle signals
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go watchSignals(ctx, cancel, sigChan)

			return run(ctx, cfg, newLogger(cfg.Debug, logOutput))
		},
	}

	flags := rootCmd.Flags()
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flags.IntVarP(&cfg.Clients, "clients", "n", cfg.Clients, "Number of emulated clients")
	flags.StringVarP(&cfg.Transport, "transport", "t", cfg.Transport, "Queue backend: memory, rabbitmq or redis")
	flags.StringVar(&cfg.AMQPURL, "amqp-url", cfg.AMQPURL, "RabbitMQ connection URL")
	flags.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address")
	flags.StringVar(&cfg.RedisPassword, "redis-password", cfg.RedisPassword, "Redis password")
	flags.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database number")
	flags.StringVar(&cfg.QueuePrefix, "queue-prefix", cfg.QueuePrefix, "Prefix for queue names")
	flags.StringVar(&cfg.Tags, "tags", cfg.Tags, "Tag strategy: sequential or random")
	flags.DurationVar(&cfg.EntryTTL, "entry-ttl", cfg.EntryTTL, "How long a request may wait for its response (0 disables expiry)")
	flags.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "How often timed out requests are evicted")
	flags.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Longest idle wait between polls")
	flags.Float64Var(&cfg.Rate, "rate", cfg.Rate, "Requests per second generated by the client emulator")
	flags.DurationVar(&cfg.MinDelay, "min-delay", cfg.MinDelay, "Shortest emulated server processing time")
	flags.DurationVar(&cfg.MaxDelay, "max-delay", cfg.MaxDelay, "Longest emulated server processing time")
	flags.DurationVarP(&cfg.Duration, "duration", "d", cfg.Duration, "Stop after this long (0 runs until interrupted)")

	return rootCmd
}

// watchSignals cancels the run on the first signal and exits once ctx is done
func watchSignals(ctx context.Context, cancel context.CancelFunc, sigChan <-chan os.Signal) {
	select {
	case <-sigChan:
		cancel()
	case <-ctx.Done():
	}
}

func newLogger(debug bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newTagGenerator(strategy string) messaging.TagGenerator {
	if strategy == config.TagsRandom {
		return messaging.NewRandomTagGenerator(messaging.DefaultTagLimit)
	}
	return messaging.NewSequentialTagGenerator()
}

// run wires the queues, relay and emulators and blocks until ctx is done
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	factory := &transports.Factory{
		Backend:       cfg.Transport,
		Prefix:        cfg.QueuePrefix,
		AMQPURL:       cfg.AMQPURL,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		Logger:        logger,
	}

	topology, err := factory.Build(ctx, cfg.Clients)
	if err != nil {
		return fmt.Errorf("failed to build queues: %w", err)
	}

	metrics := monitor.NewRoutingMetricsCollector()

	r, err := relay.New(
		relay.WithQueues(topology),
		relay.WithLogger(logger),
		relay.WithMetrics(metrics),
		relay.WithTagGenerator(newTagGenerator(cfg.Tags)),
		relay.WithEntryTTL(cfg.EntryTTL),
		relay.WithSweepInterval(cfg.SweepInterval),
		relay.WithPollInterval(cfg.PollInterval),
	)
	if err != nil {
		topology.Close()
		return err
	}
	defer r.Close()

	server := emulator.NewServer(topology.ServerInbound, topology.ServerOutbound,
		emulator.WithDelay(cfg.MinDelay, cfg.MaxDelay),
		emulator.WithServerLogger(logger.With("component", "server")),
	)

	burst := int(cfg.Rate)
	if burst < 1 {
		burst = 1
	}
	clients, err := emulator.NewClientPool(topology.ClientInbound, topology.ClientOutbound,
		emulator.WithRate(rate.Limit(cfg.Rate), burst),
		emulator.WithClientLogger(logger.With("component", "clients")),
	)
	if err != nil {
		return err
	}

	logger.Info("starting relay",
		"transport", cfg.Transport,
		"clients", cfg.Clients,
		"tags", cfg.Tags)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return clients.Run(ctx) })
	g.Go(func() error { return r.Run(ctx) })

	err = g.Wait()

	summary := metrics.GetMetricsSummary()
	if data, jsonErr := json.Marshal(summary); jsonErr == nil {
		logger.Info("relay stopped", "metrics", string(data))
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
