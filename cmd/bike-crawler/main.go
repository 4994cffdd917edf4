package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Sternrassler/bike-crawler/pkg/archive"
	"github.com/Sternrassler/bike-crawler/pkg/client"
	"github.com/Sternrassler/bike-crawler/pkg/config"
	"github.com/Sternrassler/bike-crawler/pkg/crawl"
	"github.com/Sternrassler/bike-crawler/pkg/logging"
	"github.com/Sternrassler/bike-crawler/pkg/metrics"
	"github.com/Sternrassler/bike-crawler/pkg/scheduler"
	"github.com/Sternrassler/bike-crawler/pkg/status"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"verbose":           "logging.verbose",
	"quiet":             "logging.quiet",
	"log-path":          "logging.path",
	"data-path":         "output.data_path",
	"token":             "api.token",
	"interval":          "schedule.interval",
	"continue-on-error": "schedule.continue_on_error",
	"run-now":           "schedule.run_immediately",
	"metrics-addr":      "metrics.addr",
	"redis-addr":        "heartbeat.redis_addr",
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:   "bike-crawler",
		Short: "Archive Call a Bike availability every minute",
		Long: `bike-crawler polls the Flinkster bookingproposals API on a fixed schedule
and writes every response page, unmodified, to timestamped files:

  <data-path>/<run start>/<cycle start>-<page>.json

Example:
  bike-crawler --data-path /srv/callabike -t $TOKEN

Every flag can also be set in a YAML config file (-c) or through
BIKECRAWLER_* environment variables, e.g. BIKECRAWLER_API_TOKEN.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logCfg := logging.DefaultConfig()
			logCfg.Level = logging.LevelFromFlags(cfg.Logging.Verbose, cfg.Logging.Quiet)
			logCfg.Verbose = cfg.Logging.Verbose
			logCfg.Pretty = true
			logCfg.Output = cmd.ErrOrStderr()
			logCfg.FilePath = cfg.Logging.Path

			logger, closer, err := logging.New(logCfg)
			if err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			defer closer.Close()

			return run(cmd.Context(), cfg, logger, time.Now())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (YAML)")
	flags.BoolP("verbose", "v", false, "increase output verbosity")
	flags.BoolP("quiet", "q", false, "do not log unless it is a warning or worse")
	flags.String("log-path", "", "additionally write debug logs to this file")
	flags.StringP("data-path", "d", ".", "folder to write responses to")
	flags.StringP("token", "t", "", "API authorization token (required)")
	flags.Duration("interval", config.DefaultInterval, "time between crawl cycles")
	flags.Bool("continue-on-error", false, "keep crawling after a failed cycle")
	flags.Bool("run-now", false, "run the first crawl cycle immediately")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	flags.String("redis-addr", "", "report cycle heartbeats to this Redis address")

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bike-crawler %s (built %s)\n", Version, BuildTime)
		},
	}
}

// run wires the crawler and blocks until ctx is cancelled or a cycle fails.
func run(ctx context.Context, cfg config.Config, logger zerolog.Logger, start time.Time) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info().Msg("#####################################################")
	logger.Info().Msg("# Call a Bike Crawler                               #")
	logger.Info().Msgf("# Version %-42s#", Version)
	logger.Info().Msg("#####################################################")

	apiClient, err := client.New(client.Config{
		BaseURL:   cfg.API.BaseURL,
		Token:     cfg.API.Token,
		UserAgent: cfg.API.UserAgent,
		Timeout:   cfg.API.Timeout,
		Query: client.Query{
			Latitude:        cfg.Query.Latitude,
			Longitude:       cfg.Query.Longitude,
			Radius:          cfg.Query.Radius,
			Limit:           cfg.Query.Limit,
			ProviderNetwork: cfg.Query.ProviderNetwork,
			Expand:          cfg.Query.Expand,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("create api client: %w", err)
	}

	runDir, err := archive.NewRun(cfg.Output.DataPath, start)
	if err != nil {
		return err
	}
	if abs, err := filepath.Abs(runDir.Dir()); err == nil {
		logger.Debug().Str("path", abs).Msg("Data path")
	}

	var opts []crawl.Option
	if cfg.Heartbeat.RedisAddr != "" {
		store := status.NewRedisStore(
			redis.NewClient(&redis.Options{Addr: cfg.Heartbeat.RedisAddr}),
			cfg.Heartbeat.Key,
			3*cfg.Schedule.Interval,
		)
		defer store.Close()

		if err := store.Ping(ctx); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Heartbeat.RedisAddr).Msg("Redis not reachable, heartbeats will fail until it is")
		} else {
			logger.Info().Str("addr", cfg.Heartbeat.RedisAddr).Str("key", store.Key()).Msg("Reporting heartbeats to Redis")
		}
		opts = append(opts, crawl.WithReporter(store))
	}

	job, err := crawl.New(apiClient, runDir, crawl.Config{Pages: cfg.Query.Pages}, logger, opts...)
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	sched, err := scheduler.New(job, scheduler.Config{
		Interval:        cfg.Schedule.Interval,
		PollInterval:    cfg.Schedule.PollInterval,
		RunImmediately:  cfg.Schedule.RunImmediately,
		ContinueOnError: cfg.Schedule.ContinueOnError,
	}, logger)
	if err != nil {
		return err
	}

	logger.Debug().Dur("interval", cfg.Schedule.Interval).Msg("Setting up schedule")
	if err := sched.Run(ctx); err != nil {
		return err
	}

	logger.Info().Msg("Exiting")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, config.ErrMissingToken) {
			fmt.Fprintln(os.Stderr, "Error: a token is required (-t/--token)")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}
