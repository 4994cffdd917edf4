// Package scheduler runs one job at a fixed interval from a single polling
// loop. The job runs synchronously inside the loop, so invocations never
// overlap and a slow job delays the next check.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/bike-crawler/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bikecrawler_job_runs_total",
		Help: "Total scheduled job invocations by job and result",
	}, []string{"job", "result"})

	lastRunTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bikecrawler_job_last_run_timestamp_seconds",
		Help: "Unix time of the last job invocation",
	}, []string{"job"})
)

// Job is a named unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Config holds the schedule.
type Config struct {
	// Interval between job invocations.
	Interval time.Duration

	// PollInterval is how often the loop wakes up to check the interval.
	PollInterval time.Duration

	// RunImmediately invokes the job once when Run starts instead of
	// waiting for the first interval.
	RunImmediately bool

	// ContinueOnError keeps the loop running after a failed invocation.
	// When false, the first job error is returned from Run.
	ContinueOnError bool
}

// DefaultConfig returns a once-a-minute schedule checked every second.
func DefaultConfig() Config {
	return Config{
		Interval:     time.Minute,
		PollInterval: time.Second,
	}
}

// Scheduler invokes a single job at a fixed interval.
type Scheduler struct {
	job    Job
	config Config
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a scheduler for job.
func New(job Job, cfg Config, logger zerolog.Logger) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("job is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0 (got %s)", cfg.Interval)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be > 0 (got %s)", cfg.PollInterval)
	}

	return &Scheduler{
		job:    job,
		config: cfg,
		now:    time.Now,
		logger: logging.NewLogger(logger, "scheduler").With().Str("job", job.Name()).Logger(),
	}, nil
}

// Run loops until ctx is done. It returns nil on cancellation and the job
// error if an invocation fails and ContinueOnError is off.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.config.Interval).
		Bool("run_immediately", s.config.RunImmediately).
		Msg("Starting execution")

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	lastRun := s.now()
	if s.config.RunImmediately {
		if stop, err := s.invoke(ctx); stop {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Stopping execution")
			return nil
		case <-ticker.C:
		}

		now := s.now()
		if now.Sub(lastRun) < s.config.Interval {
			continue
		}
		lastRun = now

		if stop, err := s.invoke(ctx); stop {
			return err
		}
	}
}

// invoke runs the job once and reports whether the loop must stop.
func (s *Scheduler) invoke(ctx context.Context) (bool, error) {
	name := s.job.Name()
	lastRunTimestamp.WithLabelValues(name).Set(float64(s.now().Unix()))

	err := s.job.Run(ctx)
	if err == nil {
		jobRunsTotal.WithLabelValues(name, "success").Inc()
		return false, nil
	}
	jobRunsTotal.WithLabelValues(name, "failure").Inc()

	if ctx.Err() != nil {
		s.logger.Info().Err(err).Msg("Job interrupted")
		return true, nil
	}

	if s.config.ContinueOnError {
		s.logger.Error().Err(err).Msg("Job failed, waiting for next run")
		return false, nil
	}

	return true, fmt.Errorf("job %s: %w", name, err)
}
