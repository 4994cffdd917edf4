// Package crawl implements the fetch-and-persist job: one crawl cycle walks
// every page of the bookingproposals query and archives each body unchanged.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/bike-crawler/pkg/archive"
	"github.com/Sternrassler/bike-crawler/pkg/logging"
	"github.com/Sternrassler/bike-crawler/pkg/pagination"
	"github.com/Sternrassler/bike-crawler/pkg/status"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// JobName identifies the job in scheduler logs.
const JobName = "crawl"

const reportTimeout = 5 * time.Second

// Prometheus metrics for crawl cycles.
var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bikecrawler_cycles_total",
		Help: "Total crawl cycles by result",
	}, []string{"result"})

	pagesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bikecrawler_pages_written_total",
		Help: "Total pages written to the archive",
	})

	bytesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bikecrawler_bytes_written_total",
		Help: "Total bytes written to the archive",
	})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bikecrawler_cycle_duration_seconds",
		Help:    "Crawl cycle duration in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})
)

// ErrInvalidJob is returned by New for an unusable configuration.
var ErrInvalidJob = errors.New("invalid crawl job")

// StatusReporter receives a summary after every cycle.
type StatusReporter interface {
	Report(ctx context.Context, hb status.Heartbeat) error
}

// Fetcher fetches pages of a fixed size. Page i is requested with offset
// i*Limit(), so the offsets always agree with the limit sent to the API.
type Fetcher interface {
	pagination.PageFetcher
	Limit() int
}

// Config holds the pagination of a cycle.
type Config struct {
	// Pages is the number of pages fetched per cycle.
	Pages int
}

// Cycle is the result of one crawl cycle.
type Cycle struct {
	ID         string
	Start      time.Time
	Files      []string
	Bytes      int64
	NonSuccess int
	Duration   time.Duration
}

// Job fetches and persists one full set of pages per invocation.
type Job struct {
	fetcher  Fetcher
	run      *archive.Run
	config   Config
	reporter StatusReporter
	now      func() time.Time
	logger   zerolog.Logger
}

// Option customises a Job.
type Option func(*Job)

// WithReporter sends a heartbeat after every cycle.
func WithReporter(r StatusReporter) Option {
	return func(j *Job) {
		j.reporter = r
	}
}

// WithClock replaces time.Now for cycle timestamps.
func WithClock(now func() time.Time) Option {
	return func(j *Job) {
		j.now = now
	}
}

// New creates a crawl job writing into run.
func New(fetcher Fetcher, run *archive.Run, cfg Config, logger zerolog.Logger, opts ...Option) (*Job, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher is required", ErrInvalidJob)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: run is required", ErrInvalidJob)
	}
	if cfg.Pages <= 0 {
		return nil, fmt.Errorf("%w: pages must be > 0 (got %d)", ErrInvalidJob, cfg.Pages)
	}
	if fetcher.Limit() <= 0 {
		return nil, fmt.Errorf("%w: limit must be > 0 (got %d)", ErrInvalidJob, fetcher.Limit())
	}

	j := &Job{
		fetcher: fetcher,
		run:     run,
		config:  cfg,
		now:     time.Now,
		logger:  logging.NewLogger(logger, "crawl"),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Name implements scheduler.Job.
func (j *Job) Name() string {
	return JobName
}

// Run implements scheduler.Job.
func (j *Job) Run(ctx context.Context) error {
	_, err := j.RunCycle(ctx)
	return err
}

// RunCycle fetches all pages in offset order and writes each one to the run
// directory. The first fetch or write error ends the cycle; pages after it
// are neither requested nor written.
func (j *Job) RunCycle(ctx context.Context) (Cycle, error) {
	cycle := Cycle{
		ID:    uuid.NewString(),
		Start: j.now(),
	}
	logger := j.logger.With().Str("cycle_id", cycle.ID).Logger()

	logger.Info().
		Time("cycle_time", cycle.Start).
		Int("pages", j.config.Pages).
		Msg("Starting one crawl")

	err := pagination.Walk(ctx, j.fetcher, j.config.Pages, j.fetcher.Limit(), func(p pagination.Page) error {
		path, err := j.run.WritePage(cycle.Start, p.Index, p.Body)
		if err != nil {
			return err
		}

		cycle.Files = append(cycle.Files, path)
		cycle.Bytes += int64(len(p.Body))
		if p.StatusCode < 200 || p.StatusCode > 299 {
			cycle.NonSuccess++
		}
		pagesWrittenTotal.Inc()
		bytesWrittenTotal.Add(float64(len(p.Body)))

		logger.Debug().
			Int("page", p.Index).
			Int("offset", p.Offset).
			Int("status_code", p.StatusCode).
			Str("path", path).
			Msg("Wrote page")
		return nil
	})
	cycle.Duration = time.Since(cycle.Start)
	cycleDuration.Observe(cycle.Duration.Seconds())

	if err != nil {
		cyclesTotal.WithLabelValues("failure").Inc()
		logger.Error().
			Err(err).
			Int("pages_written", len(cycle.Files)).
			Dur("duration", cycle.Duration).
			Msg("Crawl failed")
		j.report(ctx, cycle, err)
		return cycle, fmt.Errorf("crawl cycle %s: %w", cycle.ID, err)
	}

	cyclesTotal.WithLabelValues("success").Inc()
	event := logger.Info()
	if cycle.NonSuccess > 0 {
		event = logger.Warn().Int("non_success", cycle.NonSuccess)
	}
	event.
		Int("pages_written", len(cycle.Files)).
		Int64("bytes", cycle.Bytes).
		Dur("duration", cycle.Duration).
		Msg("One crawl done")

	j.report(ctx, cycle, nil)
	return cycle, nil
}

// report publishes the cycle summary. Failures are logged only; a missing
// heartbeat must never stop archiving.
func (j *Job) report(ctx context.Context, cycle Cycle, cycleErr error) {
	if j.reporter == nil {
		return
	}

	hb := status.Heartbeat{
		CycleID:    cycle.ID,
		RunDir:     j.run.Dir(),
		CycleTime:  cycle.Start,
		Pages:      len(cycle.Files),
		Bytes:      cycle.Bytes,
		NonSuccess: cycle.NonSuccess,
		Duration:   cycle.Duration,
	}
	if cycleErr != nil {
		hb.Error = cycleErr.Error()
	}

	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	if err := j.reporter.Report(reportCtx, hb); err != nil {
		j.logger.Warn().Err(err).Str("cycle_id", cycle.ID).Msg("Failed to report heartbeat")
	}
}
