// Package scheduler runs the worker's periodic jobs. Every job has its own
// interval and is guarded by a distributed lock so only one worker instance
// runs it at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/infrastructure/observability"
	"github.com/cassiomorais/billingsync/internal/lock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	minLockTTL = 30 * time.Second
	// lockWait is short so a busy job is skipped rather than queued.
	lockWait = 10 * time.Millisecond
)

// Job is a unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func NewJobFunc(name string, fn func(ctx context.Context) error) JobFunc {
	return JobFunc{name: name, fn: fn}
}

func (j JobFunc) Name() string                  { return j.name }
func (j JobFunc) Run(ctx context.Context) error { return j.fn(ctx) }

// Entry is a registered job with its cadence.
type Entry struct {
	Job      Job
	Interval time.Duration
}

// Registry tracks registered jobs in the order they were added.
type Registry struct {
	entries []Entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds job to run every interval. Nil jobs and non-positive
// intervals are ignored.
func (r *Registry) Register(job Job, interval time.Duration) {
	if job == nil || interval <= 0 {
		return
	}
	r.entries = append(r.entries, Entry{Job: job, Interval: interval})
}

// Entries returns a copy of the registered jobs.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Locker hands out job locks.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (*lock.Scoped, error)
}

// Service executes registered jobs until its context is cancelled.
type Service struct {
	registry *Registry
	locks    Locker
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

func NewService(registry *Registry, locks Locker, logger zerolog.Logger, metrics *observability.Metrics) (*Service, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry required")
	}
	if locks == nil {
		return nil, fmt.Errorf("locker required")
	}
	return &Service{
		registry: registry,
		locks:    locks,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		metrics:  metrics,
	}, nil
}

// Run starts one loop per job and blocks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, e := range s.registry.Entries() {
		g.Go(func() error {
			s.loop(gCtx, e)
			return nil
		})
	}
	s.logger.Info().Int("jobs", len(s.registry.Entries())).Msg("Scheduler started")
	err := g.Wait()
	s.logger.Info().Msg("Scheduler stopped")
	return err
}

func (s *Service) loop(ctx context.Context, e Entry) {
	s.RunOnce(ctx, e)

	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, e)
		}
	}
}

// RunOnce runs the job if no other instance holds its lock. It returns the
// result label recorded in metrics: success, failure or skipped.
func (s *Service) RunOnce(ctx context.Context, e Entry) string {
	name := e.Job.Name()
	log := s.logger.With().Str("job", name).Logger()

	ttl := e.Interval
	if ttl < minLockTTL {
		ttl = minLockTTL
	}
	held, err := s.locks.Acquire(ctx, lock.JobKey(name), ttl, lockWait)
	if err != nil {
		if errors.Is(err, domainErrors.ErrLockTimeout) {
			log.Debug().Msg("Job running on another instance, skipping")
		} else {
			log.Error().Err(err).Msg("Failed to acquire job lock")
		}
		s.record(name, "skipped", 0)
		return "skipped"
	}
	defer held.Release(ctx)

	stop := s.heartbeat(ctx, held, ttl, log)
	defer stop()

	start := time.Now()
	err = e.Job.Run(ctx)
	elapsed := time.Since(start)

	if err != nil {
		log.Error().Err(err).Dur("duration", elapsed).Msg("Job failed")
		s.record(name, "failure", elapsed)
		return "failure"
	}
	log.Debug().Dur("duration", elapsed).Msg("Job completed")
	s.record(name, "success", elapsed)
	return "success"
}

// heartbeat keeps the job lock alive while a run outlasts half its TTL.
func (s *Service) heartbeat(ctx context.Context, held *lock.Scoped, ttl time.Duration, log zerolog.Logger) func() {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := held.Extend(ctx, ttl); err != nil {
					log.Warn().Err(err).Msg("Failed to extend job lock")
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

func (s *Service) record(job, result string, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.JobRuns.WithLabelValues(job, result).Inc()
	if result != "skipped" {
		s.metrics.JobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
	}
}
