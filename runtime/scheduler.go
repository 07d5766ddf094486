// Package runtime runs the daemon's background work.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/shenzihan666/search/llm"
)

// Prober probes every configured provider. *service.Service implements it.
type Prober interface {
	TestAll(ctx context.Context) (map[string]llm.ConnectionTestResult, error)
}

// sweepTimeout bounds a single probe sweep.
const sweepTimeout = 5 * time.Minute

// ProbeScheduler probes providers on a schedule so their health is known
// before anyone queries them.
type ProbeScheduler struct {
	prober   Prober
	schedule Schedule
	spec     string
	now      func() time.Time
	logger   zerolog.Logger
}

// NewProbeScheduler creates a scheduler from a cron expression or duration.
func NewProbeScheduler(prober Prober, spec string, logger zerolog.Logger) (*ProbeScheduler, error) {
	if prober == nil {
		return nil, fmt.Errorf("prober cannot be nil")
	}
	sched, err := ParseSchedule(spec)
	if err != nil {
		return nil, fmt.Errorf("probe schedule %q: %w", spec, err)
	}
	return newProbeScheduler(prober, sched, spec, logger), nil
}

func newProbeScheduler(prober Prober, sched Schedule, spec string, logger zerolog.Logger) *ProbeScheduler {
	return &ProbeScheduler{
		prober:   prober,
		schedule: sched,
		spec:     spec,
		now:      time.Now,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start runs an initial sweep and then one per scheduled activation until
// ctx is cancelled. It blocks.
func (s *ProbeScheduler) Start(ctx context.Context) {
	s.logger.Info().Str("schedule", s.spec).Msg("Starting probe scheduler")

	s.sweep(ctx)

	for {
		next := s.schedule.Next(s.now())
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		s.logger.Debug().Time("next", next).Msg("Scheduler: waiting for next probe sweep")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("Scheduler stopped: context cancelled")
			return
		case <-timer.C:
			s.sweep(ctx)
		}
	}
}

func (s *ProbeScheduler) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	start := s.now()
	results, err := s.prober.TestAll(sweepCtx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Probe sweep failed")
		return
	}

	for id, res := range results {
		if !res.Success {
			s.logger.Warn().Str("provider", id).Str("message", res.Message).Msg("Provider probe failed")
		}
	}
	s.logger.Info().
		Int("providers", len(results)).
		Dur("elapsed", time.Since(start)).
		Msg("Probe sweep finished")
}
