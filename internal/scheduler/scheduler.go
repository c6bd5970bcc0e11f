// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

// Package scheduler runs the periodic jobs on cron expressions. Each job
// gets its own goroutine that sleeps until the next tick; a run overrunning
// its interval simply delays the next tick, runs never overlap themselves.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/our-city-app/plugin-gipod/internal/logging"
)

// Job is one scheduled unit of work.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler runs jobs until its context is canceled.
type Scheduler struct {
	jobs []Job
	wg   sync.WaitGroup
}

// New creates a scheduler over the given jobs. Schedules must already be
// validated; an invalid expression makes the job never fire.
func New(jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs}
}

// Start launches one loop per job and returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			s.runLoop(ctx, job)
		}(job)
	}
}

// Wait blocks until all job loops have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, job Job) {
	for {
		next, err := gronx.NextTickAfter(job.Schedule, time.Now().UTC(), false)
		if err != nil {
			logging.Error().Err(err).Str("job", job.Name).Str("schedule", job.Schedule).Msg("Cannot compute next tick, job disabled")
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		logging.Info().Str("job", job.Name).Msg("Scheduled job started")
		started := time.Now()
		if err := job.Run(ctx); err != nil {
			logging.Error().Err(err).Str("job", job.Name).Msg("Scheduled job failed")
		} else {
			logging.Info().Str("job", job.Name).Dur("took", time.Since(started)).Msg("Scheduled job finished")
		}
	}
}
