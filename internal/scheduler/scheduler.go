package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Task is one run of a periodic job.
type Task func(ctx context.Context) error

// Job binds a Task to a cron expression with a seconds field.
type Job struct {
	Name string
	Cron string
	Run  Task
}

// Scheduler runs independent cron jobs. Runs of the same job may overlap and
// a failing run never affects later ones.
type Scheduler struct {
	scheduler *gocron.Scheduler
	log       zerolog.Logger
	timeout   time.Duration
}

// New creates a Scheduler evaluating cron expressions in loc. Every run gets
// a context bounded by timeout.
func New(loc *time.Location, timeout time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(loc),
		log:       log.With().Str("component", "scheduler").Logger(),
		timeout:   timeout,
	}
}

// Register schedules jobs. It does not start the scheduler.
func (s *Scheduler) Register(jobs ...Job) error {
	for _, job := range jobs {
		job := job
		_, err := s.scheduler.CronWithSeconds(job.Cron).Tag(job.Name).Do(func() {
			s.run(job)
		})
		if err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Cron, err)
		}
		s.log.Info().Str("job", job.Name).Str("cron", job.Cron).Msg("job scheduled")
	}
	return nil
}

func (s *Scheduler) run(job Job) {
	log := s.log.With().Str("job", job.Name).Str("run", uuid.NewString()).Logger()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("job panicked")
		}
	}()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		log.Error().Err(err).Dur("took", time.Since(start)).Msg("job failed")
		return
	}
	log.Debug().Dur("took", time.Since(start)).Msg("job completed")
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
