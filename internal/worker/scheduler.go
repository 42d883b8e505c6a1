package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Task is a periodic job.
type Task struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Scheduler runs Tasks on fixed intervals. A task still running when its
// next tick arrives is skipped for that tick.
type Scheduler struct {
	sched  gocron.Scheduler
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler registers tasks on a gocron scheduler driven by clock.
// Tasks with a non-positive interval are left out.
func NewScheduler(clock clockwork.Clock, tasks ...Task) (*Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{sched: sched, ctx: ctx, cancel: cancel}
	for _, t := range tasks {
		if t.Every <= 0 {
			log.Info().Str("task", t.Name).Msg("Scheduled task disabled")
			continue
		}
		t := t
		_, err := sched.NewJob(
			gocron.DurationJob(t.Every),
			gocron.NewTask(func() { s.run(t) }),
			gocron.WithName(t.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to schedule %s: %w", t.Name, err)
		}
	}
	return s, nil
}

func (s *Scheduler) run(t Task) {
	start := time.Now()
	if err := t.Run(s.ctx); err != nil {
		log.Error().Err(err).Str("task", t.Name).Msg("Scheduled task failed")
		return
	}
	log.Debug().Str("task", t.Name).Dur("took", time.Since(start)).Msg("Scheduled task finished")
}

// Start begins running tasks.
func (s *Scheduler) Start() {
	s.sched.Start()
}

// Shutdown cancels running tasks and stops the scheduler.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	return s.sched.Shutdown()
}
