// Package worker runs the background side of the ledger: the commission
// fan-out pool and the periodic jobs driven by gocron.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// JobProcessor settles one commission outbox job.
type JobProcessor interface {
	ProcessJob(ctx context.Context, jobID int64) error
}

// Dispatcher runs commission jobs on a bounded worker pool. A job id that is
// already queued or running is not submitted again.
type Dispatcher struct {
	pool    *workerpool.WorkerPool
	proc    JobProcessor
	ctx     context.Context
	timeout time.Duration

	mu       sync.Mutex
	inflight map[int64]struct{}
}

// NewDispatcher creates a Dispatcher with size workers. Jobs run under ctx,
// each bounded by timeout.
func NewDispatcher(ctx context.Context, size int, timeout time.Duration, proc JobProcessor) *Dispatcher {
	if size < 1 {
		size = 1
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		pool:     workerpool.New(size),
		proc:     proc,
		ctx:      ctx,
		timeout:  timeout,
		inflight: make(map[int64]struct{}),
	}
}

// Dispatch implements service.CommissionDispatcher. It never blocks.
func (d *Dispatcher) Dispatch(jobID int64) {
	d.mu.Lock()
	if _, ok := d.inflight[jobID]; ok {
		d.mu.Unlock()
		return
	}
	d.inflight[jobID] = struct{}{}
	d.mu.Unlock()

	d.pool.Submit(func() {
		defer d.release(jobID)
		if d.ctx.Err() != nil {
			return
		}
		ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
		defer cancel()
		// Failures are rescheduled by the processor; the sweep picks them up.
		if err := d.proc.ProcessJob(ctx, jobID); err != nil {
			log.Warn().Err(err).Int64("job_id", jobID).Msg("Commission job failed")
		}
	})
}

func (d *Dispatcher) release(jobID int64) {
	d.mu.Lock()
	delete(d.inflight, jobID)
	d.mu.Unlock()
}

// Backlog returns the number of jobs waiting for a worker.
func (d *Dispatcher) Backlog() int {
	return d.pool.WaitingQueueSize()
}

// Stop waits for queued jobs to finish and stops the workers.
func (d *Dispatcher) Stop() {
	d.pool.StopWait()
}

// DueLister lists commission jobs whose next attempt is due.
type DueLister interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

// Sweeper re-dispatches pending jobs: ones whose first dispatch was lost
// with a crash and ones waiting out a retry backoff.
type Sweeper struct {
	jobs     DueLister
	dispatch func(jobID int64)
	clock    clockwork.Clock
	batch    int
}

// NewSweeper creates a Sweeper that hands up to batch due jobs per run to dispatch.
func NewSweeper(jobs DueLister, dispatch func(jobID int64), clock clockwork.Clock, batch int) *Sweeper {
	if batch < 1 {
		batch = 100
	}
	return &Sweeper{jobs: jobs, dispatch: dispatch, clock: clock, batch: batch}
}

// Sweep dispatches every due job and returns how many it found.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := s.jobs.ListDue(ctx, s.clock.Now(), s.batch)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.dispatch(id)
	}
	if len(ids) > 0 {
		log.Debug().Int("jobs", len(ids)).Msg("Commission sweep dispatched jobs")
	}
	return len(ids), nil
}
