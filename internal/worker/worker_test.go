package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type countingProcessor struct {
	mu      sync.Mutex
	calls   map[int64]int
	release chan struct{}
	err     error
}

func newCountingProcessor() *countingProcessor {
	return &countingProcessor{calls: make(map[int64]int)}
}

func (p *countingProcessor) ProcessJob(ctx context.Context, jobID int64) error {
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[jobID]++
	return p.err
}

func (p *countingProcessor) count(id int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

// TestDispatcherRunsEachJobProperty dispatches a random multiset of ids and
// checks every distinct id ran at least once.
func TestDispatcherRunsEachJobProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ids := rapid.SliceOfN(rapid.Int64Range(1, 20), 1, 50).Draw(t, "ids")
		proc := newCountingProcessor()
		d := NewDispatcher(context.Background(), rapid.IntRange(1, 4).Draw(t, "workers"), time.Second, proc)

		for _, id := range ids {
			d.Dispatch(id)
		}
		d.Stop()

		for _, id := range ids {
			if proc.count(id) == 0 {
				t.Fatalf("job %d never ran", id)
			}
		}
	})
}

func TestDispatcher_SkipsInflightDuplicates(t *testing.T) {
	proc := newCountingProcessor()
	proc.release = make(chan struct{})
	d := NewDispatcher(context.Background(), 1, time.Second, proc)

	d.Dispatch(7)
	d.Dispatch(7)
	d.Dispatch(7)
	close(proc.release)
	d.Stop()

	assert.Equal(t, 1, proc.count(7))
}

func TestDispatcher_FailureDoesNotStopPool(t *testing.T) {
	proc := newCountingProcessor()
	proc.err = errors.New("store unavailable")
	d := NewDispatcher(context.Background(), 2, time.Second, proc)

	d.Dispatch(1)
	d.Dispatch(2)
	d.Stop()

	assert.Equal(t, 1, proc.count(1))
	assert.Equal(t, 1, proc.count(2))
}

func TestDispatcher_CancelledContextSkipsJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	proc := newCountingProcessor()
	d := NewDispatcher(ctx, 1, time.Second, proc)

	d.Dispatch(1)
	d.Stop()

	assert.Equal(t, 0, proc.count(1))
}

type fakeLister struct {
	ids   []int64
	err   error
	asked time.Time
	limit int
}

func (f *fakeLister) ListDue(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	f.asked, f.limit = now, limit
	return f.ids, f.err
}

func TestSweeper_DispatchesDueJobs(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC))
	lister := &fakeLister{ids: []int64{3, 4, 5}}
	var got []int64
	s := NewSweeper(lister, func(id int64) { got = append(got, id) }, clock, 0)

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{3, 4, 5}, got)
	assert.Equal(t, clock.Now(), lister.asked)
	assert.Equal(t, 100, lister.limit)

	lister.err = errors.New("down")
	_, err = s.Sweep(context.Background())
	assert.Error(t, err)
}

func TestScheduler_RunsOnFakeClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var runs atomic.Int32
	done := make(chan struct{}, 4)

	s, err := NewScheduler(clock,
		Task{Name: "sweep", Every: time.Minute, Run: func(ctx context.Context) error {
			runs.Add(1)
			done <- struct{}{}
			return nil
		}},
		Task{Name: "disabled", Every: 0, Run: func(ctx context.Context) error {
			t.Error("disabled task ran")
			return nil
		}},
	)
	require.NoError(t, err)
	s.Start()
	defer func() { _ = s.Shutdown() }()

	clock.BlockUntil(1)
	clock.Advance(time.Minute)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not run")
	}
	assert.GreaterOrEqual(t, runs.Load(), int32(1))
}
