package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/elonfeng/pulsebot/internal/metrics"
)

// Timer runs one job periodically on its own cron instance. A tick that
// arrives while the previous run is still going is dropped.
type Timer struct {
	name string
	job  func(ctx context.Context)
	log  zerolog.Logger

	mu       sync.Mutex
	interval time.Duration
	c        *cron.Cron
	entry    cron.EntryID
	runCtx   context.Context
	cancel   context.CancelFunc
	wrapped  cron.Job
	inflight sync.WaitGroup

	busy atomic.Bool
}

// NewTimer creates a stopped timer.
func NewTimer(name string, interval time.Duration, job func(ctx context.Context), log zerolog.Logger) *Timer {
	return &Timer{
		name:     name,
		job:      job,
		interval: interval,
		log:      log.With().Str("timer", name).Logger(),
	}
}

// skipIfBusy drops a run while the previous one is in flight.
func (t *Timer) skipIfBusy() cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		return cron.FuncJob(func() {
			if !t.busy.CompareAndSwap(false, true) {
				metrics.CyclesSkipped.WithLabelValues(t.name).Inc()
				t.log.Warn().Msg("previous cycle still running, skipping tick")
				return
			}
			defer t.busy.Store(false)
			j.Run()
		})
	}
}

// Start schedules the job and runs it once right away. Starting a running
// timer does nothing.
func (t *Timer) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil {
		return
	}

	cronLog := t.log.With().Str("component", "cron").Logger()
	logger := cron.PrintfLogger(&cronLog)
	t.c = cron.New(cron.WithLogger(logger))
	t.runCtx, t.cancel = context.WithCancel(ctx)

	runCtx := t.runCtx
	t.wrapped = cron.NewChain(cron.Recover(logger), t.skipIfBusy()).Then(cron.FuncJob(func() {
		start := time.Now()
		t.job(runCtx)
		metrics.CycleDuration.WithLabelValues(t.name).Observe(time.Since(start).Seconds())
	}))
	t.entry = t.c.Schedule(cron.Every(t.interval), t.wrapped)
	t.c.Start()

	wrapped := t.wrapped
	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		wrapped.Run()
	}()
	t.log.Info().Dur("interval", t.interval).Msg("timer started")
}

// Stop cancels the running cycle's context and waits for it to return, or
// for ctx to expire. It is safe to call mid-cycle and on a stopped timer.
func (t *Timer) Stop(ctx context.Context) {
	t.mu.Lock()
	c, cancel := t.c, t.cancel
	t.c, t.cancel, t.wrapped = nil, nil, nil
	t.mu.Unlock()
	if c == nil {
		return
	}

	cancel()
	cronDone := c.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		t.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.log.Info().Msg("timer stopped")
	case <-ctx.Done():
		t.log.Warn().Msg("timer stop timed out with a cycle in flight")
	}
}

// SetInterval changes the period. A running timer is rescheduled so the
// next tick comes one new interval from now.
func (t *Timer) SetInterval(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interval = d
	if t.c == nil {
		return
	}
	t.c.Remove(t.entry)
	t.entry = t.c.Schedule(cron.Every(d), t.wrapped)
	t.log.Info().Dur("interval", d).Msg("interval changed")
}

// Interval returns the current period.
func (t *Timer) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// Running reports whether the timer is started.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c != nil
}

// Next returns when the next tick is due, zero when stopped.
func (t *Timer) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c == nil {
		return time.Time{}
	}
	return t.c.Entry(t.entry).Next
}
