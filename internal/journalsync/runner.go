package journalsync

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// Cycler runs one sync cycle. *Syncer implements it.
type Cycler interface {
	RunSyncCycle(ctx context.Context) (Result, error)
}

type RunnerOptions struct {
	Interval time.Duration
	// Jitter spreads each wait by up to ±Jitter of Interval (0.0-1.0).
	Jitter float64
	// Timeout bounds one cycle. Zero leaves it to the parent context.
	Timeout time.Duration
	Logger  Logger
}

// Runner drives a Cycler from a jittered timer and from manual triggers.
// Cycles never overlap: the timer and triggers share one goroutine.
type Runner struct {
	cycler  Cycler
	timeout time.Duration
	logger  Logger

	trigger chan struct{}
	reset   chan struct{}

	mu       sync.Mutex
	interval time.Duration
	jitter   float64
}

func NewRunner(cycler Cycler, opts RunnerOptions) *Runner {
	interval := opts.Interval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Runner{
		cycler:   cycler,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		trigger:  make(chan struct{}, 1),
		reset:    make(chan struct{}, 1),
		interval: interval,
		jitter:   clampJitterRatio(opts.Jitter),
	}
}

// Trigger queues a cycle. It reports false when one is already queued.
func (r *Runner) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// SetInterval changes the period and restarts the pending wait.
func (r *Runner) SetInterval(interval time.Duration, jitter float64) {
	if interval <= 0 {
		return
	}
	r.mu.Lock()
	r.interval = interval
	r.jitter = clampJitterRatio(jitter)
	r.mu.Unlock()
	select {
	case r.reset <- struct{}{}:
	default:
	}
}

func (r *Runner) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// Run syncs once immediately and then on every timer tick or trigger until
// ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	r.runOnce(ctx)

	timer := time.NewTimer(r.nextDelay(rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logf("sync runner stopping: %v", ctx.Err())
			return nil
		case <-r.reset:
			stopTimer(timer)
			timer.Reset(r.nextDelay(rng.Float64()))
		case <-r.trigger:
			r.runOnce(ctx)
			stopTimer(timer)
			timer.Reset(r.nextDelay(rng.Float64()))
		case <-timer.C:
			r.runOnce(ctx)
			timer.Reset(r.nextDelay(rng.Float64()))
		}
	}
}

func (r *Runner) runOnce(parent context.Context) {
	ctx := parent
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, r.timeout)
		defer cancel()
	}
	if _, err := r.cycler.RunSyncCycle(ctx); errors.Is(err, ErrCycleInProgress) {
		r.logf("sync skipped: %v", err)
	}
}

func (r *Runner) nextDelay(sample float64) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return jitteredIntervalWithSample(r.interval, r.jitter, sample)
}

func (r *Runner) logf(format string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Printf(format, args...)
}

func stopTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
