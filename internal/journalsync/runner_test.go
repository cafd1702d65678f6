package journalsync

import (
	"context"
	"testing"
	"time"
)

type countingCycler struct {
	calls chan struct{}
}

func (c *countingCycler) RunSyncCycle(ctx context.Context) (Result, error) {
	c.calls <- struct{}{}
	return Result{}, nil
}

func waitForCall(t *testing.T, calls <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestRunnerSyncsImmediatelyAndOnTrigger(t *testing.T) {
	cycler := &countingCycler{calls: make(chan struct{}, 8)}
	runner := NewRunner(cycler, RunnerOptions{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	waitForCall(t, cycler.calls, "initial cycle")
	if !runner.Trigger() {
		t.Fatalf("expected trigger to be queued")
	}
	waitForCall(t, cycler.calls, "triggered cycle")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runner returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not stop after cancel")
	}
}

func TestRunnerSetIntervalRestartsTimer(t *testing.T) {
	cycler := &countingCycler{calls: make(chan struct{}, 8)}
	runner := NewRunner(cycler, RunnerOptions{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = runner.Run(ctx) }()

	waitForCall(t, cycler.calls, "initial cycle")
	runner.SetInterval(10*time.Millisecond, 0)
	waitForCall(t, cycler.calls, "cycle after interval change")
	if got := runner.Interval(); got != 10*time.Millisecond {
		t.Fatalf("expected interval 10ms, got %s", got)
	}
}

func TestRunnerIgnoresNonPositiveInterval(t *testing.T) {
	runner := NewRunner(&countingCycler{calls: make(chan struct{}, 1)}, RunnerOptions{})
	if got := runner.Interval(); got != 30*time.Minute {
		t.Fatalf("expected default interval 30m, got %s", got)
	}
	runner.SetInterval(0, 0.5)
	if got := runner.Interval(); got != 30*time.Minute {
		t.Fatalf("expected interval unchanged, got %s", got)
	}
}

func TestClampJitterRatio(t *testing.T) {
	if got := clampJitterRatio(-0.1); got != 0 {
		t.Fatalf("expected clamp to 0, got %f", got)
	}
	if got := clampJitterRatio(1.5); got != 1 {
		t.Fatalf("expected clamp to 1, got %f", got)
	}
	if got := clampJitterRatio(0.4); got != 0.4 {
		t.Fatalf("expected passthrough 0.4, got %f", got)
	}
}

func TestJitteredIntervalWithSample(t *testing.T) {
	base := 10 * time.Second
	if got := jitteredIntervalWithSample(base, 0, 0.2); got != base {
		t.Fatalf("expected no jitter interval %s, got %s", base, got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 0); got != 8*time.Second {
		t.Fatalf("expected min jitter interval 8s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 0.5); got != base {
		t.Fatalf("expected midpoint jitter interval %s, got %s", base, got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 1); got != 12*time.Second {
		t.Fatalf("expected max jitter interval 12s, got %s", got)
	}
	if got := jitteredIntervalWithSample(0, 0.2, 1); got != 0 {
		t.Fatalf("expected zero base to stay zero, got %s", got)
	}
}
