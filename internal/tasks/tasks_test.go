package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunnerExecutesTasks(t *testing.T) {
	r := NewRunner(2, 8)
	var ran atomic.Int64
	for i := 0; i < 5; i++ {
		if !r.Submit(func(ctx context.Context) { ran.Add(1) }) {
			t.Fatal("submit refused")
		}
	}
	r.Close()
	if got := ran.Load(); got != 5 {
		t.Fatalf("ran %d tasks, want 5", got)
	}
}

func TestRunnerRejectsAfterClose(t *testing.T) {
	r := NewRunner(1, 1)
	r.Close()
	if r.Submit(func(ctx context.Context) {}) {
		t.Fatal("submit accepted after close")
	}
}

func TestRunnerDropsWhenQueueFull(t *testing.T) {
	r := NewRunner(1, 1)
	defer r.Close()

	block := make(chan struct{})
	r.Submit(func(ctx context.Context) { <-block })

	// Give the worker a moment to pick up the blocking task, then fill the
	// queue and overflow it.
	time.Sleep(20 * time.Millisecond)
	r.Submit(func(ctx context.Context) {})

	dropped := false
	for i := 0; i < 10; i++ {
		if !r.Submit(func(ctx context.Context) {}) {
			dropped = true
			break
		}
	}
	close(block)
	if !dropped {
		t.Fatal("full queue never dropped a task")
	}
}

func TestRunnerSurvivesPanic(t *testing.T) {
	r := NewRunner(1, 4)
	var ran atomic.Bool
	r.Submit(func(ctx context.Context) { panic("boom") })
	r.Submit(func(ctx context.Context) { ran.Store(true) })
	r.Close()
	if !ran.Load() {
		t.Fatal("worker died after panicking task")
	}
}
