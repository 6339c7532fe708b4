package safego

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestGroupGoRestartsAfterPanic(t *testing.T) {
	var calls atomic.Int32
	group, ctx := errgroup.WithContext(context.Background())
	GroupGo(ctx, group, "flaky", func(context.Context) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected one restart, got %d calls", got)
	}
}

func TestGroupGoPropagatesError(t *testing.T) {
	want := errors.New("listener closed")
	group, ctx := errgroup.WithContext(context.Background())
	GroupGo(ctx, group, "server", func(context.Context) error { return want })
	GroupGo(ctx, group, "waiter", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	if err := group.Wait(); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestGroupGoStopsRestartingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var group errgroup.Group
	var calls atomic.Int32
	GroupGo(ctx, &group, "always-panics", func(context.Context) error {
		calls.Add(1)
		panic("again")
	})
	time.Sleep(50 * time.Millisecond)
	cancel()

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("group did not stop after cancel")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single run inside the first backoff, got %d", calls.Load())
	}
}
