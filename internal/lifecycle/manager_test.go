package lifecycle

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

func TestManager_ContextCancelRunsShutdown(t *testing.T) {
	mgr := NewManager()
	steps := make([]string, 0, 4)
	var mu sync.Mutex
	appendStep := func(v string) {
		mu.Lock()
		steps = append(steps, v)
		mu.Unlock()
	}

	mgr.AddRun("relay", func(ctx context.Context) error {
		<-ctx.Done()
		appendStep("run-relay-stopped")
		return nil
	})
	mgr.AddShutdown("close-db", func(context.Context) error {
		appendStep("shutdown-db")
		return nil
	})

	parent, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- mgr.StartAndWait(parent)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("StartAndWait should not fail: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !slices.Contains(steps, "run-relay-stopped") {
		t.Fatalf("missing run stop marker: %#v", steps)
	}
	if !slices.Contains(steps, "shutdown-db") {
		t.Fatalf("missing shutdown marker: %#v", steps)
	}
}

func TestManager_RunErrorTriggersShutdown(t *testing.T) {
	mgr := NewManager()
	runErr := errors.New("boom")
	shutdownCalled := 0

	mgr.AddRun("relay", func(context.Context) error {
		return runErr
	})
	mgr.AddShutdown("close-db", func(context.Context) error {
		shutdownCalled++
		return nil
	})

	err := mgr.StartAndWait(context.Background())
	if !errors.Is(err, runErr) {
		t.Fatalf("expected run error, got %v", err)
	}
	if shutdownCalled != 1 {
		t.Fatalf("expected shutdown called once, got %d", shutdownCalled)
	}
}

func TestManager_ShutdownRunsInReverseOrder(t *testing.T) {
	mgr := NewManager()
	var mu sync.Mutex
	order := make([]string, 0, 3)
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	mgr.AddShutdown("db", record("db"))
	mgr.AddShutdown("host", record("host"))
	mgr.AddShutdown("channel", record("channel"))

	if err := mgr.StartAndWait(context.Background()); err != nil {
		t.Fatalf("StartAndWait failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"channel", "host", "db"}
	if !slices.Equal(order, want) {
		t.Fatalf("expected reverse teardown %v, got %v", want, order)
	}
}

func TestManager_ShutdownErrorsAreJoined(t *testing.T) {
	mgr := NewManager()
	errA := errors.New("a failed")
	errB := errors.New("b failed")

	mgr.AddShutdown("a", func(context.Context) error { return errA })
	mgr.AddShutdown("b", func(context.Context) error { return errB })

	err := mgr.StartAndWait(context.Background())
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected both shutdown errors, got %v", err)
	}
}
