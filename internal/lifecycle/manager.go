package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"
)

// DefaultShutdownGrace bounds how long the shutdown jobs may take in total.
const DefaultShutdownGrace = 10 * time.Second

type job struct {
	name string
	run  func(context.Context) error
}

// Manager runs long-lived jobs until the first failure or signal, then
// executes shutdown jobs in reverse registration order.
type Manager struct {
	logger *slog.Logger
	grace  time.Duration

	mu           sync.Mutex
	runJobs      []job
	shutdownJobs []job
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithShutdownGrace(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.grace = d
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		grace:  DefaultShutdownGrace,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddRun registers a long-lived job. It must return when ctx is cancelled.
func (m *Manager) AddRun(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.runJobs = append(m.runJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

// AddShutdown registers a teardown step. Steps run last-registered first,
// so dependents close before their dependencies.
func (m *Manager) AddShutdown(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.shutdownJobs = append(m.shutdownJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

// StartAndWait blocks until every run job returns, one of them fails, or a
// listed signal arrives, then runs the shutdown jobs.
func (m *Manager) StartAndWait(parent context.Context, sig ...os.Signal) error {
	ctx := parent
	stopSignal := func() {}
	if len(sig) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(parent, sig...)
		stopSignal = stop
	}
	defer stopSignal()

	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	runJobs := m.snapshot(&m.runJobs)
	shutdownJobs := m.snapshot(&m.shutdownJobs)

	errCh := make(chan error, len(runJobs))
	var wg sync.WaitGroup
	for _, j := range runJobs {
		j := j
		wg.Add(1)
		m.logger.Debug("run job started", "job", j.name)
		go func() {
			defer wg.Done()
			err := j.run(runCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("run job failed", "job", j.name, "err", err)
				errCh <- err
				cancelRuns()
				return
			}
			m.logger.Debug("run job stopped", "job", j.name)
		}()
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		cancelRuns()
	case err := <-errCh:
		runErr = err
		cancelRuns()
	case <-doneCh:
	}

	<-doneCh

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), m.grace)
	defer cancelShutdown()

	var shutdownErr error
	for i := len(shutdownJobs) - 1; i >= 0; i-- {
		j := shutdownJobs[i]
		if err := j.run(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("shutdown job failed", "job", j.name, "err", err)
			shutdownErr = errors.Join(shutdownErr, err)
			continue
		}
		m.logger.Debug("shutdown job finished", "job", j.name)
	}
	return errors.Join(runErr, shutdownErr)
}

func (m *Manager) snapshot(src *[]job) []job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]job, len(*src))
	copy(out, *src)
	return out
}
