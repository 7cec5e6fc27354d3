package workerhealth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Status is the reachability of the privileged worker process as seen by
// the UI runtime.
type Status string

const (
	// StatusChecking is the initial state before the first probe settles.
	StatusChecking Status = "checking"
	StatusOnline   Status = "online"
	StatusOffline  Status = "offline"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultProbeTimeout = 3 * time.Second
)

// Prober performs one reachability check. A nil error means the worker
// answered; any error counts as unreachable.
type Prober func(ctx context.Context) error

// HTTPProber probes GET <baseURL>/health and treats any 2xx as healthy.
func HTTPProber(baseURL string, client *http.Client) Prober {
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/health"
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("health probe returned %d", resp.StatusCode)
		}
		return nil
	}
}

// Monitor tracks worker reachability by probing on a fixed period. Each
// probe gets its own timeout so one slow check cannot stall the next tick.
type Monitor struct {
	probe    Prober
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	onChange func(Status)

	mu      sync.Mutex
	status  Status
	enabled bool
	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

type Option func(*Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithOnChange registers a callback fired on every status transition. The
// callback runs on the monitor's polling goroutine and must not block.
func WithOnChange(fn func(Status)) Option {
	return func(m *Monitor) { m.onChange = fn }
}

func NewMonitor(probe Prober, opts ...Option) *Monitor {
	m := &Monitor{
		probe:    probe,
		interval: defaultPollInterval,
		timeout:  defaultProbeTimeout,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		status:   StatusChecking,
		enabled:  true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetOnChange replaces the transition callback. See WithOnChange.
func (m *Monitor) SetOnChange(fn func(Status)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Status returns the last settled state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Poll runs a single probe and settles the status. Probe errors never
// propagate; every failure maps to offline.
func (m *Monitor) Poll(ctx context.Context) Status {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return m.setStatus(StatusOffline)
	}
	probe := m.probe
	timeout := m.timeout
	m.mu.Unlock()

	if probe == nil {
		return m.setStatus(StatusOffline)
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := runProbe(probeCtx, probe)
	if err != nil {
		m.logger.Debug("worker probe failed", "err", err)
		return m.setStatus(StatusOffline)
	}
	return m.setStatus(StatusOnline)
}

// Start launches the polling loop. The first probe runs immediately; the
// loop stops when ctx is cancelled or the monitor is disabled.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if !m.enabled || m.done != nil {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.runCtx = ctx
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.loop(loopCtx, done)
}

// SetEnabled toggles probing. Disabling stops the loop before returning and
// forces the status to offline; enabling restarts the loop if Start ran.
func (m *Monitor) SetEnabled(enabled bool) {
	m.mu.Lock()
	if m.enabled == enabled {
		m.mu.Unlock()
		return
	}
	m.enabled = enabled
	if enabled {
		m.status = StatusChecking
		runCtx := m.runCtx
		m.mu.Unlock()
		if runCtx != nil {
			m.Start(runCtx)
		}
		return
	}
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	m.setStatus(StatusOffline)
}

// Stop halts the polling loop without changing the status.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	m.Poll(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

func (m *Monitor) setStatus(next Status) Status {
	m.mu.Lock()
	prev := m.status
	m.status = next
	fn := m.onChange
	m.mu.Unlock()

	if prev != next {
		m.logger.Info("worker status changed", "from", prev, "to", next)
		if fn != nil {
			fn(next)
		}
	}
	return next
}

func runProbe(ctx context.Context, probe Prober) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return probe(ctx)
}
