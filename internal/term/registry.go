package term

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"taskdeck/client/internal/logging"
)

const (
	defaultCols = 100
	defaultRows = 30
)

// HistorySource supplies replay lines for a project, typically from the
// transcript store.
type HistorySource interface {
	TailLines(projectPath string, limit int) ([]string, error)
}

// OutputRecorder receives live output for persistence.
type OutputRecorder interface {
	Record(projectPath, data string) error
}

// Session is one cached terminal entry. At most one exists per project path.
type Session struct {
	ProjectPath    string
	Handle         string
	Cols           int
	Rows           int
	HistoryApplied bool
	Running        bool

	buffer *Buffer
	detach func()
}

// Buffer exposes the session's display buffer.
func (s *Session) Buffer() *Buffer {
	return s.buffer
}

// Registry is the process-scoped owner of terminal sessions. All mutation of
// the cache and the active-project pointer goes through its methods. Host
// events are dispatched by project path, so every cached session keeps
// receiving output; the active pointer only decides which buffer drives the
// mounted display.
type Registry struct {
	host     Host
	logger   *slog.Logger
	history  HistorySource
	recorder OutputRecorder

	program      string
	cols         int
	rows         int
	historyLimit int

	// startMu serializes Start calls end to end so two racing starts for
	// one project can never both spawn.
	startMu    sync.Mutex
	mu         sync.Mutex
	entries    map[string]*Session
	active     string
	hostCancel func()
	closed     bool
}

type RegistryOption func(*Registry)

// WithGeometry overrides the default 100x30 creation size.
func WithGeometry(cols, rows int) RegistryOption {
	return func(r *Registry) {
		if cols >= 2 {
			r.cols = cols
		}
		if rows >= 2 {
			r.rows = rows
		}
	}
}

// WithHistory wires a replay source; lines are applied once per entry.
func WithHistory(src HistorySource, limit int) RegistryOption {
	return func(r *Registry) {
		r.history = src
		if limit > 0 {
			r.historyLimit = limit
		}
	}
}

// WithRecorder wires live-output persistence.
func WithRecorder(rec OutputRecorder) RegistryOption {
	return func(r *Registry) { r.recorder = rec }
}

func NewRegistry(host Host, program string, logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	r := &Registry{
		host:         host,
		logger:       logger.With("module", "session_registry"),
		program:      strings.TrimSpace(program),
		cols:         defaultCols,
		rows:         defaultRows,
		historyLimit: 2000,
		entries:      map[string]*Session{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start ensures a running session for projectPath and makes it the active
// one, attaching display to its buffer. A running, already active entry is
// reused without any host round-trip. A backing process that predates this
// call is adopted silently; only a fresh spawn writes the banner line.
func (r *Registry) Start(ctx context.Context, projectPath string, display DisplaySink) (*Session, error) {
	projectPath = strings.TrimSpace(projectPath)
	if projectPath == "" {
		return nil, fmt.Errorf("project path is required")
	}

	r.startMu.Lock()
	defer r.startMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("registry is closed")
	}
	r.ensureHostSubscriptionLocked()

	if entry, ok := r.entries[projectPath]; ok && entry.Running && r.active == projectPath {
		r.reattachLocked(entry, display)
		r.mu.Unlock()
		return entry, nil
	}
	r.mu.Unlock()

	exists, err := r.host.Exists(ctx, projectPath)
	if err != nil {
		r.logger.Warn("exists probe failed", "project", projectPath, "err", err)
		return nil, err
	}

	var handle string
	resumed := exists
	if !exists {
		handle, err = r.host.Spawn(ctx, SpawnRequest{
			Program:     r.program,
			Args:        []string{},
			Cwd:         projectPath,
			Env:         map[string]string{"TERM": "xterm-256color"},
			Cols:        r.cols,
			Rows:        r.rows,
			ProjectPath: projectPath,
		})
		if err != nil {
			r.logger.Warn("spawn failed", "project", projectPath, "err", err)
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[projectPath]
	if !ok {
		entry = &Session{
			ProjectPath: projectPath,
			Cols:        r.cols,
			Rows:        r.rows,
			buffer:      NewBuffer(0),
		}
		r.entries[projectPath] = entry
	}
	switch {
	case !resumed:
		entry.Handle = handle
	case entry.Handle == "":
		// Adopting a session this process never spawned: the host
		// resolves project paths as handles for those. A cached entry
		// keeps the handle the host issued at spawn time.
		entry.Handle = projectPath
	}
	entry.Running = true

	// The backlog of a resumed session is its continuity; no banner.
	if !resumed {
		entry.buffer.Write(fmt.Sprintf("[taskdeck] starting %s in %s\r\n", r.program, projectPath))
	}
	r.applyHistoryLocked(entry)
	r.reattachLocked(entry, display)
	r.logger.Info("session started", "project", projectPath, "resumed", resumed)
	return entry, nil
}

// Write forwards input to the active session. Failures are logged, never
// returned; there is nothing a caller can do about a dead pipe mid-keystroke.
func (r *Registry) Write(ctx context.Context, data string) {
	r.mu.Lock()
	entry := r.entries[r.active]
	r.mu.Unlock()
	if entry == nil || !entry.Running {
		return
	}
	if err := r.host.Write(ctx, entry.Handle, data); err != nil {
		r.logger.Warn("write failed", "project", entry.ProjectPath, "err", err)
	}
}

// Kill tears down the session for projectPath. The cache entry is removed
// even when the host call fails, so a later Start probes fresh.
func (r *Registry) Kill(ctx context.Context, projectPath string) {
	projectPath = strings.TrimSpace(projectPath)

	r.mu.Lock()
	entry, ok := r.entries[projectPath]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.entries, projectPath)
	if r.active == projectPath {
		r.active = ""
	}
	if entry.detach != nil {
		entry.detach()
		entry.detach = nil
	}
	entry.buffer.Detach()
	entry.Running = false
	entry.HistoryApplied = false
	handle := entry.Handle
	r.mu.Unlock()

	if err := r.host.Kill(ctx, handle); err != nil {
		r.logger.Warn("kill failed", "project", projectPath, "err", err)
	}
}

// Resize re-fits the active session best-effort; it never fails, even when
// no session or display is mounted yet.
func (r *Registry) Resize(ctx context.Context, cols, rows int) {
	if cols < 2 || rows < 2 {
		return
	}
	r.mu.Lock()
	entry := r.entries[r.active]
	r.mu.Unlock()
	if entry == nil || !entry.Running {
		return
	}
	if err := r.host.Resize(ctx, entry.Handle, cols, rows); err != nil {
		r.logger.Warn("resize failed", "project", entry.ProjectPath, "err", err)
		return
	}
	r.mu.Lock()
	entry.Cols = cols
	entry.Rows = rows
	r.mu.Unlock()
}

// Active returns the active project path, or "".
func (r *Registry) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Session returns the cached entry for projectPath, if any.
func (r *Registry) Session(projectPath string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[strings.TrimSpace(projectPath)]
	return entry, ok
}

// Close cancels the host subscription and detaches every display sink.
// Cached entries stay alive on the host side; Close is view teardown, not
// process teardown.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	cancel := r.hostCancel
	r.hostCancel = nil
	for _, entry := range r.entries {
		if entry.detach != nil {
			entry.detach()
			entry.detach = nil
		}
		entry.buffer.Detach()
	}
	r.active = ""
	r.mu.Unlock()

	// The cancel waits on in-flight host pushes, and dispatch takes r.mu;
	// it must run outside the lock, like host.Kill in Kill.
	if cancel != nil {
		cancel()
	}
}

func (r *Registry) ensureHostSubscriptionLocked() {
	if r.hostCancel != nil {
		return
	}
	r.hostCancel = r.host.Subscribe(func(evt Event) {
		r.dispatch(evt)
	})
}

// dispatch routes one host push event to the owning entry's buffer.
func (r *Registry) dispatch(evt Event) {
	r.mu.Lock()
	entry := r.entries[evt.ProjectPath]
	recorder := r.recorder
	r.mu.Unlock()
	if entry == nil {
		return
	}
	entry.buffer.Write(evt.Data)
	if recorder != nil {
		if err := recorder.Record(evt.ProjectPath, evt.Data); err != nil {
			r.logger.Warn("transcript record failed", "project", evt.ProjectPath, "err", err)
		}
	}
}

// reattachLocked moves the display to entry: the previous active entry's
// sink is detached first so exactly one display attachment exists.
func (r *Registry) reattachLocked(entry *Session, display DisplaySink) {
	if prev, ok := r.entries[r.active]; ok && prev != entry {
		if prev.detach != nil {
			prev.detach()
			prev.detach = nil
		}
		prev.buffer.Detach()
	}
	if entry.detach != nil {
		entry.detach()
	}
	entry.detach = entry.buffer.Attach(display)
	r.active = entry.ProjectPath
}

func (r *Registry) applyHistoryLocked(entry *Session) {
	if entry.HistoryApplied || r.history == nil {
		return
	}
	lines, err := r.history.TailLines(entry.ProjectPath, r.historyLimit)
	if err != nil {
		r.logger.Warn("history load failed", "project", entry.ProjectPath, "err", err)
		return
	}
	if len(lines) > 0 {
		entry.buffer.Write(strings.Join(lines, "\r\n") + "\r\n")
	}
	entry.HistoryApplied = true
}
