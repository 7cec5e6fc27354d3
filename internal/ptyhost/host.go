package ptyhost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"taskdeck/client/internal/term"
)

// Host forks and owns PTY-backed processes, one per project path. It
// implements term.Host for the in-process deployment where the UI runtime
// and the privileged side live in the same binary.
type Host struct {
	logger *slog.Logger

	mu        sync.Mutex
	byHandle  map[string]*session
	byProject map[string]*session
	closed    bool

	// subMu orders Subscribe cancels against in-flight pushes so a
	// cancelled listener never fires after cancel returns.
	subMu     sync.RWMutex
	listeners map[int]func(term.Event)
	nextSub   int
}

type session struct {
	handle      string
	projectPath string
	cmd         *exec.Cmd
	ptmx        *os.File
	alive       bool
}

func New(logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Host{
		logger:    logger,
		byHandle:  make(map[string]*session),
		byProject: make(map[string]*session),
		listeners: make(map[int]func(term.Event)),
	}
}

// Exists reports whether a live process is bound to the project path.
func (h *Host) Exists(ctx context.Context, projectPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p := strings.TrimSpace(projectPath)
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.byProject[p]
	return ok && sess.alive, nil
}

// Spawn forks the requested program on a fresh PTY. A dead session under
// the same project path is replaced.
func (h *Host) Spawn(ctx context.Context, req term.SpawnRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	projectPath := strings.TrimSpace(req.ProjectPath)
	if projectPath == "" {
		return "", errors.New("project path is required")
	}
	program := strings.TrimSpace(req.Program)
	if program == "" {
		return "", errors.New("program is required")
	}
	cols, rows := req.Cols, req.Rows
	if cols < 2 {
		cols = 100
	}
	if rows < 2 {
		rows = 30
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return "", errors.New("host is closed")
	}
	if prev, ok := h.byProject[projectPath]; ok && prev.alive {
		h.mu.Unlock()
		return "", fmt.Errorf("session already running for %s", projectPath)
	}
	h.mu.Unlock()

	cmd := exec.Command(program, req.Args...)
	cmd.Dir = req.Cwd
	cmd.Env = mergeEnv(os.Environ(), req.Env)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return "", fmt.Errorf("pty start: %w", err)
	}

	sess := &session{
		handle:      uuid.NewString(),
		projectPath: projectPath,
		cmd:         cmd,
		ptmx:        ptmx,
		alive:       true,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = cmd.Process.Signal(syscall.SIGHUP)
		_ = ptmx.Close()
		return "", errors.New("host is closed")
	}
	h.byHandle[sess.handle] = sess
	h.byProject[projectPath] = sess
	h.mu.Unlock()

	h.logger.Info("pty spawned",
		"project", projectPath,
		"program", program,
		"pid", cmd.Process.Pid,
		"cols", cols,
		"rows", rows,
	)
	go h.readLoop(sess)
	return sess.handle, nil
}

func (h *Host) Write(ctx context.Context, handle, data string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sess, err := h.lookup(handle)
	if err != nil {
		return err
	}
	_, err = sess.ptmx.Write([]byte(data))
	return err
}

// Kill signals the process and releases the PTY. The session is removed
// from the project index so a later Exists probe reports false.
func (h *Host) Kill(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	sess, ok := h.resolveLocked(handle)
	if ok {
		delete(h.byHandle, sess.handle)
		if h.byProject[sess.projectPath] == sess {
			delete(h.byProject, sess.projectPath)
		}
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("session not found: %s", handle)
	}

	if sess.cmd.Process != nil {
		_ = sess.cmd.Process.Signal(syscall.SIGHUP)
	}
	_ = sess.ptmx.Close()
	h.logger.Info("pty killed", "project", sess.projectPath, "handle", handle)
	return nil
}

func (h *Host) Resize(ctx context.Context, handle string, cols, rows int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cols < 2 || rows < 2 {
		return fmt.Errorf("geometry too small: %dx%d", cols, rows)
	}
	sess, err := h.lookup(handle)
	if err != nil {
		return err
	}
	return pty.Setsize(sess.ptmx, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
}

// Subscribe registers an output listener. The returned cancel synchronously
// stops deliveries to fn.
func (h *Host) Subscribe(fn func(term.Event)) (cancel func()) {
	h.subMu.Lock()
	id := h.nextSub
	h.nextSub++
	h.listeners[id] = fn
	h.subMu.Unlock()
	return func() {
		h.subMu.Lock()
		delete(h.listeners, id)
		h.subMu.Unlock()
	}
}

// Close kills every session. The host accepts no spawns afterwards.
func (h *Host) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	sessions := make([]*session, 0, len(h.byHandle))
	for _, sess := range h.byHandle {
		sessions = append(sessions, sess)
	}
	h.byHandle = make(map[string]*session)
	h.byProject = make(map[string]*session)
	h.mu.Unlock()

	for _, sess := range sessions {
		if sess.cmd.Process != nil {
			_ = sess.cmd.Process.Signal(syscall.SIGHUP)
		}
		_ = sess.ptmx.Close()
	}
}

func (h *Host) lookup(handle string) (*session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.resolveLocked(handle)
	if !ok {
		return nil, fmt.Errorf("session not found: %s", handle)
	}
	if !sess.alive {
		return nil, fmt.Errorf("session has exited: %s", handle)
	}
	return sess, nil
}

// resolveLocked accepts either an issued handle or a project path, so a
// caller that only knows the project can address a session it never spawned.
func (h *Host) resolveLocked(handle string) (*session, bool) {
	if sess, ok := h.byHandle[handle]; ok {
		return sess, true
	}
	sess, ok := h.byProject[handle]
	return sess, ok
}

// readLoop pumps PTY output to subscribers. Trailing bytes of a split
// multi-byte rune are held back until the next read completes them.
func (h *Host) readLoop(sess *session) {
	buf := make([]byte, 32*1024)
	var pending []byte
	for {
		n, err := sess.ptmx.Read(buf)
		if n > 0 {
			var chunk []byte
			if len(pending) > 0 {
				chunk = make([]byte, len(pending)+n)
				copy(chunk, pending)
				copy(chunk[len(pending):], buf[:n])
				pending = nil
			} else {
				chunk = buf[:n]
			}
			if tail := incompleteUTF8Tail(chunk); tail > 0 {
				pending = make([]byte, tail)
				copy(pending, chunk[len(chunk)-tail:])
				chunk = chunk[:len(chunk)-tail]
			}
			if len(chunk) > 0 {
				h.push(term.Event{ProjectPath: sess.projectPath, Data: string(chunk)})
			}
		}
		if err != nil {
			if len(pending) > 0 {
				h.push(term.Event{ProjectPath: sess.projectPath, Data: string(pending)})
			}
			break
		}
	}

	state, _ := sess.cmd.Process.Wait()
	exitCode := 0
	if state != nil {
		exitCode = state.ExitCode()
	}
	h.mu.Lock()
	sess.alive = false
	if h.byProject[sess.projectPath] == sess {
		delete(h.byProject, sess.projectPath)
	}
	delete(h.byHandle, sess.handle)
	h.mu.Unlock()
	h.logger.Info("pty exited", "project", sess.projectPath, "exit_code", exitCode)
}

func (h *Host) push(evt term.Event) {
	h.subMu.RLock()
	defer h.subMu.RUnlock()
	for _, fn := range h.listeners {
		fn(evt)
	}
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key := kv
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			key = kv[:idx]
		}
		if _, ok := overrides[key]; ok {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	return out
}
