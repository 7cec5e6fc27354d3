package term

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// fakeHost issues opaque handles the way the real host does and rejects
// calls addressed with anything it never handed out. It also resolves
// project paths for sessions it did not spawn, mirroring adoption.
type fakeHost struct {
	mu          sync.Mutex
	byHandle    map[string]string // issued handle -> project path
	byProject   map[string]bool
	nextHandle  int
	existsCalls int
	spawnCalls  int
	killCalls   int
	writes      []string
	resizes     [][2]int
	spawnErr    error
	writeErr    error
	listeners   map[int]func(Event)
	nextListen  int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		byHandle:  map[string]string{},
		byProject: map[string]bool{},
		listeners: map[int]func(Event){},
	}
}

// adopt registers a session that predates the host's callers, addressable
// only by project path.
func (h *fakeHost) adopt(projectPath string) {
	h.mu.Lock()
	h.byProject[projectPath] = true
	h.mu.Unlock()
}

// resolveLocked maps an issued handle or a live project path to the project.
func (h *fakeHost) resolveLocked(handle string) (string, bool) {
	if project, ok := h.byHandle[handle]; ok {
		return project, true
	}
	if h.byProject[handle] {
		return handle, true
	}
	return "", false
}

func (h *fakeHost) Exists(_ context.Context, projectPath string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.existsCalls++
	return h.byProject[projectPath], nil
}

func (h *fakeHost) Spawn(_ context.Context, req SpawnRequest) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.spawnCalls++
	if h.spawnErr != nil {
		return "", h.spawnErr
	}
	if req.ProjectPath == "" {
		return "", errors.New("missing project path")
	}
	h.nextHandle++
	handle := fmt.Sprintf("pty-%04d", h.nextHandle)
	h.byHandle[handle] = req.ProjectPath
	h.byProject[req.ProjectPath] = true
	return handle, nil
}

func (h *fakeHost) Write(_ context.Context, handle, data string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.writeErr != nil {
		return h.writeErr
	}
	project, ok := h.resolveLocked(handle)
	if !ok {
		return fmt.Errorf("no session for %s", handle)
	}
	h.writes = append(h.writes, project+":"+data)
	return nil
}

func (h *fakeHost) Kill(_ context.Context, handle string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killCalls++
	project, ok := h.resolveLocked(handle)
	if !ok {
		return fmt.Errorf("no session for %s", handle)
	}
	delete(h.byProject, project)
	for issued, p := range h.byHandle {
		if p == project {
			delete(h.byHandle, issued)
		}
	}
	return nil
}

func (h *fakeHost) Resize(_ context.Context, handle string, cols, rows int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.resolveLocked(handle); !ok {
		return fmt.Errorf("no session for %s", handle)
	}
	h.resizes = append(h.resizes, [2]int{cols, rows})
	return nil
}

func (h *fakeHost) Subscribe(fn func(Event)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextListen
	h.nextListen++
	h.listeners[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

func (h *fakeHost) push(evt Event) {
	h.mu.Lock()
	fns := make([]func(Event), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(evt)
	}
}

func (h *fakeHost) counts() (exists, spawn, kill int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.existsCalls, h.spawnCalls, h.killCalls
}

// fakeHistory serves fixed lines and counts reads.
type fakeHistory struct {
	mu    sync.Mutex
	lines map[string][]string
	reads int
}

func (f *fakeHistory) TailLines(projectPath string, _ int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.lines[projectPath], nil
}

type recordedChunk struct {
	project string
	data    string
}

type fakeRecorder struct {
	mu     sync.Mutex
	chunks []recordedChunk
}

func (f *fakeRecorder) Record(projectPath, data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, recordedChunk{project: projectPath, data: data})
	return nil
}
