package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"taskdeck/client/internal/convo"
	"taskdeck/client/internal/db"
	"taskdeck/client/internal/logging"
	"taskdeck/client/internal/protocol"
	"taskdeck/client/internal/relay"
	"taskdeck/client/internal/router"
	"taskdeck/client/internal/term"
	"taskdeck/client/internal/workerhealth"
)

type fakeHost struct {
	mu        sync.Mutex
	live      map[string]string
	nextID    int
	writes    []string
	resizes   [][2]int
	listeners map[int]func(term.Event)
	nextSub   int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		live:      map[string]string{},
		listeners: map[int]func(term.Event){},
	}
}

func (h *fakeHost) Exists(_ context.Context, projectPath string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.live[projectPath]
	return ok, nil
}

func (h *fakeHost) Spawn(_ context.Context, req term.SpawnRequest) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	handle := fmt.Sprintf("h%d", h.nextID)
	h.live[req.ProjectPath] = handle
	return handle, nil
}

// issuedLocked reports whether handle was handed out by Spawn.
func (h *fakeHost) issuedLocked(handle string) bool {
	for _, issued := range h.live {
		if issued == handle {
			return true
		}
	}
	return false
}

func (h *fakeHost) Write(_ context.Context, handle, data string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.issuedLocked(handle) {
		return fmt.Errorf("no session for %s", handle)
	}
	h.writes = append(h.writes, data)
	return nil
}

func (h *fakeHost) Kill(_ context.Context, handle string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.issuedLocked(handle) {
		return fmt.Errorf("no session for %s", handle)
	}
	for project, live := range h.live {
		if live == handle {
			delete(h.live, project)
		}
	}
	return nil
}

func (h *fakeHost) Resize(_ context.Context, handle string, cols, rows int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.issuedLocked(handle) {
		return fmt.Errorf("no session for %s", handle)
	}
	h.resizes = append(h.resizes, [2]int{cols, rows})
	return nil
}

func (h *fakeHost) Subscribe(fn func(term.Event)) (cancel func()) {
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.listeners[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

func (h *fakeHost) push(evt term.Event) {
	h.mu.Lock()
	fns := make([]func(term.Event), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(evt)
	}
}

func (h *fakeHost) spawned(projectPath string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.live[projectPath]
	return ok
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type runtimeEnv struct {
	rt   *runtime
	sock *relay.FakeSocket
	host *fakeHost
	chat *convo.ChatLog
}

func newRuntimeEnv(t *testing.T) *runtimeEnv {
	t.Helper()
	sock := relay.NewFakeSocket()
	dialer := relay.NewFakeDialer(sock)
	channel := relay.NewChannel("ws://relay", "t1", dialer, nil)
	host := newFakeHost()
	registry := term.NewRegistry(host, "/bin/sh", nil)
	chat := convo.NewChatLog()
	perms := convo.NewPermissionStore()
	gdb, err := db.OpenSQLiteWithMigrations(filepath.Join(t.TempDir(), "taskdeck.db"))
	if err != nil {
		t.Fatalf("open state db failed: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, dbErr := gdb.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
	})

	rt := &runtime{
		logger:   logging.Nop(),
		channel:  channel,
		router:   router.New(chat, perms, nil),
		registry: registry,
		monitor:  workerhealth.NewMonitor(nil),
		stateDB:  gdb,
	}
	channel.OnEnvelope(rt.handleEnvelope)
	channel.OnState(rt.handleChannelState)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(channel.Disconnect)
	channel.Connect(ctx)
	return &runtimeEnv{rt: rt, sock: sock, host: host, chat: chat}
}

func sentEnvelopes(t *testing.T, sock *relay.FakeSocket) []protocol.Envelope {
	t.Helper()
	frames := sock.Sent()
	out := make([]protocol.Envelope, 0, len(frames))
	for _, frame := range frames {
		env, err := protocol.ParseEnvelope([]byte(frame))
		if err != nil {
			t.Fatalf("malformed outbound frame %q: %v", frame, err)
		}
		out = append(out, env)
	}
	return out
}

func emitCommand(t *testing.T, sock *relay.FakeSocket, action string, data map[string]any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"sender":  "web_ui",
		"task_id": "t1",
		"type":    "command",
		"action":  action,
		"data":    data,
	})
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	sock.EmitText(string(raw))
}

func TestRuntime_PublishesStatusOnConnect(t *testing.T) {
	env := newRuntimeEnv(t)

	waitFor(t, 2*time.Second, func() bool {
		for _, out := range sentEnvelopes(t, env.sock) {
			if out.Type == protocol.TypeStatus && out.DataString("status") == "connected" {
				return true
			}
		}
		return false
	})
}

func TestRuntime_RemoteSpawnForwardsOutput(t *testing.T) {
	env := newRuntimeEnv(t)

	emitCommand(t, env.sock, "pty_spawn", map[string]any{"project_path": "/proj/a"})
	waitFor(t, 2*time.Second, func() bool { return env.host.spawned("/proj/a") })

	env.host.push(term.Event{ProjectPath: "/proj/a", Data: "hello from pty"})

	waitFor(t, 2*time.Second, func() bool {
		for _, out := range sentEnvelopes(t, env.sock) {
			if out.Type == protocol.TypeLog &&
				out.DataString("project_path") == "/proj/a" &&
				strings.Contains(out.DataString("content"), "hello from pty") {
				return true
			}
		}
		return false
	})
}

func TestRuntime_RemoteWriteReachesHost(t *testing.T) {
	env := newRuntimeEnv(t)

	emitCommand(t, env.sock, "pty_spawn", map[string]any{"project_path": "/proj/a"})
	waitFor(t, 2*time.Second, func() bool { return env.host.spawned("/proj/a") })

	emitCommand(t, env.sock, "pty_write", map[string]any{"data": "ls\n"})
	waitFor(t, 2*time.Second, func() bool {
		env.host.mu.Lock()
		defer env.host.mu.Unlock()
		for _, w := range env.host.writes {
			if w == "ls\n" {
				return true
			}
		}
		return false
	})
}

func TestRuntime_WriteReachesHostAfterSwitchingBack(t *testing.T) {
	env := newRuntimeEnv(t)

	emitCommand(t, env.sock, "pty_spawn", map[string]any{"project_path": "/proj/a"})
	waitFor(t, 2*time.Second, func() bool { return env.host.spawned("/proj/a") })
	emitCommand(t, env.sock, "pty_spawn", map[string]any{"project_path": "/proj/b"})
	waitFor(t, 2*time.Second, func() bool { return env.host.spawned("/proj/b") })
	emitCommand(t, env.sock, "pty_spawn", map[string]any{"project_path": "/proj/a"})
	waitFor(t, 2*time.Second, func() bool { return env.rt.registry.Active() == "/proj/a" })

	emitCommand(t, env.sock, "pty_write", map[string]any{"data": "echo back\n"})
	waitFor(t, 2*time.Second, func() bool {
		env.host.mu.Lock()
		defer env.host.mu.Unlock()
		for _, w := range env.host.writes {
			if w == "echo back\n" {
				return true
			}
		}
		return false
	})
}

func TestRuntime_ResizeCommandCoercesNumbers(t *testing.T) {
	env := newRuntimeEnv(t)

	emitCommand(t, env.sock, "pty_spawn", map[string]any{"project_path": "/proj/a"})
	waitFor(t, 2*time.Second, func() bool { return env.host.spawned("/proj/a") })

	// JSON numbers arrive as float64.
	emitCommand(t, env.sock, "pty_resize", map[string]any{"cols": 120, "rows": 40})
	waitFor(t, 2*time.Second, func() bool {
		env.host.mu.Lock()
		defer env.host.mu.Unlock()
		for _, r := range env.host.resizes {
			if r == [2]int{120, 40} {
				return true
			}
		}
		return false
	})
}

func TestRuntime_NonCommandEnvelopesFeedChat(t *testing.T) {
	env := newRuntimeEnv(t)

	raw, err := json.Marshal(map[string]any{
		"sender":  "orchestrator",
		"task_id": "t1",
		"type":    "log",
		"data":    map[string]any{"content": "step output", "step_id": "s1"},
	})
	if err != nil {
		t.Fatalf("marshal log: %v", err)
	}
	env.sock.EmitText(string(raw))

	waitFor(t, 2*time.Second, func() bool { return env.chat.Len() > 0 })
	msgs := env.chat.Messages()
	if msgs[len(msgs)-1].Content != "step output" {
		t.Fatalf("unexpected chat content %q", msgs[len(msgs)-1].Content)
	}
}

func TestRuntime_SpawnRecordsLastProject(t *testing.T) {
	env := newRuntimeEnv(t)

	emitCommand(t, env.sock, "pty_spawn", map[string]any{"project_path": "/proj/a"})
	waitFor(t, 2*time.Second, func() bool { return env.host.spawned("/proj/a") })

	waitFor(t, 2*time.Second, func() bool {
		last, err := db.GetConfigValue(env.rt.stateDB, stateKeyLastProject)
		return err == nil && last == "/proj/a"
	})

	emitCommand(t, env.sock, "pty_kill", map[string]any{"project_path": "/proj/a"})
	waitFor(t, 2*time.Second, func() bool {
		last, err := db.GetConfigValue(env.rt.stateDB, stateKeyLastProject)
		return err == nil && last == ""
	})
}

func TestRuntime_RestoreLastSessionSpawns(t *testing.T) {
	env := newRuntimeEnv(t)

	if err := db.SetConfigValue(env.rt.stateDB, stateKeyLastProject, "/proj/prev"); err != nil {
		t.Fatalf("seed last project: %v", err)
	}
	env.rt.restoreLastSession(context.Background())

	waitFor(t, 2*time.Second, func() bool { return env.host.spawned("/proj/prev") })
}
