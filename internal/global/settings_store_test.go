package global

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSettingsStore_LoadOrInit_CreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	store := NewSettingsStore(dir)

	st, err := store.LoadOrInit()
	if err != nil {
		t.Fatalf("LoadOrInit failed: %v", err)
	}
	if st.RelayURL != "ws://127.0.0.1:8080" {
		t.Fatalf("unexpected default relay url: %s", st.RelayURL)
	}
	if st.Terminal.Cols != 100 || st.Terminal.Rows != 30 {
		t.Fatalf("unexpected default geometry: %dx%d", st.Terminal.Cols, st.Terminal.Rows)
	}

	path := filepath.Join(dir, "settings.toml")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected settings.toml to exist: %v", err)
	}
	text := string(b)
	if !strings.Contains(text, "[terminal]") {
		t.Fatalf("expected terminal table in toml, got: %s", text)
	}
	if !strings.Contains(text, "cols = 100") {
		t.Fatalf("expected cols in toml, got: %s", text)
	}
}

func TestSettingsStore_SaveAndReload(t *testing.T) {
	dir := t.TempDir()
	store := NewSettingsStore(dir)

	if err := store.Save(Settings{
		RelayURL: "wss://relay.example.com",
		TaskID:   "  task_7 ",
		Terminal: TerminalDefaults{Program: "claude", Cols: 120, Rows: 40},
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	st, err := store.LoadOrInit()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if st.RelayURL != "wss://relay.example.com" {
		t.Fatalf("unexpected relay url: %s", st.RelayURL)
	}
	if st.TaskID != "task_7" {
		t.Fatalf("task id should be trimmed, got %q", st.TaskID)
	}
	if st.Terminal.Program != "claude" || st.Terminal.Cols != 120 || st.Terminal.Rows != 40 {
		t.Fatalf("unexpected terminal defaults: %+v", st.Terminal)
	}
}

func TestSettingsStore_NormalizesBadGeometry(t *testing.T) {
	dir := t.TempDir()
	store := NewSettingsStore(dir)
	if err := store.Save(Settings{Terminal: TerminalDefaults{Cols: 1, Rows: 0}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	st, err := store.LoadOrInit()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if st.Terminal.Cols != 100 || st.Terminal.Rows != 30 {
		t.Fatalf("expected normalized geometry, got %dx%d", st.Terminal.Cols, st.Terminal.Rows)
	}
}
