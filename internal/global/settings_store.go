package global

import (
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const settingsTOMLFileName = "settings.toml"

type TerminalDefaults struct {
	Program string `json:"program" toml:"program"`
	Cols    int    `json:"cols" toml:"cols"`
	Rows    int    `json:"rows" toml:"rows"`
}

type Settings struct {
	RelayURL      string           `json:"relay_url" toml:"relay_url"`
	TaskID        string           `json:"task_id" toml:"task_id"`
	WorkerBaseURL string           `json:"worker_base_url" toml:"worker_base_url"`
	Terminal      TerminalDefaults `json:"terminal" toml:"terminal"`
}

// SettingsStore persists user-facing settings as TOML under the config dir.
type SettingsStore struct {
	dir string
}

func NewSettingsStore(dir string) *SettingsStore {
	return &SettingsStore{dir: dir}
}

func (s *SettingsStore) LoadOrInit() (Settings, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Settings{}, err
	}

	path := filepath.Join(s.dir, settingsTOMLFileName)
	if b, err := os.ReadFile(path); err == nil {
		var st Settings
		if err := toml.Unmarshal(b, &st); err != nil {
			return Settings{}, err
		}
		return normalizeSettings(st), nil
	} else if !os.IsNotExist(err) {
		return Settings{}, err
	}

	st := normalizeSettings(Settings{})
	if err := writeTOMLAtomically(path, st); err != nil {
		return Settings{}, err
	}
	return st, nil
}

func (s *SettingsStore) Save(st Settings) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(filepath.Join(s.dir, settingsTOMLFileName), normalizeSettings(st))
}

func normalizeSettings(st Settings) Settings {
	st.RelayURL = strings.TrimSpace(st.RelayURL)
	if st.RelayURL == "" {
		st.RelayURL = "ws://127.0.0.1:8080"
	}
	st.TaskID = strings.TrimSpace(st.TaskID)
	st.WorkerBaseURL = strings.TrimSpace(st.WorkerBaseURL)
	if st.WorkerBaseURL == "" {
		st.WorkerBaseURL = "http://127.0.0.1:8787"
	}
	if st.Terminal.Program == "" {
		st.Terminal.Program = "shell"
	}
	if st.Terminal.Cols < 2 {
		st.Terminal.Cols = 100
	}
	if st.Terminal.Rows < 2 {
		st.Terminal.Rows = 30
	}
	return st
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
