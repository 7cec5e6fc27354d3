package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Config struct {
	RelayURL           string
	TaskID             string
	WorkerBaseURL      string
	LogLevel           string
	SessionProgram     string
	HistoryLines       int
	DBPath             string
	HealthPollInterval time.Duration
	HealthProbeTimeout time.Duration
	ReconnectDelay     time.Duration
	ReconnectMaxTries  int
}

var (
	cacheTTL   = 10 * time.Second
	nowFunc    = time.Now
	cacheMu    sync.RWMutex
	cachedCfg  Config
	cachedAt   time.Time
	cacheValid bool
)

func LoadConfig() Config {
	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = nowFunc()
	cacheValid = true
	cacheMu.Unlock()
	return cfg
}

func GetConfig() *Config {
	now := nowFunc()
	cacheMu.RLock()
	valid := cacheValid && now.Sub(cachedAt) < cacheTTL
	if valid {
		out := cachedCfg
		cacheMu.RUnlock()
		return &out
	}
	cacheMu.RUnlock()

	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = now
	cacheValid = true
	cacheMu.Unlock()

	out := cfg
	return &out
}

func loadFromEnv() Config {
	relay := os.Getenv("TASKDECK_RELAY_URL")
	if relay == "" {
		relay = "ws://127.0.0.1:8080"
	}

	taskID := os.Getenv("TASKDECK_TASK_ID")

	worker := os.Getenv("TASKDECK_WORKER_BASE_URL")
	if worker == "" {
		worker = "http://127.0.0.1:8787"
	}

	level := os.Getenv("TASKDECK_LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	program := os.Getenv("TASKDECK_SESSION_PROGRAM")
	if program == "" {
		program = defaultShell()
	}

	historyLines := atoiOrDefault(os.Getenv("TASKDECK_HISTORY_LINES"), 2000)
	if historyLines < 1 {
		historyLines = 2000
	}

	dbPath := os.Getenv("TASKDECK_DB_PATH")
	if dbPath == "" {
		dbPath = defaultDBPath()
	}

	return Config{
		RelayURL:           relay,
		TaskID:             taskID,
		WorkerBaseURL:      worker,
		LogLevel:           level,
		SessionProgram:     program,
		HistoryLines:       historyLines,
		DBPath:             dbPath,
		HealthPollInterval: 5 * time.Second,
		HealthProbeTimeout: 3 * time.Second,
		ReconnectDelay:     3 * time.Second,
		ReconnectMaxTries:  10,
	}
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Clean("taskdeck.db")
	}
	return filepath.Join(home, ".taskdeck", "taskdeck.db")
}

func atoiOrDefault(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n := 0
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return fallback
		}
		n = n*10 + int(v[i]-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}
