package migration

import (
	"fmt"
	"sync"

	"gorm.io/gorm"
)

type step struct {
	name string
	run  func(*Migration) error
}

var (
	initOnce sync.Once
	steps    []step
)

// Migration is passed to each migration step. DB is set by RunAll.
type Migration struct {
	DB   *gorm.DB
	logs []string
}

func (m *Migration) Log(v ...interface{}) {
	m.logs = append(m.logs, fmt.Sprint(v...))
}

func register(name string, run func(*Migration) error) {
	steps = append(steps, step{name: name, run: run})
}

// Init registers all data migration steps. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		register("normalize-terminal-chunk-paths", normalizeTerminalChunkPaths)
	})
}

// RunAll runs all registered migrations in order. Used for data one-shots;
// schema is synced separately.
func RunAll(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	ctx := &Migration{DB: db}
	for _, s := range steps {
		ctx.logs = nil
		if err := s.run(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", s.name, err)
		}
	}
	return nil
}

// Early builds recorded chunks under unsanitized project paths; session keys
// are trimmed everywhere now, so stored rows must match.
func normalizeTerminalChunkPaths(m *Migration) error {
	return m.DB.Exec(`UPDATE terminal_chunks SET project_path = TRIM(project_path) WHERE project_path != TRIM(project_path);`).Error
}
