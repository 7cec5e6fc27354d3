package historydb

import (
	"errors"
	"strings"
	"sync"
	"time"

	dbmodel "taskdeck/client/internal/db"

	"gorm.io/gorm"
)

const (
	// maxChunksPerProject bounds retained output per project. Older chunks
	// are pruned opportunistically during Record.
	maxChunksPerProject = 4096
	pruneEvery          = 256
)

// Store persists raw terminal output per project and serves the tail back
// as lines for replay after a view remount or process restart.
type Store struct {
	db *gorm.DB

	mu         sync.Mutex
	sincePrune int
	maxChunks  int
}

// NewStore uses the shared global DB. Caller must not close the db.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Store{db: db, maxChunks: maxChunksPerProject}, nil
}

// Record appends one chunk of session output.
func (s *Store) Record(projectPath, data string) error {
	if s == nil || s.db == nil {
		return errors.New("history store is not initialized")
	}
	p := strings.TrimSpace(projectPath)
	if p == "" {
		return errors.New("project path is required")
	}
	if data == "" {
		return nil
	}
	row := dbmodel.TerminalChunk{
		ProjectPath: p,
		Data:        data,
		CreatedAt:   time.Now().UTC().Unix(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return err
	}

	s.mu.Lock()
	s.sincePrune++
	due := s.sincePrune >= pruneEvery
	if due {
		s.sincePrune = 0
	}
	s.mu.Unlock()
	if due {
		return s.prune(p)
	}
	return nil
}

// TailLines returns up to limit trailing output lines for a project, oldest
// first, without terminators.
func (s *Store) TailLines(projectPath string, limit int) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("history store is not initialized")
	}
	p := strings.TrimSpace(projectPath)
	if p == "" {
		return nil, errors.New("project path is required")
	}
	if limit <= 0 {
		limit = 2000
	}

	rows := make([]dbmodel.TerminalChunk, 0, 64)
	err := s.db.
		Where("project_path = ?", p).
		Order("id DESC").
		Limit(s.maxChunks).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var joined strings.Builder
	for i := len(rows) - 1; i >= 0; i-- {
		joined.WriteString(rows[i].Data)
	}
	lines := splitLines(joined.String())
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines, nil
}

// Clear forgets all recorded output for a project.
func (s *Store) Clear(projectPath string) error {
	if s == nil || s.db == nil {
		return errors.New("history store is not initialized")
	}
	p := strings.TrimSpace(projectPath)
	if p == "" {
		return errors.New("project path is required")
	}
	return s.db.Where("project_path = ?", p).Delete(&dbmodel.TerminalChunk{}).Error
}

// Close is a no-op; DB is process-wide and must not be closed by the store.
func (s *Store) Close() error {
	return nil
}

func (s *Store) prune(projectPath string) error {
	return s.db.Exec(
		`DELETE FROM terminal_chunks WHERE project_path = ? AND id NOT IN (
			SELECT id FROM terminal_chunks WHERE project_path = ? ORDER BY id DESC LIMIT ?
		)`,
		projectPath, projectPath, s.maxChunks,
	).Error
}

func splitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.TrimRight(raw, "\n")
	if raw == "" {
		return nil
	}
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return lines
}
