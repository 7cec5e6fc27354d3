package db

// TerminalChunk is one recorded slice of PTY output. Chunks are replayed in
// insertion order when a session view remounts.
type TerminalChunk struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	ProjectPath string `gorm:"column:project_path;not null;index"`
	Data        string `gorm:"column:data;not null;default:''"`
	CreatedAt   int64  `gorm:"column:created_at;not null;default:0"`
}

func (TerminalChunk) TableName() string { return "terminal_chunks" }

type Config struct {
	Key       string `gorm:"column:key;primaryKey"`
	Value     string `gorm:"column:value;not null;default:''"`
	UpdatedAt int64  `gorm:"column:updated_at;not null;default:0"`
}

func (Config) TableName() string { return "config" }
