package db

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

var (
	globalMu   sync.Mutex
	globalGORM *gorm.DB
	globalSQL  *sql.DB
	globalDSN  string
)

// OpenSQLiteWithMigrations opens (creating if needed) the sqlite file at
// path and syncs the schema.
func OpenSQLiteWithMigrations(path string) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return OpenSQLiteWithMigrationsFromDSN(path)
}

// OpenSQLiteWithMigrationsFromDSN is like OpenSQLiteWithMigrations but takes
// a raw DSN, which allows :memory: databases in tests.
func OpenSQLiteWithMigrationsFromDSN(dsn string) (*gorm.DB, error) {
	gdb, err := openSQLite(dsn)
	if err != nil {
		return nil, err
	}
	if err := MigrateUp(gdb); err != nil {
		if sqlDB, dbErr := gdb.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return gdb, nil
}

// InitGlobal sets the process-wide sqlite file. Re-initializing with the
// same DSN is a no-op; a new DSN closes the previous handle first.
func InitGlobal(dsn string) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return errors.New("db path is required")
	}
	if globalGORM != nil && globalDSN == dsn {
		return nil
	}
	if globalSQL != nil {
		_ = globalSQL.Close()
		globalSQL = nil
	}
	globalGORM = nil

	gdb, err := OpenSQLiteWithMigrationsFromDSN(dsn)
	if err != nil {
		return err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}

	globalGORM = gdb
	globalSQL = sqlDB
	globalDSN = dsn
	return nil
}

// Global returns the process-wide GORM handle. Caller must not close it.
func Global() (*gorm.DB, error) {
	globalMu.Lock()
	gdb := globalGORM
	globalMu.Unlock()
	if gdb == nil {
		return nil, errors.New("global DB not initialized: call InitGlobal first")
	}
	return gdb, nil
}

// CloseGlobal releases the process-wide handle, typically on shutdown.
func CloseGlobal() error {
	globalMu.Lock()
	defer globalMu.Unlock()
	var err error
	if globalSQL != nil {
		err = globalSQL.Close()
	}
	globalSQL = nil
	globalGORM = nil
	globalDSN = ""
	return err
}

func openSQLite(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dsn,
	}, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}
	return gdb, nil
}
