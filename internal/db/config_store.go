package db

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetConfigValue reads one runtime KV entry; a missing key is "" with no
// error.
func GetConfigValue(db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", errors.New("db is required")
	}
	k := strings.TrimSpace(key)
	if k == "" {
		return "", errors.New("key is required")
	}
	var row Config
	err := db.Where("key = ?", k).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Value, nil
}

// SetConfigValue upserts one runtime KV entry.
func SetConfigValue(db *gorm.DB, key, value string) error {
	if db == nil {
		return errors.New("db is required")
	}
	k := strings.TrimSpace(key)
	if k == "" {
		return errors.New("key is required")
	}
	row := Config{
		Key:       k,
		Value:     value,
		UpdatedAt: time.Now().UTC().Unix(),
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      row.Value,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error
}
