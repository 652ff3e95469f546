package db

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/realfolio/realfolio/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSettingNotFound is returned when a key has never been written.
var ErrSettingNotFound = errors.New("setting not found")

// GetOrCreateServerID retrieves the server ID from the database,
// or generates and stores a new one if it doesn't exist.
// This should be called during server startup after migrations.
func GetOrCreateServerID(db *gorm.DB) (string, error) {
	id, err := GetSetting(db, models.SettingServerID)
	if err == nil {
		slog.Info("Found existing server ID", "server_id", id)
		return id, nil
	}
	if !errors.Is(err, ErrSettingNotFound) {
		return "", err
	}

	setting := models.Setting{Key: models.SettingServerID, Value: uuid.New().String()}
	// Another replica may have won the race; keep whichever row exists
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&setting).Error; err != nil {
		return "", fmt.Errorf("failed to create server ID: %w", err)
	}

	id, err = GetSetting(db, models.SettingServerID)
	if err != nil {
		return "", err
	}
	slog.Info("Generated new server ID", "server_id", id)
	return id, nil
}

// GetSetting returns the value stored under key.
func GetSetting(db *gorm.DB, key string) (string, error) {
	var setting models.Setting
	err := db.Where("key = ?", key).First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%s: %w", key, ErrSettingNotFound)
		}
		return "", fmt.Errorf("failed to query settings: %w", err)
	}
	return setting.Value, nil
}

// PutSetting creates or replaces the value stored under key.
func PutSetting(db *gorm.DB, key, value string) error {
	setting := models.Setting{Key: key, Value: value}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return fmt.Errorf("failed to store setting %s: %w", key, err)
	}
	return nil
}

// GetServerID retrieves the server ID created at startup.
func GetServerID(db *gorm.DB) (string, error) {
	return GetSetting(db, models.SettingServerID)
}
