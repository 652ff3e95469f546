package models

import (
	"time"
)

// Setting stores server-wide state as key-value pairs
type Setting struct {
	Key       string    `gorm:"primarykey;not null" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName ensures GORM uses the "settings" table
func (Setting) TableName() string {
	return "settings"
}

// Known setting keys
const (
	SettingServerID        = "server_id"
	SettingLastOwnerRepair = "last_owner_repair"
)
