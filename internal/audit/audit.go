// Package audit writes and reads the permission audit log. The log is
// append-only: this package exposes no update or delete.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/realfolio/realfolio/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Entry describes a permission change to record. Old and New are snapshots
// marshalled to JSON; nil is stored as NULL. A nil Actor marks a system change.
type Entry struct {
	Action    models.AuditAction
	Portfolio *uuid.UUID
	Subject   *uuid.UUID
	Actor     *uuid.UUID
	Old       interface{}
	New       interface{}
}

// Record writes one entry using tx, which should be the transaction of the
// mutation being audited so a failed write aborts the mutation.
func Record(tx *gorm.DB, e Entry) (*models.PermissionAuditEntry, error) {
	if !e.Action.Valid() {
		return nil, fmt.Errorf("invalid audit action %q", e.Action)
	}
	oldJSON, err := snapshot(e.Old)
	if err != nil {
		return nil, fmt.Errorf("failed to encode old value: %w", err)
	}
	newJSON, err := snapshot(e.New)
	if err != nil {
		return nil, fmt.Errorf("failed to encode new value: %w", err)
	}

	row := models.PermissionAuditEntry{
		SubjectUserID: e.Subject,
		PortfolioID:   e.Portfolio,
		Action:        e.Action,
		OldValue:      oldJSON,
		NewValue:      newJSON,
		ActorUserID:   e.Actor,
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to write audit entry: %w", err)
	}
	return &row, nil
}

func snapshot(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return datatypes.JSON(data), nil
}

// Filter narrows a Query. Zero fields are ignored. User matches either the
// subject or the actor of an entry.
type Filter struct {
	User      *uuid.UUID
	Portfolio *uuid.UUID
	Action    models.AuditAction
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Query returns matching entries, newest first.
func Query(ctx context.Context, db *gorm.DB, f Filter) ([]models.PermissionAuditEntry, error) {
	if f.Action != "" && !f.Action.Valid() {
		return nil, fmt.Errorf("invalid audit action %q", f.Action)
	}

	q := db.WithContext(ctx).Model(&models.PermissionAuditEntry{})
	if f.User != nil {
		q = q.Where("subject_user_id = ? OR actor_user_id = ?", *f.User, *f.User)
	}
	if f.Portfolio != nil {
		q = q.Where("portfolio_id = ?", *f.Portfolio)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		q = q.Where("created_at < ?", f.Until)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var entries []models.PermissionAuditEntry
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	return entries, nil
}

// DetachPortfolio clears the portfolio reference of every entry for a
// portfolio that is being deleted. Entries themselves are kept.
func DetachPortfolio(tx *gorm.DB, portfolioID uuid.UUID) error {
	err := tx.Model(&models.PermissionAuditEntry{}).
		Where("portfolio_id = ?", portfolioID).
		Update("portfolio_id", nil).Error
	if err != nil {
		return fmt.Errorf("failed to detach audit entries: %w", err)
	}
	return nil
}
