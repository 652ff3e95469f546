package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/realfolio/realfolio/internal/ids"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditAction is the kind of permission change recorded in the audit log.
type AuditAction string

const (
	AuditRoleChange         AuditAction = "role_change"
	AuditInvitationSent     AuditAction = "invitation_sent"
	AuditInvitationAccepted AuditAction = "invitation_accepted"
	AuditAccessRevoked      AuditAction = "access_revoked"
)

// Valid reports whether a is a known audit action.
func (a AuditAction) Valid() bool {
	switch a {
	case AuditRoleChange, AuditInvitationSent, AuditInvitationAccepted, AuditAccessRevoked:
		return true
	}
	return false
}

// PermissionAuditEntry is an append-only record of a permission change.
// Subject, portfolio and actor are plain nullable columns so entries outlive
// the rows they mention; a nil actor marks a system-initiated change.
type PermissionAuditEntry struct {
	ID            string         `gorm:"type:varchar(26);primaryKey" json:"id"`
	SubjectUserID *uuid.UUID     `gorm:"type:text;index" json:"subject_user_id"`
	PortfolioID   *uuid.UUID     `gorm:"type:text;index" json:"portfolio_id"`
	Action        AuditAction    `gorm:"type:varchar(32);not null;index;check:chk_permission_audit_action,action IN ('role_change','invitation_sent','invitation_accepted','access_revoked')" json:"action"`
	OldValue      datatypes.JSON `json:"old_value"`
	NewValue      datatypes.JSON `json:"new_value"`
	ActorUserID   *uuid.UUID     `gorm:"type:text;index" json:"actor_user_id"`
	CreatedAt     time.Time      `gorm:"not null;index" json:"created_at"`
}

// TableName ensures GORM uses the "permission_audit_log" table
func (PermissionAuditEntry) TableName() string {
	return "permission_audit_log"
}

// BeforeCreate assigns a time-ordered id.
func (e *PermissionAuditEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	return nil
}
