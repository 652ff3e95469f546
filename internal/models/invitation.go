package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InvitationStatus is the lifecycle state of an invitation token.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
	InvitationRevoked  InvitationStatus = "revoked"
)

// InvitationToken is a single-use credential granting Email a role in a
// portfolio. Only the hash of the credential is stored.
type InvitationToken struct {
	ID             uuid.UUID        `gorm:"type:text;primary_key" json:"id"`
	TokenHash      string           `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	PortfolioID    uuid.UUID        `gorm:"type:text;not null;index" json:"portfolio_id"`
	Portfolio      *Portfolio       `gorm:"foreignKey:PortfolioID;constraint:OnDelete:CASCADE" json:"-"`
	Email          string           `gorm:"not null;index" json:"email"`
	Role           Role             `gorm:"type:varchar(16);not null;check:chk_invitation_tokens_role,role IN ('owner','admin','member','viewer')" json:"role"`
	PropertyAccess PropertyAccess   `gorm:"type:text" json:"property_access"`
	Status         InvitationStatus `gorm:"type:varchar(16);not null;index;check:chk_invitation_tokens_status,status IN ('pending','accepted','expired','revoked')" json:"status"`
	InvitedBy      uuid.UUID        `gorm:"type:text;not null" json:"invited_by"`
	ExpiresAt      time.Time        `gorm:"not null;index" json:"expires_at"`
	UsedAt         *time.Time       `json:"used_at,omitempty"`
	UsedBy         *uuid.UUID       `gorm:"type:text" json:"used_by,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// TableName ensures GORM uses the "invitation_tokens" table
func (InvitationToken) TableName() string {
	return "invitation_tokens"
}

// BeforeCreate hook to generate UUID
func (t *InvitationToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// IsExpired reports whether the token is past its expiry at now, regardless
// of the stored status.
func (t *InvitationToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IsRedeemable reports whether the token can still be accepted at now.
func (t *InvitationToken) IsRedeemable(now time.Time) bool {
	return t.Status == InvitationPending && !t.IsExpired(now)
}
