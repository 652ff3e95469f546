package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Membership grants one user a role in one portfolio.
type Membership struct {
	ID             uuid.UUID      `gorm:"type:text;primary_key" json:"id"`
	UserID         uuid.UUID      `gorm:"type:text;not null;uniqueIndex:idx_memberships_user_portfolio,priority:1" json:"user_id"`
	User           *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	PortfolioID    uuid.UUID      `gorm:"type:text;not null;uniqueIndex:idx_memberships_user_portfolio,priority:2;index:idx_memberships_portfolio" json:"portfolio_id"`
	Portfolio      *Portfolio     `gorm:"foreignKey:PortfolioID;constraint:OnDelete:CASCADE" json:"-"`
	Role           Role           `gorm:"type:varchar(16);not null;check:chk_memberships_role,role IN ('owner','admin','member','viewer')" json:"role"`
	PropertyAccess PropertyAccess `gorm:"type:text" json:"property_access"`
	InvitedBy      *uuid.UUID     `gorm:"type:text" json:"invited_by,omitempty"`
	InvitedAt      *time.Time     `json:"invited_at,omitempty"`
	AcceptedAt     *time.Time     `json:"accepted_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName ensures GORM uses the "memberships" table
func (Membership) TableName() string {
	return "memberships"
}

// BeforeCreate hook to generate UUID
func (m *Membership) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
