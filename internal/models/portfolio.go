package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Portfolio is a named grouping of properties shared between members.
type Portfolio struct {
	ID          uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   uuid.UUID `gorm:"type:text;not null;index" json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName ensures GORM uses the "portfolios" table
func (Portfolio) TableName() string {
	return "portfolios"
}

// BeforeCreate hook to generate UUID
func (p *Portfolio) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Property belongs to exactly one portfolio and is removed with it.
type Property struct {
	ID          uuid.UUID  `gorm:"type:text;primary_key" json:"id"`
	PortfolioID uuid.UUID  `gorm:"type:text;not null;index" json:"portfolio_id"`
	Portfolio   *Portfolio `gorm:"foreignKey:PortfolioID;constraint:OnDelete:CASCADE" json:"-"`
	Name        string     `gorm:"not null" json:"name"`
	Address     string     `json:"address,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName ensures GORM uses the "properties" table
func (Property) TableName() string {
	return "properties"
}

// BeforeCreate hook to generate UUID
func (p *Property) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
