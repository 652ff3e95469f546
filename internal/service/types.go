package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/realfolio/realfolio/internal/models"
)

// CreatePortfolioRequest holds parameters for creating a portfolio.
type CreatePortfolioRequest struct {
	Name        string
	Description string
}

// CreatePropertyRequest holds parameters for adding a property to a portfolio.
type CreatePropertyRequest struct {
	Name    string
	Address string
}

// CreateInvitationRequest holds parameters for inviting an email address.
type CreateInvitationRequest struct {
	PortfolioID uuid.UUID
	Email       string
	Role        models.Role
	Access      models.PropertyAccess
}

// CreatedInvitation is returned once after an invitation is issued. Token is
// the redemption credential and is not stored.
type CreatedInvitation struct {
	Invitation *models.InvitationToken
	Token      string
}

// RepairItem is one portfolio whose creator lacked an owner membership.
type RepairItem struct {
	PortfolioID   uuid.UUID   `json:"portfolio_id"`
	PortfolioName string      `json:"portfolio_name"`
	CreatorID     uuid.UUID   `json:"creator_id"`
	PreviousRole  models.Role `json:"previous_role,omitempty"` // empty when the row was missing
}

// RepairReport summarises a run of the owner membership repair.
type RepairReport struct {
	Scanned  int           `json:"scanned"`
	Items    []RepairItem  `json:"items"`
	Applied  bool          `json:"applied"`
	Duration time.Duration `json:"duration"`
}

// AccessSummary is the caller's view of one portfolio.
type AccessSummary struct {
	PortfolioID uuid.UUID             `json:"portfolio_id"`
	Role        models.Role           `json:"role"`
	Restricted  bool                  `json:"restricted"`
	Properties  []uuid.UUID           `json:"properties"`
	Access      models.PropertyAccess `json:"property_access"`
}
