package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/realfolio/realfolio/internal/models"
	"github.com/realfolio/realfolio/internal/service"
)

type InvitationHandler struct {
	svc *service.InvitationService
}

func NewInvitationHandler(svc *service.InvitationService) *InvitationHandler {
	return &InvitationHandler{svc: svc}
}

type CreateInvitationRequest struct {
	Email          string                `json:"email" binding:"required"`
	Role           string                `json:"role" binding:"required"`
	PropertyAccess models.PropertyAccess `json:"property_access"` // omitted or null means unrestricted
}

// CreateInvitationResponse carries the raw token. It is shown once and
// cannot be recovered later.
type CreateInvitationResponse struct {
	Invitation *models.InvitationToken `json:"invitation"`
	Token      string                  `json:"token"`
}

type TokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// InvitationPreview is what a token holder may learn before accepting.
type InvitationPreview struct {
	PortfolioID   uuid.UUID               `json:"portfolio_id"`
	PortfolioName string                  `json:"portfolio_name"`
	Email         string                  `json:"email"`
	Role          models.Role             `json:"role"`
	Status        models.InvitationStatus `json:"status"`
	ExpiresAt     time.Time               `json:"expires_at"`
}

// ListInvitations godoc
// @Summary List pending invitations of a portfolio
// @Tags invitations
// @Security BearerAuth
// @Produce json
// @Param id path string true "Portfolio ID"
// @Success 200 {array} models.InvitationToken
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /portfolios/{id}/invitations [get]
func (h *InvitationHandler) ListInvitations(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	pending, err := h.svc.ListPendingForPortfolio(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, pending)
}

// CreateInvitation godoc
// @Summary Invite an e-mail address into a portfolio
// @Tags invitations
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Portfolio ID"
// @Param invitation body CreateInvitationRequest true "Invitation"
// @Success 201 {object} CreateInvitationResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /portfolios/{id}/invitations [post]
func (h *InvitationHandler) CreateInvitation(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req CreateInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	created, err := h.svc.CreateInvitation(c.Request.Context(), service.CreateInvitationRequest{
		PortfolioID: id,
		Email:       req.Email,
		Role:        models.Role(req.Role),
		Access:      req.PropertyAccess,
	}, getUserID(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, CreateInvitationResponse{Invitation: created.Invitation, Token: created.Token})
}

// RevokeInvitationByID godoc
// @Summary Revoke a pending invitation
// @Tags invitations
// @Security BearerAuth
// @Param id path string true "Portfolio ID"
// @Param invitationId path string true "Invitation ID"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /portfolios/{id}/invitations/{invitationId} [delete]
func (h *InvitationHandler) RevokeInvitationByID(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	invitationID, ok := uuidParam(c, "invitationId")
	if !ok {
		return
	}
	if err := h.svc.RevokeInvitationByID(c.Request.Context(), id, invitationID, getUserID(c)); err != nil {
		handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AcceptInvitation godoc
// @Summary Redeem an invitation token as the current user
// @Tags invitations
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param token body TokenRequest true "Invitation token"
// @Success 201 {object} models.Membership
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /invitations/accept [post]
func (h *InvitationHandler) AcceptInvitation(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	m, err := h.svc.RedeemInvitation(c.Request.Context(), req.Token, getUserID(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// RevokeInvitation godoc
// @Summary Revoke a pending invitation by its token
// @Tags invitations
// @Security BearerAuth
// @Accept json
// @Param token body TokenRequest true "Invitation token"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /invitations/revoke [post]
func (h *InvitationHandler) RevokeInvitation(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if err := h.svc.RevokeInvitation(c.Request.Context(), req.Token, getUserID(c)); err != nil {
		handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// InspectInvitation godoc
// @Summary Show what an invitation token grants
// @Tags invitations
// @Accept json
// @Produce json
// @Param token body TokenRequest true "Invitation token"
// @Success 200 {object} InvitationPreview
// @Failure 404 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /invitations/inspect [post]
func (h *InvitationHandler) InspectInvitation(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	inv, err := h.svc.Inspect(c.Request.Context(), req.Token)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	preview := InvitationPreview{
		PortfolioID: inv.PortfolioID,
		Email:       inv.Email,
		Role:        inv.Role,
		Status:      inv.Status,
		ExpiresAt:   inv.ExpiresAt,
	}
	if inv.Portfolio != nil {
		preview.PortfolioName = inv.Portfolio.Name
	}
	c.JSON(http.StatusOK, preview)
}
