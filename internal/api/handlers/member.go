package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/realfolio/realfolio/internal/models"
	"github.com/realfolio/realfolio/internal/service"
)

type MemberHandler struct {
	ledger   *service.MembershipLedger
	resolver *service.AccessResolver
}

func NewMemberHandler(ledger *service.MembershipLedger, resolver *service.AccessResolver) *MemberHandler {
	return &MemberHandler{ledger: ledger, resolver: resolver}
}

type ChangeRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// SetAccessRequest carries the new property access. The field is required;
// null clears the restriction and {} restricts to nothing.
type SetAccessRequest struct {
	PropertyAccess json.RawMessage `json:"property_access"`
}

type PermissionsResponse struct {
	PortfolioID uuid.UUID            `json:"portfolio_id"`
	PropertyID  uuid.UUID            `json:"property_id"`
	Permissions models.PermissionSet `json:"permissions"`
}

// ListMembers godoc
// @Summary List the members of a portfolio
// @Tags members
// @Security BearerAuth
// @Produce json
// @Param id path string true "Portfolio ID"
// @Success 200 {array} models.Membership
// @Failure 404 {object} ErrorResponse
// @Router /portfolios/{id}/members [get]
func (h *MemberHandler) ListMembers(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	members, err := h.ledger.ListMembers(c.Request.Context(), id, getUserID(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, members)
}

// ChangeRole godoc
// @Summary Change a member's role
// @Tags members
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Portfolio ID"
// @Param userId path string true "User ID"
// @Param role body ChangeRoleRequest true "New role"
// @Success 200 {object} models.Membership
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /portfolios/{id}/members/{userId}/role [put]
func (h *MemberHandler) ChangeRole(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	userID, ok := uuidParam(c, "userId")
	if !ok {
		return
	}
	var req ChangeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	m, err := h.ledger.ChangeRole(c.Request.Context(), id, userID, models.Role(req.Role), getUserID(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// SetPropertyAccess godoc
// @Summary Restrict a member to specific properties, or clear the restriction
// @Tags members
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Portfolio ID"
// @Param userId path string true "User ID"
// @Param access body SetAccessRequest true "Property access"
// @Success 200 {object} models.Membership
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /portfolios/{id}/members/{userId}/access [put]
func (h *MemberHandler) SetPropertyAccess(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	userID, ok := uuidParam(c, "userId")
	if !ok {
		return
	}
	var req SetAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if len(req.PropertyAccess) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "property_access is required (null clears the restriction)"})
		return
	}
	var access models.PropertyAccess
	if err := json.Unmarshal(req.PropertyAccess, &access); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	m, err := h.ledger.SetPropertyAccess(c.Request.Context(), id, userID, access, getUserID(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// RemoveMember godoc
// @Summary Remove a member, or leave the portfolio when userId is the caller
// @Tags members
// @Security BearerAuth
// @Param id path string true "Portfolio ID"
// @Param userId path string true "User ID"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /portfolios/{id}/members/{userId} [delete]
func (h *MemberHandler) RemoveMember(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	userID, ok := uuidParam(c, "userId")
	if !ok {
		return
	}
	if err := h.ledger.RevokeMembership(c.Request.Context(), id, userID, getUserID(c)); err != nil {
		handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetAccess godoc
// @Summary Get the caller's role and accessible properties
// @Tags access
// @Security BearerAuth
// @Produce json
// @Param id path string true "Portfolio ID"
// @Success 200 {object} service.AccessSummary
// @Failure 404 {object} ErrorResponse
// @Router /portfolios/{id}/access [get]
func (h *MemberHandler) GetAccess(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	summary, err := h.resolver.Summary(c.Request.Context(), getUserID(c), id)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetPermissions godoc
// @Summary Get the caller's effective permissions on a property
// @Tags access
// @Security BearerAuth
// @Produce json
// @Param id path string true "Portfolio ID"
// @Param propertyId path string true "Property ID"
// @Success 200 {object} PermissionsResponse
// @Router /portfolios/{id}/properties/{propertyId}/permissions [get]
func (h *MemberHandler) GetPermissions(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	propertyID, ok := uuidParam(c, "propertyId")
	if !ok {
		return
	}
	perms, err := h.resolver.PermissionsFor(c.Request.Context(), getUserID(c), id, propertyID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, PermissionsResponse{PortfolioID: id, PropertyID: propertyID, Permissions: perms})
}
