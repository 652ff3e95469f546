package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/realfolio/realfolio/internal/audit"
	"github.com/realfolio/realfolio/internal/models"
	"gorm.io/gorm"
)

type AuditHandler struct {
	db *gorm.DB
}

func NewAuditHandler(db *gorm.DB) *AuditHandler {
	return &AuditHandler{db: db}
}

// parseAuditFilter reads user, portfolio, action, since, until and limit
// from the query string.
func parseAuditFilter(c *gin.Context) (audit.Filter, error) {
	var f audit.Filter
	if v := c.Query("user"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, fmt.Errorf("invalid user %q", v)
		}
		f.User = &id
	}
	if v := c.Query("portfolio"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, fmt.Errorf("invalid portfolio %q", v)
		}
		f.Portfolio = &id
	}
	if v := c.Query("action"); v != "" {
		f.Action = models.AuditAction(v)
		if !f.Action.Valid() {
			return f, fmt.Errorf("invalid action %q", v)
		}
	}
	for name, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		if v := c.Query(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
			}
			*dst = t.UTC()
		}
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = n
	}
	return f, nil
}

// ListPortfolioAudit godoc
// @Summary List permission changes in a portfolio (owners and admins)
// @Tags audit
// @Security BearerAuth
// @Produce json
// @Param id path string true "Portfolio ID"
// @Param user query string false "Subject or actor user ID"
// @Param action query string false "role_change, invitation_sent, invitation_accepted or access_revoked"
// @Param since query string false "RFC 3339 lower bound"
// @Param until query string false "RFC 3339 upper bound (exclusive)"
// @Param limit query int false "Maximum entries (default 100, max 1000)"
// @Success 200 {array} models.PermissionAuditEntry
// @Failure 403 {object} ErrorResponse
// @Router /portfolios/{id}/audit [get]
func (h *AuditHandler) ListPortfolioAudit(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	f, err := parseAuditFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	f.Portfolio = &id

	entries, err := audit.Query(c.Request.Context(), h.db, f)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// ListAudit godoc
// @Summary List permission changes across all portfolios (system admins)
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Param user query string false "Subject or actor user ID"
// @Param portfolio query string false "Portfolio ID"
// @Param action query string false "Audit action"
// @Param since query string false "RFC 3339 lower bound"
// @Param until query string false "RFC 3339 upper bound (exclusive)"
// @Param limit query int false "Maximum entries (default 100, max 1000)"
// @Success 200 {array} models.PermissionAuditEntry
// @Failure 403 {object} ErrorResponse
// @Router /admin/audit [get]
func (h *AuditHandler) ListAudit(c *gin.Context) {
	f, err := parseAuditFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	entries, err := audit.Query(c.Request.Context(), h.db, f)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
