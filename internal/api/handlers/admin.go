package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/realfolio/realfolio/internal/db"
	"github.com/realfolio/realfolio/internal/models"
	"github.com/realfolio/realfolio/internal/worker"
	"gorm.io/gorm"
)

type AdminHandler struct {
	db       *gorm.DB
	repairer worker.Repairer
}

func NewAdminHandler(database *gorm.DB, repairer worker.Repairer) *AdminHandler {
	return &AdminHandler{db: database, repairer: repairer}
}

// MaintenanceStatus reports server identity and the last repair run.
type MaintenanceStatus struct {
	ServerID        string `json:"server_id"`
	LastOwnerRepair string `json:"last_owner_repair,omitempty"`
}

// RepairOwners godoc
// @Summary Restore owner memberships for portfolio creators
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Param dry_run query bool false "Report without writing"
// @Success 200 {object} service.RepairReport
// @Failure 403 {object} ErrorResponse
// @Router /admin/repair/owners [post]
func (h *AdminHandler) RepairOwners(c *gin.Context) {
	dryRun := false
	if v := c.Query("dry_run"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "dry_run must be a boolean"})
			return
		}
		dryRun = parsed
	}

	report, err := worker.RunOwnerRepair(c.Request.Context(), h.db, h.repairer, dryRun)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetMaintenanceStatus godoc
// @Summary Get server id and maintenance state
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} MaintenanceStatus
// @Router /admin/status [get]
func (h *AdminHandler) GetMaintenanceStatus(c *gin.Context) {
	serverID, err := db.GetSetting(h.db, models.SettingServerID)
	if err != nil && !errors.Is(err, db.ErrSettingNotFound) {
		handleServiceError(c, err)
		return
	}
	lastRepair, err := db.GetSetting(h.db, models.SettingLastOwnerRepair)
	if err != nil && !errors.Is(err, db.ErrSettingNotFound) {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, MaintenanceStatus{ServerID: serverID, LastOwnerRepair: lastRepair})
}
