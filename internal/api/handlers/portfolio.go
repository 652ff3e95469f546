package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/realfolio/realfolio/internal/service"
)

type PortfolioHandler struct {
	svc *service.PortfolioService
}

func NewPortfolioHandler(svc *service.PortfolioService) *PortfolioHandler {
	return &PortfolioHandler{svc: svc}
}

type CreatePortfolioRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

type CreatePropertyRequest struct {
	Name    string `json:"name" binding:"required"`
	Address string `json:"address"`
}

// ListPortfolios godoc
// @Summary List the portfolios the current user belongs to
// @Tags portfolios
// @Security BearerAuth
// @Produce json
// @Success 200 {array} service.PortfolioWithRole
// @Failure 401 {object} ErrorResponse
// @Router /portfolios [get]
func (h *PortfolioHandler) ListPortfolios(c *gin.Context) {
	portfolios, err := h.svc.List(c.Request.Context(), getUserID(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, portfolios)
}

// CreatePortfolio godoc
// @Summary Create a portfolio owned by the current user
// @Tags portfolios
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param portfolio body CreatePortfolioRequest true "Portfolio"
// @Success 201 {object} models.Portfolio
// @Failure 400 {object} ErrorResponse
// @Router /portfolios [post]
func (h *PortfolioHandler) CreatePortfolio(c *gin.Context) {
	var req CreatePortfolioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	p, err := h.svc.Create(c.Request.Context(), service.CreatePortfolioRequest{
		Name:        req.Name,
		Description: req.Description,
	}, getUserID(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// GetPortfolio godoc
// @Summary Get a portfolio with the caller's role
// @Tags portfolios
// @Security BearerAuth
// @Produce json
// @Param id path string true "Portfolio ID"
// @Success 200 {object} service.PortfolioWithRole
// @Failure 404 {object} ErrorResponse
// @Router /portfolios/{id} [get]
func (h *PortfolioHandler) GetPortfolio(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	p, err := h.svc.Get(c.Request.Context(), id, getUserID(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// DeletePortfolio godoc
// @Summary Delete a portfolio (owners only)
// @Tags portfolios
// @Security BearerAuth
// @Param id path string true "Portfolio ID"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /portfolios/{id} [delete]
func (h *PortfolioHandler) DeletePortfolio(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id, getUserID(c)); err != nil {
		handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListProperties godoc
// @Summary List the properties the caller can see
// @Tags properties
// @Security BearerAuth
// @Produce json
// @Param id path string true "Portfolio ID"
// @Success 200 {array} models.Property
// @Failure 404 {object} ErrorResponse
// @Router /portfolios/{id}/properties [get]
func (h *PortfolioHandler) ListProperties(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	props, err := h.svc.ListProperties(c.Request.Context(), id, getUserID(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, props)
}

// CreateProperty godoc
// @Summary Add a property to a portfolio
// @Tags properties
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Portfolio ID"
// @Param property body CreatePropertyRequest true "Property"
// @Success 201 {object} models.Property
// @Failure 403 {object} ErrorResponse
// @Router /portfolios/{id}/properties [post]
func (h *PortfolioHandler) CreateProperty(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req CreatePropertyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	prop, err := h.svc.AddProperty(c.Request.Context(), id, service.CreatePropertyRequest{
		Name:    req.Name,
		Address: req.Address,
	}, getUserID(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, prop)
}

// GetProperty godoc
// @Summary Get a property the caller can view
// @Tags properties
// @Security BearerAuth
// @Produce json
// @Param id path string true "Portfolio ID"
// @Param propertyId path string true "Property ID"
// @Success 200 {object} models.Property
// @Failure 404 {object} ErrorResponse
// @Router /portfolios/{id}/properties/{propertyId} [get]
func (h *PortfolioHandler) GetProperty(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	propertyID, ok := uuidParam(c, "propertyId")
	if !ok {
		return
	}
	prop, err := h.svc.GetProperty(c.Request.Context(), id, propertyID, getUserID(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, prop)
}

// DeleteProperty godoc
// @Summary Delete a property
// @Tags properties
// @Security BearerAuth
// @Param id path string true "Portfolio ID"
// @Param propertyId path string true "Property ID"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /portfolios/{id}/properties/{propertyId} [delete]
func (h *PortfolioHandler) DeleteProperty(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	propertyID, ok := uuidParam(c, "propertyId")
	if !ok {
		return
	}
	if err := h.svc.DeleteProperty(c.Request.Context(), id, propertyID, getUserID(c)); err != nil {
		handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
