package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/realfolio/realfolio/internal/auth"
	"github.com/realfolio/realfolio/internal/models"
	"github.com/realfolio/realfolio/internal/service"
)

// PortfolioRoleKey holds the caller's role once RequirePortfolioRole has run.
const PortfolioRoleKey = "portfolio_role"

// RequireAdmin ensures the user is a system operator.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := auth.UserFromContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}
		if !user.IsAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequirePortfolioRole resolves the caller's role in the portfolio named by
// the :id parameter and lets the request through when allow accepts it.
// Non-members get 404 so portfolio ids are not confirmed to outsiders.
func RequirePortfolioRole(ledger *service.MembershipLedger, allow func(models.Role) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := auth.UserFromContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		portfolioID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid portfolio ID"})
			c.Abort()
			return
		}

		role := ledger.ResolveRole(c.Request.Context(), portfolioID, user.ID)
		if role == models.NotAMember {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			c.Abort()
			return
		}
		if !allow(role) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
			c.Abort()
			return
		}

		c.Set(PortfolioRoleKey, role)
		c.Next()
	}
}
