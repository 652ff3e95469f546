package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/realfolio/realfolio/internal/auth"
)

const oidcStateCookie = "oidc_state"

// OIDCLogin godoc
// @Summary Initiate OIDC login
// @Description Redirects user to OIDC provider for authentication
// @Tags auth
// @Success 307 {string} string "Redirect to OIDC provider"
// @Router /auth/oidc/login [get]
func OIDCLogin(oidcAuth *auth.OIDCAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Generate random state for CSRF protection
		state, err := generateRandomState()
		if err != nil {
			slog.Error("Failed to generate state", "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(oidcStateCookie, state, 600, "/", "", c.Request.TLS != nil, true)
		c.Redirect(http.StatusTemporaryRedirect, oidcAuth.GetAuthURL(state))
	}
}

// OIDCCallback godoc
// @Summary Handle OIDC callback
// @Description Process OIDC callback and redirect to the frontend with a session token
// @Tags auth
// @Param code query string true "Authorization code"
// @Param state query string true "State parameter"
// @Success 307 {string} string "Redirect to the frontend"
// @Failure 400 {object} ErrorResponse
// @Router /auth/oidc/callback [get]
func OIDCCallback(oidcAuth *auth.OIDCAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Verify state to prevent CSRF
		state := c.Query("state")
		storedState, err := c.Cookie(oidcStateCookie)
		if err != nil || state == "" || state != storedState {
			slog.Warn("Invalid OIDC state")
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid state parameter"})
			return
		}
		c.SetCookie(oidcStateCookie, "", -1, "/", "", c.Request.TLS != nil, true)

		code := c.Query("code")
		if code == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing authorization code"})
			return
		}

		resp, err := oidcAuth.HandleCallback(c.Request.Context(), code)
		if err != nil {
			slog.Error("OIDC callback failed", "error", err)
			c.Redirect(http.StatusTemporaryRedirect, "/login?error=oauth_failed")
			return
		}

		// The frontend stores the token and redirects home
		c.Redirect(http.StatusTemporaryRedirect, "/login?token="+url.QueryEscape(resp.Token))
	}
}

// generateRandomState generates a random state string for CSRF protection
func generateRandomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
