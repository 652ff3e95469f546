package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/realfolio/realfolio/internal/models"
	"gorm.io/gorm"
)

// ProxyTokenClaims represents claims extracted from an IdToken cookie
// set by an authenticating proxy (e.g., Envoy Gateway after Keycloak OIDC).
type ProxyTokenClaims struct {
	Sub               string   `json:"sub"`
	PreferredUsername string   `json:"preferred_username"`
	Email             string   `json:"email"`
	Name              string   `json:"name"`
	Groups            []string `json:"groups"`
}

// parseIdTokenCookie finds a cookie whose name starts with "IdToken" and
// decodes the JWT payload (middle segment). No signature verification is
// performed because the authenticating proxy already validated it.
func parseIdTokenCookie(r *http.Request) (*ProxyTokenClaims, error) {
	var rawToken string
	for _, c := range r.Cookies() {
		if strings.HasPrefix(c.Name, "IdToken") {
			rawToken = c.Value
			break
		}
	}
	if rawToken == "" {
		return nil, errors.New("no IdToken cookie found")
	}

	parts := strings.Split(rawToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("IdToken cookie is not a valid JWT (got %d parts)", len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to base64-decode JWT payload: %w", err)
	}

	var claims ProxyTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JWT claims: %w", err)
	}

	return &claims, nil
}

// findOrCreateProxyUser looks up a user by username or email from proxy
// claims. If no user exists, one is created. The display name follows the
// identity provider.
func findOrCreateProxyUser(db *gorm.DB, claims *ProxyTokenClaims) (*models.User, error) {
	username := claims.PreferredUsername
	if username == "" {
		username = claims.Email
	}
	if username == "" {
		username = claims.Sub
	}
	if username == "" {
		return nil, errors.New("proxy token has no usable identity claim")
	}

	email := strings.ToLower(claims.Email)
	if email == "" {
		email = username + "@proxy.local"
	}

	return findOrCreateExternalUser(db, username, email, claims.Name, "proxy")
}

// findOrCreateExternalUser is shared by the proxy and OIDC logins. External
// users have no password and cannot use /auth/login. Accounts are matched on
// the verified e-mail only; a username claim never selects an existing user.
func findOrCreateExternalUser(db *gorm.DB, username, email, displayName, source string) (*models.User, error) {
	var user models.User
	result := db.Where("email = ?", email).First(&user)
	if result.Error == nil {
		if displayName != "" && user.DisplayName != displayName {
			user.DisplayName = displayName
			db.Model(&user).Update("display_name", displayName)
		}
		return &user, nil
	}

	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("database error: %w", result.Error)
	}

	name, err := availableUsername(db, username)
	if err != nil {
		return nil, err
	}

	user = models.User{
		Username:    name,
		Email:       email,
		DisplayName: displayName,
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("Created new user from external login", "source", source, "user_id", user.ID, "username", user.Username, "email", email)
	return &user, nil
}

// availableUsername returns base if no user holds it, otherwise the first free
// base-N suffix.
func availableUsername(db *gorm.DB, base string) (string, error) {
	candidate := base
	for n := 2; n <= 100; n++ {
		var count int64
		if err := db.Model(&models.User{}).Where("username = ?", candidate).Count(&count).Error; err != nil {
			return "", fmt.Errorf("database error: %w", err)
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
	return "", fmt.Errorf("no free username derived from %q", base)
}

// syncAdminFromGroups grants or revokes operator status based on whether the
// user belongs to any of the configured admin groups.
func syncAdminFromGroups(db *gorm.DB, user *models.User, groups []string, adminGroups []string) {
	adminGroupSet := make(map[string]bool, len(adminGroups))
	for _, g := range adminGroups {
		g = strings.TrimSpace(g)
		if g != "" {
			adminGroupSet[g] = true
		}
	}

	shouldBeAdmin := false
	for _, g := range groups {
		// Strip leading "/" that Keycloak sometimes adds
		g = strings.TrimPrefix(g, "/")
		if adminGroupSet[g] {
			shouldBeAdmin = true
			break
		}
	}

	if shouldBeAdmin == user.IsAdmin {
		return
	}
	if err := db.Model(user).Update("is_admin", shouldBeAdmin).Error; err != nil {
		slog.Warn("Failed to sync operator status from proxy groups", "user_id", user.ID, "error", err)
		return
	}
	user.IsAdmin = shouldBeAdmin
	if shouldBeAdmin {
		slog.Info("Granted operator status via proxy group membership", "user_id", user.ID)
	} else {
		slog.Info("Revoked operator status via proxy group membership", "user_id", user.ID)
	}
}

// parseAdminGroups splits a comma-separated string into a slice of group names.
func parseAdminGroups(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
