package auth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/realfolio/realfolio/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "auth.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

// makeJWT builds an unsigned-looking JWT with the given claims payload.
// The header and signature are placeholders; only the payload matters.
func makeJWT(t *testing.T, claims any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("failed to marshal claims: %v", err)
	}
	payloadB64 := base64.RawURLEncoding.EncodeToString(payload)
	sig := base64.RawURLEncoding.EncodeToString([]byte("fake-signature"))
	return header + "." + payloadB64 + "." + sig
}

func TestParseIdTokenCookie_HappyPath(t *testing.T) {
	claims := ProxyTokenClaims{
		Sub:               "sub-123",
		PreferredUsername: "alice",
		Email:             "alice@example.com",
		Name:              "Alice",
		Groups:            []string{"admin", "dev"},
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "IdToken-realfolio", Value: makeJWT(t, claims)})

	got, err := parseIdTokenCookie(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.PreferredUsername != "alice" || got.Email != "alice@example.com" {
		t.Errorf("claims = %+v", got)
	}
	if len(got.Groups) != 2 {
		t.Errorf("expected 2 groups, got %d", len(got.Groups))
	}
}

func TestParseIdTokenCookie_NoCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := parseIdTokenCookie(req); err == nil {
		t.Error("expected error when no IdToken cookie present")
	}
}

func TestParseIdTokenCookie_InvalidJWT(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "IdToken-realfolio", Value: "not-a-jwt"})

	if _, err := parseIdTokenCookie(req); err == nil {
		t.Error("expected error for invalid JWT format")
	}
}

func TestFindOrCreateProxyUser_CreatesNew(t *testing.T) {
	db := setupTestDB(t)

	user, err := findOrCreateProxyUser(db, &ProxyTokenClaims{
		PreferredUsername: "bob",
		Email:             "Bob@Example.com",
		Name:              "Bob Builder",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.Username != "bob" || user.Email != "bob@example.com" || user.DisplayName != "Bob Builder" {
		t.Errorf("user = %+v", user)
	}
	if user.PasswordHash != "" {
		t.Error("proxy users must not have a password")
	}
}

func TestFindOrCreateProxyUser_FindsExisting(t *testing.T) {
	db := setupTestDB(t)

	existing := models.User{Username: "carol", Email: "carol@example.com", DisplayName: "old"}
	db.Create(&existing)

	user, err := findOrCreateProxyUser(db, &ProxyTokenClaims{
		PreferredUsername: "carol",
		Email:             "carol@example.com",
		Name:              "Carol",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != existing.ID {
		t.Error("expected to find existing user, got different ID")
	}

	var stored models.User
	db.First(&stored, "id = ?", existing.ID)
	if stored.DisplayName != "Carol" {
		t.Errorf("display name = %q, want Carol", stored.DisplayName)
	}
}

func TestFindOrCreateExternalUser_UsernameCollisionCreatesDistinctUser(t *testing.T) {
	db := setupTestDB(t)

	local := models.User{Username: "admin", Email: "ops@corp.example", IsAdmin: true}
	if err := db.Create(&local).Error; err != nil {
		t.Fatalf("create local user: %v", err)
	}

	user, err := findOrCreateExternalUser(db, "admin", "mallory@evil.example", "Mallory", "oidc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID == local.ID {
		t.Fatal("external login with a colliding username resolved to the local account")
	}
	if user.IsAdmin {
		t.Error("new external user must not inherit operator status")
	}
	if user.Username != "admin-2" {
		t.Errorf("username = %q, want admin-2", user.Username)
	}

	var stored models.User
	db.First(&stored, "id = ?", local.ID)
	if stored.Email != "ops@corp.example" || !stored.IsAdmin || stored.DisplayName != "" {
		t.Errorf("local account modified: %+v", stored)
	}

	again, err := findOrCreateExternalUser(db, "someone-else", "ops@corp.example", "", "oidc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.ID != local.ID {
		t.Error("matching e-mail should resolve to the existing account")
	}
}

func TestFindOrCreateProxyUser_Fallbacks(t *testing.T) {
	tests := []struct {
		name   string
		claims ProxyTokenClaims
		want   string
	}{
		{"email", ProxyTokenClaims{Email: "dave@example.com"}, "dave@example.com"},
		{"sub", ProxyTokenClaims{Sub: "sub-xyz"}, "sub-xyz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := setupTestDB(t)
			user, err := findOrCreateProxyUser(db, &tt.claims)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if user.Username != tt.want {
				t.Errorf("username = %s, want %s", user.Username, tt.want)
			}
		})
	}
}

func TestFindOrCreateProxyUser_NoIdentity(t *testing.T) {
	db := setupTestDB(t)
	if _, err := findOrCreateProxyUser(db, &ProxyTokenClaims{}); err == nil {
		t.Error("expected error when no identity claim present")
	}
}

func TestParseAdminGroups(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"admin", []string{"admin"}},
		{"admin,realfolio-admin", []string{"admin", "realfolio-admin"}},
		{" admin , realfolio-admin , ", []string{"admin", "realfolio-admin"}},
	}

	for _, tt := range tests {
		got := parseAdminGroups(tt.input)
		if len(got) != len(tt.want) {
			t.Errorf("parseAdminGroups(%q) = %v, want %v", tt.input, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("parseAdminGroups(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
			}
		}
	}
}

func TestSyncAdminFromGroups(t *testing.T) {
	db := setupTestDB(t)
	user := models.User{Username: "erin", Email: "erin@example.com"}
	db.Create(&user)

	// Keycloak group paths carry a leading slash
	syncAdminFromGroups(db, &user, []string{"/admin", "/dev"}, []string{"admin"})
	if !user.IsAdmin {
		t.Fatal("expected operator status to be granted")
	}
	var stored models.User
	db.First(&stored, "id = ?", user.ID)
	if !stored.IsAdmin {
		t.Error("operator status not persisted")
	}

	syncAdminFromGroups(db, &user, []string{"/dev"}, []string{"admin"})
	db.First(&stored, "id = ?", user.ID)
	if user.IsAdmin || stored.IsAdmin {
		t.Error("expected operator status to be revoked")
	}
}
