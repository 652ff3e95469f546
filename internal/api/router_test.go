package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/realfolio/realfolio/docs"
	"github.com/realfolio/realfolio/internal/auth"
	"github.com/realfolio/realfolio/internal/config"
	"github.com/realfolio/realfolio/internal/db"
	"github.com/realfolio/realfolio/internal/models"
	"github.com/realfolio/realfolio/internal/queue"
	"gorm.io/gorm"
)

type testServer struct {
	db     *gorm.DB
	queue  *queue.MemoryQueue
	router *gin.Engine
}

func testConfig() *config.Config {
	return &config.Config{
		Server:     config.ServerConfig{Mode: "development", CORSOrigins: []string{"*"}},
		Auth:       config.AuthConfig{Type: "basic", JWTSecret: "test-secret", TokenTTL: time.Hour},
		Invitation: config.InvitationConfig{TTL: time.Hour},
	}
}

func setupServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "api.db"),
		LogLevel: "silent",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.GetOrCreateServerID(database); err != nil {
		t.Fatalf("server id: %v", err)
	}

	q := queue.NewMemoryQueue(10)
	t.Cleanup(func() { q.Close() })

	return &testServer{db: database, queue: q, router: NewRouter(cfg, database, q, nil)}
}

func (s *testServer) createUser(t *testing.T, username string, admin bool) *models.User {
	t.Helper()
	hash, err := auth.HashPassword("password-" + username)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &models.User{Username: username, Email: username + "@example.com", PasswordHash: hash, IsAdmin: admin}
	if err := s.db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) login(t *testing.T, username string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username,
		"password": "password-" + username,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status %d: %s", username, w.Code, w.Body.String())
	}
	var resp auth.LoginResponse
	decode(t, w, &resp)
	return resp.Token
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d: %s", w.Code, want, w.Body.String())
	}
}

func (s *testServer) createPortfolio(t *testing.T, token, name string) models.Portfolio {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/portfolios", token, map[string]string{"name": name})
	expectStatus(t, w, http.StatusCreated)
	var p models.Portfolio
	decode(t, w, &p)
	return p
}

// --- system ---

func TestHealthAndReady(t *testing.T) {
	s := setupServer(t, testConfig())

	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/health", "", nil), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/ready", "", nil), http.StatusOK)

	w := s.do(t, http.MethodGet, "/api/v1/info", "", nil)
	expectStatus(t, w, http.StatusOK)
	var info struct {
		ServerID string `json:"server_id"`
	}
	decode(t, w, &info)
	if info.ServerID == "" {
		t.Error("info has no server id")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := setupServer(t, testConfig())
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/portfolios", "", nil), http.StatusUnauthorized)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/portfolios", "not-a-token", nil), http.StatusUnauthorized)
}

// --- invitation flow ---

func TestInvitationFlow(t *testing.T) {
	s := setupServer(t, testConfig())
	s.createUser(t, "alice", false)
	bob := s.createUser(t, "bob", false)
	alice := s.login(t, "alice")
	bobToken := s.login(t, "bob")

	p := s.createPortfolio(t, alice, "Oak St Holdings")
	base := "/api/v1/portfolios/" + p.ID.String()

	w := s.do(t, http.MethodPost, base+"/properties", alice, map[string]string{"name": "12 Oak St"})
	expectStatus(t, w, http.StatusCreated)
	var prop models.Property
	decode(t, w, &prop)

	// Outsiders cannot see the portfolio
	expectStatus(t, s.do(t, http.MethodGet, base, bobToken, nil), http.StatusNotFound)

	w = s.do(t, http.MethodPost, base+"/invitations", alice, map[string]interface{}{
		"email": "bob@example.com",
		"role":  "viewer",
	})
	expectStatus(t, w, http.StatusCreated)
	var created struct {
		Invitation models.InvitationToken `json:"invitation"`
		Token      string                 `json:"token"`
	}
	decode(t, w, &created)
	if created.Token == "" {
		t.Fatal("no token in response")
	}
	if bytes.Contains(w.Body.Bytes(), []byte("token_hash")) {
		t.Error("token hash leaked in response")
	}

	w = s.do(t, http.MethodGet, base+"/invitations", alice, nil)
	expectStatus(t, w, http.StatusOK)
	var pending []models.InvitationToken
	decode(t, w, &pending)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	w = s.do(t, http.MethodPost, "/api/v1/invitations/inspect", "", map[string]string{"token": created.Token})
	expectStatus(t, w, http.StatusOK)
	var preview struct {
		PortfolioName string `json:"portfolio_name"`
		Status        string `json:"status"`
	}
	decode(t, w, &preview)
	if preview.PortfolioName != "Oak St Holdings" || preview.Status != "pending" {
		t.Errorf("preview = %+v", preview)
	}

	w = s.do(t, http.MethodPost, "/api/v1/invitations/accept", bobToken, map[string]string{"token": created.Token})
	expectStatus(t, w, http.StatusCreated)
	var m models.Membership
	decode(t, w, &m)
	if m.UserID != bob.ID || m.Role != models.RoleViewer {
		t.Errorf("membership = %+v", m)
	}

	// Second redemption is rejected
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/invitations/accept", bobToken, map[string]string{"token": created.Token}), http.StatusConflict)

	w = s.do(t, http.MethodGet, base+"/access", bobToken, nil)
	expectStatus(t, w, http.StatusOK)
	var summary struct {
		Role       models.Role `json:"role"`
		Properties []string    `json:"properties"`
	}
	decode(t, w, &summary)
	if summary.Role != models.RoleViewer || len(summary.Properties) != 1 {
		t.Errorf("summary = %+v", summary)
	}

	w = s.do(t, http.MethodGet, base+"/properties/"+prop.ID.String()+"/permissions", bobToken, nil)
	expectStatus(t, w, http.StatusOK)
	var perms struct {
		Permissions []string `json:"permissions"`
	}
	decode(t, w, &perms)
	if len(perms.Permissions) != 1 || perms.Permissions[0] != "view" {
		t.Errorf("permissions = %v, want [view]", perms.Permissions)
	}

	// Viewers cannot read the pending list or the audit log
	expectStatus(t, s.do(t, http.MethodGet, base+"/invitations", bobToken, nil), http.StatusForbidden)
	expectStatus(t, s.do(t, http.MethodGet, base+"/audit", bobToken, nil), http.StatusForbidden)

	w = s.do(t, http.MethodGet, base+"/audit", alice, nil)
	expectStatus(t, w, http.StatusOK)
	var entries []models.PermissionAuditEntry
	decode(t, w, &entries)
	// owner creation, invitation_sent, invitation_accepted
	if len(entries) != 3 {
		t.Errorf("audit entries = %d, want 3", len(entries))
	}
	if entries[0].Action != models.AuditInvitationAccepted {
		t.Errorf("newest entry = %s, want invitation_accepted", entries[0].Action)
	}
}

// --- membership ---

func TestMemberManagement(t *testing.T) {
	s := setupServer(t, testConfig())
	aliceUser := s.createUser(t, "alice", false)
	bob := s.createUser(t, "bob", false)
	alice := s.login(t, "alice")
	bobToken := s.login(t, "bob")

	p := s.createPortfolio(t, alice, "Oak St Holdings")
	base := "/api/v1/portfolios/" + p.ID.String()
	if err := s.db.Create(&models.Membership{UserID: bob.ID, PortfolioID: p.ID, Role: models.RoleMember}).Error; err != nil {
		t.Fatalf("add member: %v", err)
	}

	// A member cannot promote themselves
	expectStatus(t, s.do(t, http.MethodPut, base+"/members/"+bob.ID.String()+"/role", bobToken, map[string]string{"role": "admin"}), http.StatusForbidden)

	// The sole owner cannot step down
	expectStatus(t, s.do(t, http.MethodPut, base+"/members/"+aliceUser.ID.String()+"/role", alice, map[string]string{"role": "admin"}), http.StatusConflict)

	w := s.do(t, http.MethodPut, base+"/members/"+bob.ID.String()+"/role", alice, map[string]string{"role": "admin"})
	expectStatus(t, w, http.StatusOK)

	expectStatus(t, s.do(t, http.MethodPut, base+"/members/"+bob.ID.String()+"/role", alice, map[string]string{"role": "superuser"}), http.StatusBadRequest)

	// property_access must be present; null clears, {} restricts to nothing
	expectStatus(t, s.do(t, http.MethodPut, base+"/members/"+bob.ID.String()+"/access", alice, map[string]string{}), http.StatusBadRequest)
	w = s.do(t, http.MethodPut, base+"/members/"+bob.ID.String()+"/access", alice, map[string]interface{}{"property_access": map[string]interface{}{}})
	expectStatus(t, w, http.StatusOK)
	var m models.Membership
	decode(t, w, &m)
	if !m.PropertyAccess.IsRestricted() {
		t.Error("expected a restriction after {}")
	}

	w = s.do(t, http.MethodGet, base+"/members", bobToken, nil)
	expectStatus(t, w, http.StatusOK)
	var members []models.Membership
	decode(t, w, &members)
	if len(members) != 2 {
		t.Errorf("members = %d, want 2", len(members))
	}

	// Leaving
	expectStatus(t, s.do(t, http.MethodDelete, base+"/members/"+bob.ID.String(), bobToken, nil), http.StatusNoContent)
	expectStatus(t, s.do(t, http.MethodGet, base, bobToken, nil), http.StatusNotFound)

	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/portfolios/not-a-uuid", alice, nil), http.StatusBadRequest)
}

// --- admin ---

func TestAdminRoutes(t *testing.T) {
	s := setupServer(t, testConfig())
	s.createUser(t, "alice", false)
	s.createUser(t, "ops", true)
	alice := s.login(t, "alice")
	ops := s.login(t, "ops")

	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/admin/audit", alice, nil), http.StatusForbidden)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/admin/repair/owners", alice, nil), http.StatusForbidden)

	p := s.createPortfolio(t, alice, "Oak St Holdings")
	// Simulate drift: the creator's membership disappears
	if err := s.db.Where("portfolio_id = ?", p.ID).Delete(&models.Membership{}).Error; err != nil {
		t.Fatalf("delete membership: %v", err)
	}

	w := s.do(t, http.MethodPost, "/api/v1/admin/repair/owners?dry_run=true", ops, nil)
	expectStatus(t, w, http.StatusOK)
	var report struct {
		Items   []json.RawMessage `json:"items"`
		Applied bool              `json:"applied"`
	}
	decode(t, w, &report)
	if len(report.Items) != 1 || report.Applied {
		t.Errorf("dry run report = %+v", report)
	}

	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/admin/repair/owners?dry_run=maybe", ops, nil), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/admin/repair/owners", ops, nil), http.StatusOK)

	w = s.do(t, http.MethodGet, "/api/v1/admin/status", ops, nil)
	expectStatus(t, w, http.StatusOK)
	var status struct {
		ServerID        string `json:"server_id"`
		LastOwnerRepair string `json:"last_owner_repair"`
	}
	decode(t, w, &status)
	if status.ServerID == "" || status.LastOwnerRepair == "" {
		t.Errorf("status = %+v", status)
	}

	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/portfolios/"+p.ID.String(), alice, nil), http.StatusOK)

	w = s.do(t, http.MethodGet, "/api/v1/admin/audit?action=role_change", ops, nil)
	expectStatus(t, w, http.StatusOK)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/admin/audit?action=bogus", ops, nil), http.StatusBadRequest)
}

// --- rate limiting ---

func TestRedeemIsRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 2}
	s := setupServer(t, cfg)

	body := map[string]string{"token": "guess"}
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/invitations/inspect", "", body), http.StatusNotFound)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/invitations/inspect", "", body), http.StatusNotFound)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/invitations/inspect", "", body), http.StatusTooManyRequests)
}

func TestRateLimitIgnoresUntrustedForwardedFor(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 2}
	s := setupServer(t, cfg)

	inspect := func(forwardedFor string) int {
		body := bytes.NewBufferString(`{"token":"guess"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/invitations/inspect", body)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwardedFor)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w.Code
	}

	for i, ip := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		want := http.StatusNotFound
		if i == 2 {
			want = http.StatusTooManyRequests
		}
		if got := inspect(ip); got != want {
			t.Errorf("request %d from forged %s: status = %d, want %d", i+1, ip, got, want)
		}
	}
}

func TestRateLimitHonoursTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 1}
	// httptest requests arrive from 192.0.2.1
	cfg.Server.TrustedProxies = []string{"192.0.2.0/24"}
	s := setupServer(t, cfg)

	for _, ip := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/invitations/inspect", bytes.NewBufferString(`{"token":"guess"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", ip)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("client %s behind trusted proxy: status = %d, want 404", ip, w.Code)
		}
	}
}

// --- CORS ---

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		origin      string
		wantOrigin  string
		credentials bool
	}{
		{"wildcard", []string{"*"}, "https://app.example", "*", false},
		{"listed origin", []string{"https://app.example"}, "https://app.example", "https://app.example", true},
		{"listed wins over wildcard", []string{"*", "https://app.example"}, "https://app.example", "https://app.example", true},
		{"unlisted origin", []string{"https://app.example"}, "https://evil.example", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Server.CORSOrigins = tt.origins
			s := setupServer(t, cfg)

			req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want 204", w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.credentials {
				t.Errorf("Allow-Credentials = %v, want %v", got, tt.credentials)
			}
		})
	}
}

// --- API docs ---

func TestSwaggerDocs(t *testing.T) {
	s := setupServer(t, testConfig())

	expectStatus(t, s.do(t, http.MethodGet, "/docs/index.html", "", nil), http.StatusOK)

	w := s.do(t, http.MethodGet, "/docs/doc.json", "", nil)
	expectStatus(t, w, http.StatusOK)
	var doc struct {
		Info struct {
			Title string `json:"title"`
		} `json:"info"`
		Paths map[string]interface{} `json:"paths"`
	}
	decode(t, w, &doc)
	if doc.Info.Title != "Realfolio API" {
		t.Errorf("title = %q", doc.Info.Title)
	}
	if _, ok := doc.Paths["/invitations/accept"]; !ok {
		t.Error("doc.json is missing /invitations/accept")
	}
}
