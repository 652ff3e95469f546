package service

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/realfolio/realfolio/internal/models"
	"github.com/realfolio/realfolio/internal/queue"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	db         *gorm.DB
	queue      *queue.MemoryQueue
	ledger     *MembershipLedger
	invites    *InvitationService
	resolver   *AccessResolver
	portfolios *PortfolioService
}

// testSetup opens a file-backed SQLite DB, migrates the access-control
// models and wires every service against it.
func testSetup(t *testing.T) *testEnv {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	// Single writer, as in production SQLite mode
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(
		&models.User{},
		&models.Portfolio{},
		&models.Property{},
		&models.Membership{},
		&models.InvitationToken{},
		&models.PermissionAuditEntry{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	q := queue.NewMemoryQueue(100)
	t.Cleanup(func() { q.Close() })

	resolver := NewAccessResolver(db)
	return &testEnv{
		db:         db,
		queue:      q,
		ledger:     NewMembershipLedger(db),
		invites:    NewInvitationService(db, q, 0),
		resolver:   resolver,
		portfolios: NewPortfolioService(db, resolver),
	}
}

// createTestUser inserts a user and returns its ID.
func createTestUser(t *testing.T, db *gorm.DB, username string) uuid.UUID {
	t.Helper()
	user := models.User{Username: username, Email: username + "@example.com", PasswordHash: "x"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user.ID
}

// createTestPortfolio creates a portfolio through the service so the owner
// membership exists.
func createTestPortfolio(t *testing.T, env *testEnv, name string, owner uuid.UUID) *models.Portfolio {
	t.Helper()
	p, err := env.portfolios.Create(t.Context(), CreatePortfolioRequest{Name: name}, owner)
	if err != nil {
		t.Fatalf("create portfolio: %v", err)
	}
	return p
}

func createTestProperty(t *testing.T, db *gorm.DB, portfolioID uuid.UUID, name string) uuid.UUID {
	t.Helper()
	prop := models.Property{PortfolioID: portfolioID, Name: name}
	if err := db.Create(&prop).Error; err != nil {
		t.Fatalf("create property: %v", err)
	}
	return prop.ID
}

// addMember inserts a membership row directly, bypassing invitations.
func addMember(t *testing.T, db *gorm.DB, portfolioID, userID uuid.UUID, role models.Role) {
	t.Helper()
	m := models.Membership{UserID: userID, PortfolioID: portfolioID, Role: role}
	if err := db.Create(&m).Error; err != nil {
		t.Fatalf("add member: %v", err)
	}
}

func auditCount(t *testing.T, db *gorm.DB, portfolioID uuid.UUID, action models.AuditAction) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.PermissionAuditEntry{}).
		Where("portfolio_id = ? AND action = ?", portfolioID, action).
		Count(&n).Error; err != nil {
		t.Fatalf("count audit entries: %v", err)
	}
	return n
}

func roleIn(t *testing.T, env *testEnv, portfolioID, userID uuid.UUID) models.Role {
	t.Helper()
	return env.ledger.ResolveRole(t.Context(), portfolioID, userID)
}

func isForbidden(err error) bool {
	var target *ForbiddenError
	return errors.As(err, &target)
}

func isInvariantViolation(err error) bool {
	var target *InvariantViolationError
	return errors.As(err, &target)
}

func isValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func isConflictError(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}
