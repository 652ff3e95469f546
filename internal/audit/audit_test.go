package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/realfolio/realfolio/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.PermissionAuditEntry{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func ptr(id uuid.UUID) *uuid.UUID { return &id }

func TestRecord_StoresSnapshots(t *testing.T) {
	db := testDB(t)
	portfolio, subject, actor := uuid.New(), uuid.New(), uuid.New()

	row, err := Record(db, Entry{
		Action:    models.AuditRoleChange,
		Portfolio: ptr(portfolio),
		Subject:   ptr(subject),
		Actor:     ptr(actor),
		Old:       map[string]string{"role": "member"},
		New:       map[string]string{"role": "admin"},
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if row.ID == "" {
		t.Fatal("expected an id to be assigned")
	}

	var got models.PermissionAuditEntry
	if err := db.First(&got, "id = ?", row.ID).Error; err != nil {
		t.Fatalf("failed to load entry: %v", err)
	}
	if string(got.OldValue) != `{"role":"member"}` || string(got.NewValue) != `{"role":"admin"}` {
		t.Errorf("snapshots = %s / %s", got.OldValue, got.NewValue)
	}
	if got.ActorUserID == nil || *got.ActorUserID != actor {
		t.Errorf("actor = %v, want %s", got.ActorUserID, actor)
	}
}

func TestRecord_NilSnapshotsAndSystemActor(t *testing.T) {
	db := testDB(t)

	row, err := Record(db, Entry{Action: models.AuditRoleChange, Portfolio: ptr(uuid.New()), Subject: ptr(uuid.New())})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	var count int64
	db.Model(&models.PermissionAuditEntry{}).
		Where("id = ? AND old_value IS NULL AND actor_user_id IS NULL", row.ID).
		Count(&count)
	if count != 1 {
		t.Error("expected NULL old value and NULL actor")
	}
}

func TestRecord_RejectsUnknownAction(t *testing.T) {
	db := testDB(t)
	if _, err := Record(db, Entry{Action: "access_granted"}); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

// --- Query ---

func TestQuery_NewestFirstWithFilters(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	p1, p2 := uuid.New(), uuid.New()
	bob, carol := uuid.New(), uuid.New()

	seq := []Entry{
		{Action: models.AuditInvitationSent, Portfolio: ptr(p1), Actor: ptr(carol)},
		{Action: models.AuditInvitationAccepted, Portfolio: ptr(p1), Subject: ptr(bob)},
		{Action: models.AuditRoleChange, Portfolio: ptr(p2), Subject: ptr(bob), Actor: ptr(carol)},
		{Action: models.AuditAccessRevoked, Portfolio: ptr(p1), Subject: ptr(bob), Actor: ptr(carol)},
	}
	var ids []string
	for _, e := range seq {
		row, err := Record(db, e)
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		ids = append(ids, row.ID)
	}

	all, err := Query(ctx, db, Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("got %d entries, want 4", len(all))
	}
	for i := range all {
		if all[i].ID != ids[len(ids)-1-i] {
			t.Fatalf("entry %d = %s, want %s (newest first)", i, all[i].ID, ids[len(ids)-1-i])
		}
	}

	byPortfolio, _ := Query(ctx, db, Filter{Portfolio: ptr(p1)})
	if len(byPortfolio) != 3 {
		t.Errorf("portfolio filter returned %d, want 3", len(byPortfolio))
	}

	byUser, _ := Query(ctx, db, Filter{User: ptr(bob), Portfolio: ptr(p1)})
	if len(byUser) != 2 {
		t.Errorf("user+portfolio filter returned %d, want 2", len(byUser))
	}

	byActor, _ := Query(ctx, db, Filter{User: ptr(carol)})
	if len(byActor) != 3 {
		t.Errorf("actor filter returned %d, want 3", len(byActor))
	}

	byAction, _ := Query(ctx, db, Filter{Action: models.AuditRoleChange})
	if len(byAction) != 1 || byAction[0].ID != ids[2] {
		t.Errorf("action filter returned %v", byAction)
	}

	future, _ := Query(ctx, db, Filter{Since: time.Now().Add(time.Hour)})
	if len(future) != 0 {
		t.Errorf("since filter returned %d entries from the future", len(future))
	}

	limited, _ := Query(ctx, db, Filter{Limit: 2})
	if len(limited) != 2 || limited[0].ID != ids[3] {
		t.Errorf("limit returned %d entries", len(limited))
	}
}

func TestDetachPortfolio(t *testing.T) {
	db := testDB(t)
	p := uuid.New()
	if _, err := Record(db, Entry{Action: models.AuditRoleChange, Portfolio: ptr(p)}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := DetachPortfolio(db, p); err != nil {
		t.Fatalf("DetachPortfolio failed: %v", err)
	}

	var remaining int64
	db.Model(&models.PermissionAuditEntry{}).Count(&remaining)
	if remaining != 1 {
		t.Fatalf("entries = %d, want 1 (entries must be kept)", remaining)
	}
	entries, _ := Query(context.Background(), db, Filter{Portfolio: ptr(p)})
	if len(entries) != 0 {
		t.Error("detached entry still matches the deleted portfolio")
	}
}
