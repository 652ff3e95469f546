package service

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/realfolio/realfolio/internal/audit"
	"github.com/realfolio/realfolio/internal/models"
)

func TestPortfolioCreate_RequiresName(t *testing.T) {
	env := testSetup(t)
	alice := createTestUser(t, env.db, "alice")

	if _, err := env.portfolios.Create(t.Context(), CreatePortfolioRequest{Name: "   "}, alice); !isValidationError(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestPortfolioList_ReturnsRole(t *testing.T) {
	env := testSetup(t)
	alice := createTestUser(t, env.db, "alice")
	bob := createTestUser(t, env.db, "bob")
	oak := createTestPortfolio(t, env, "Oak St Holdings", alice)
	createTestPortfolio(t, env, "Bob's", bob)
	addMember(t, env.db, oak.ID, bob, models.RoleViewer)

	list, err := env.portfolios.List(t.Context(), bob)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d portfolios, want 2", len(list))
	}
	roles := map[uuid.UUID]models.Role{}
	for _, p := range list {
		roles[p.ID] = p.Role
	}
	if roles[oak.ID] != models.RoleViewer {
		t.Errorf("role in %s = %s, want viewer", oak.Name, roles[oak.ID])
	}

	none, _ := env.portfolios.List(t.Context(), uuid.New())
	if len(none) != 0 {
		t.Errorf("outsider sees %d portfolios", len(none))
	}
}

func TestPortfolioGet_HiddenFromNonMembers(t *testing.T) {
	env := testSetup(t)
	alice := createTestUser(t, env.db, "alice")
	p := createTestPortfolio(t, env, "Oak St Holdings", alice)

	got, err := env.portfolios.Get(t.Context(), p.ID, alice)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "Oak St Holdings" || got.Role != models.RoleOwner {
		t.Errorf("got %+v", got)
	}
	if _, err := env.portfolios.Get(t.Context(), p.ID, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("outsider: expected ErrNotFound, got %v", err)
	}
}

func TestPortfolioDelete(t *testing.T) {
	env := testSetup(t)
	alice := createTestUser(t, env.db, "alice")
	bob := createTestUser(t, env.db, "bob")
	p := createTestPortfolio(t, env, "Oak St Holdings", alice)
	addMember(t, env.db, p.ID, bob, models.RoleAdmin)
	createTestProperty(t, env.db, p.ID, "12 Oak St")
	invite(t, env, p.ID, "carol@example.com", models.RoleViewer, alice)

	if err := env.portfolios.Delete(t.Context(), p.ID, bob); !isForbidden(err) {
		t.Fatalf("admin delete: expected ForbiddenError, got %v", err)
	}
	if err := env.portfolios.Delete(t.Context(), p.ID, alice); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	for name, model := range map[string]interface{}{
		"portfolios":  &models.Portfolio{},
		"memberships": &models.Membership{},
		"properties":  &models.Property{},
		"invitations": &models.InvitationToken{},
	} {
		var n int64
		env.db.Model(model).Count(&n)
		if n != 0 {
			t.Errorf("%s left behind: %d", name, n)
		}
	}

	entries, err := audit.Query(t.Context(), env.db, audit.Filter{User: &alice})
	if err != nil {
		t.Fatalf("audit query failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2 kept after delete", len(entries))
	}
	for _, e := range entries {
		if e.PortfolioID != nil {
			t.Errorf("entry %s still references the deleted portfolio", e.ID)
		}
	}
}

func TestAddProperty_RequiresManage(t *testing.T) {
	env := testSetup(t)
	alice := createTestUser(t, env.db, "alice")
	bob := createTestUser(t, env.db, "bob")
	p := createTestPortfolio(t, env, "Oak St Holdings", alice)
	addMember(t, env.db, p.ID, bob, models.RoleMember)

	req := CreatePropertyRequest{Name: "12 Oak St", Address: "12 Oak St, Springfield"}
	if _, err := env.portfolios.AddProperty(t.Context(), p.ID, req, bob); !isForbidden(err) {
		t.Fatalf("member: expected ForbiddenError, got %v", err)
	}
	prop, err := env.portfolios.AddProperty(t.Context(), p.ID, req, alice)
	if err != nil {
		t.Fatalf("AddProperty failed: %v", err)
	}
	if prop.PortfolioID != p.ID {
		t.Errorf("portfolio = %s, want %s", prop.PortfolioID, p.ID)
	}
	if _, err := env.portfolios.AddProperty(t.Context(), p.ID, req, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("outsider: expected ErrNotFound, got %v", err)
	}
}

func TestProperties_HonourRestriction(t *testing.T) {
	env := testSetup(t)
	alice := createTestUser(t, env.db, "alice")
	bob := createTestUser(t, env.db, "bob")
	p := createTestPortfolio(t, env, "Oak St Holdings", alice)
	addMember(t, env.db, p.ID, bob, models.RoleMember)
	p1 := createTestProperty(t, env.db, p.ID, "12 Oak St")
	p2 := createTestProperty(t, env.db, p.ID, "14 Oak St")

	restriction := models.RestrictedTo(map[uuid.UUID]models.PermissionSet{
		p1: models.NewPermissionSet(models.PermissionView, models.PermissionEdit),
	})
	if _, err := env.ledger.SetPropertyAccess(t.Context(), p.ID, bob, restriction, alice); err != nil {
		t.Fatalf("SetPropertyAccess failed: %v", err)
	}

	props, err := env.portfolios.ListProperties(t.Context(), p.ID, bob)
	if err != nil {
		t.Fatalf("ListProperties failed: %v", err)
	}
	if len(props) != 1 || props[0].ID != p1 {
		t.Errorf("properties = %v, want only P1", props)
	}
	if _, err := env.portfolios.GetProperty(t.Context(), p.ID, p1, bob); err != nil {
		t.Errorf("GetProperty(P1) failed: %v", err)
	}
	if _, err := env.portfolios.GetProperty(t.Context(), p.ID, p2, bob); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProperty(P2): expected ErrNotFound, got %v", err)
	}
	if err := env.portfolios.DeleteProperty(t.Context(), p.ID, p1, bob); !isForbidden(err) {
		t.Errorf("member delete: expected ForbiddenError, got %v", err)
	}
	if err := env.portfolios.DeleteProperty(t.Context(), p.ID, p2, bob); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete of hidden property: expected ErrNotFound, got %v", err)
	}

	all, _ := env.portfolios.ListProperties(t.Context(), p.ID, alice)
	if len(all) != 2 {
		t.Errorf("owner sees %d properties, want 2", len(all))
	}
}
