package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/realfolio/realfolio/internal/audit"
	"github.com/realfolio/realfolio/internal/metrics"
	"github.com/realfolio/realfolio/internal/models"
	"github.com/realfolio/realfolio/internal/rbac"
	"gorm.io/gorm"
)

// MembershipLedger owns every change to portfolio memberships. Each mutation
// runs in one transaction holding the authorization check, the owner
// invariant check, the write and its audit entry.
type MembershipLedger struct {
	db *gorm.DB
}

// NewMembershipLedger creates a new ledger.
func NewMembershipLedger(db *gorm.DB) *MembershipLedger {
	return &MembershipLedger{db: db}
}

type roleSnapshot struct {
	Role   models.Role `json:"role"`
	Source string      `json:"source,omitempty"`
}

type accessSnapshot struct {
	Mode           string                `json:"mode"`
	PropertyAccess models.PropertyAccess `json:"property_access"`
}

func snapshotAccess(a models.PropertyAccess) accessSnapshot {
	if a.IsRestricted() {
		return accessSnapshot{Mode: "restricted", PropertyAccess: a}
	}
	return accessSnapshot{Mode: "unrestricted", PropertyAccess: a}
}

type membershipSnapshot struct {
	Role           models.Role           `json:"role"`
	PropertyAccess models.PropertyAccess `json:"property_access"`
	Reason         string                `json:"reason,omitempty"`
}

func record(action string, err error) {
	metrics.MembershipMutations.WithLabelValues(action, outcomeOf(err)).Inc()
}

// CreateOwnerMembership makes userID the owner of a new portfolio. It fails
// with ConflictError when the user already has a membership there.
func (l *MembershipLedger) CreateOwnerMembership(ctx context.Context, portfolioID, userID uuid.UUID) (*models.Membership, error) {
	var m *models.Membership
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		m, err = createOwner(tx, portfolioID, userID, &userID, "portfolio_created")
		return err
	})
	record("create_owner", err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// createOwner inserts an owner row inside tx. actor is nil for system repairs.
func createOwner(tx *gorm.DB, portfolioID, userID uuid.UUID, actor *uuid.UUID, source string) (*models.Membership, error) {
	existing, err := findMembership(tx, portfolioID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &ConflictError{Message: "user already has a membership in this portfolio"}
	}

	now := time.Now().UTC()
	m := models.Membership{
		UserID:      userID,
		PortfolioID: portfolioID,
		Role:        models.RoleOwner,
		AcceptedAt:  &now,
	}
	if err := tx.Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, &ConflictError{Message: "user already has a membership in this portfolio"}
		}
		return nil, fmt.Errorf("failed to create owner membership: %w", err)
	}

	_, err = audit.Record(tx, audit.Entry{
		Action:    models.AuditRoleChange,
		Portfolio: &portfolioID,
		Subject:   &userID,
		Actor:     actor,
		New:       roleSnapshot{Role: models.RoleOwner, Source: source},
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ChangeRole sets the role of targetID. Only owners and admins may change
// roles, admins never touch owners, and the last owner and the portfolio
// creator cannot be demoted.
func (l *MembershipLedger) ChangeRole(ctx context.Context, portfolioID, targetID uuid.UUID, newRole models.Role, actorID uuid.UUID) (*models.Membership, error) {
	if !newRole.Valid() {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid role %q", newRole)}
	}

	var result *models.Membership
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		portfolio, err := loadPortfolio(tx, portfolioID)
		if err != nil {
			return err
		}
		set, err := lockMembers(tx, portfolioID, actorID, targetID)
		if err != nil {
			return err
		}

		actorRole := set.role(actorID)
		if !rbac.CanManageMembers(actorRole) {
			return &ForbiddenError{Message: "only owners and admins can change roles"}
		}
		target := set.get(targetID)
		if target == nil {
			return fmt.Errorf("membership: %w", ErrNotFound)
		}
		if !rbac.CanModify(actorRole, target.Role) {
			return &ForbiddenError{Message: "admins cannot change an owner's role"}
		}
		if !rbac.CanAssign(actorRole, newRole) {
			return &ForbiddenError{Message: "only owners can grant the owner role"}
		}
		if target.Role == newRole {
			result = target
			return nil
		}
		if target.Role == models.RoleOwner {
			if err := checkOwnerRemains(portfolio, set, targetID); err != nil {
				return err
			}
		}

		oldRole := target.Role
		if err := tx.Model(target).Update("role", newRole).Error; err != nil {
			return fmt.Errorf("failed to update role: %w", err)
		}
		target.Role = newRole

		if _, err := audit.Record(tx, audit.Entry{
			Action:    models.AuditRoleChange,
			Portfolio: &portfolioID,
			Subject:   &targetID,
			Actor:     &actorID,
			Old:       roleSnapshot{Role: oldRole},
			New:       roleSnapshot{Role: newRole},
		}); err != nil {
			return err
		}
		result = target
		return nil
	})
	record("change_role", err)
	if err != nil {
		return nil, err
	}

	slog.Info("Membership role changed", "portfolio_id", portfolioID, "user_id", targetID, "role", result.Role, "actor", actorID)
	return result, nil
}

// checkOwnerRemains rejects losing the owner row of userID when it is the
// last owner or belongs to the portfolio creator.
func checkOwnerRemains(p *models.Portfolio, set *lockedMembers, userID uuid.UUID) error {
	if set.owners <= 1 {
		return &InvariantViolationError{Message: "a portfolio must keep at least one owner"}
	}
	if p.CreatedBy == userID {
		return &InvariantViolationError{Message: "the portfolio creator must remain an owner"}
	}
	return nil
}

// SetPropertyAccess replaces the property restriction of targetID. Passing
// models.Unrestricted() clears it. Members cannot edit their own access.
func (l *MembershipLedger) SetPropertyAccess(ctx context.Context, portfolioID, targetID uuid.UUID, access models.PropertyAccess, actorID uuid.UUID) (*models.Membership, error) {
	var result *models.Membership
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadPortfolio(tx, portfolioID); err != nil {
			return err
		}
		set, err := lockMembers(tx, portfolioID, actorID, targetID)
		if err != nil {
			return err
		}

		actorRole := set.role(actorID)
		if !rbac.CanManageMembers(actorRole) {
			return &ForbiddenError{Message: "only owners and admins can change property access"}
		}
		if actorID == targetID {
			return &ForbiddenError{Message: "members cannot change their own property access"}
		}
		target := set.get(targetID)
		if target == nil {
			return fmt.Errorf("membership: %w", ErrNotFound)
		}
		if !rbac.CanModify(actorRole, target.Role) {
			return &ForbiddenError{Message: "admins cannot restrict an owner"}
		}
		if err := validateAccess(tx, portfolioID, access); err != nil {
			return err
		}
		if target.PropertyAccess.Equal(access) {
			result = target
			return nil
		}

		old := target.PropertyAccess
		if err := tx.Model(target).Update("property_access", access).Error; err != nil {
			return fmt.Errorf("failed to update property access: %w", err)
		}
		target.PropertyAccess = access

		if _, err := audit.Record(tx, audit.Entry{
			Action:    models.AuditAccessRevoked,
			Portfolio: &portfolioID,
			Subject:   &targetID,
			Actor:     &actorID,
			Old:       snapshotAccess(old),
			New:       snapshotAccess(access),
		}); err != nil {
			return err
		}
		result = target
		return nil
	})
	record("set_property_access", err)
	if err != nil {
		return nil, err
	}

	slog.Info("Property access changed", "portfolio_id", portfolioID, "user_id", targetID, "access", result.PropertyAccess.String(), "actor", actorID)
	return result, nil
}

// RevokeMembership removes targetID from the portfolio. Owners and admins may
// remove others; any member may remove themselves.
func (l *MembershipLedger) RevokeMembership(ctx context.Context, portfolioID, targetID, actorID uuid.UUID) error {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		portfolio, err := loadPortfolio(tx, portfolioID)
		if err != nil {
			return err
		}
		set, err := lockMembers(tx, portfolioID, actorID, targetID)
		if err != nil {
			return err
		}

		target := set.get(targetID)
		reason := "left"
		if actorID != targetID {
			reason = "removed"
			actorRole := set.role(actorID)
			if !rbac.CanManageMembers(actorRole) {
				return &ForbiddenError{Message: "only owners and admins can remove members"}
			}
			if target != nil && !rbac.CanModify(actorRole, target.Role) {
				return &ForbiddenError{Message: "admins cannot remove an owner"}
			}
		}
		if target == nil {
			return fmt.Errorf("membership: %w", ErrNotFound)
		}
		if target.Role == models.RoleOwner {
			if err := checkOwnerRemains(portfolio, set, targetID); err != nil {
				return err
			}
		}

		if err := tx.Delete(target).Error; err != nil {
			return fmt.Errorf("failed to delete membership: %w", err)
		}
		_, err = audit.Record(tx, audit.Entry{
			Action:    models.AuditAccessRevoked,
			Portfolio: &portfolioID,
			Subject:   &targetID,
			Actor:     &actorID,
			Old:       membershipSnapshot{Role: target.Role, PropertyAccess: target.PropertyAccess, Reason: reason},
		})
		return err
	})
	record("revoke_membership", err)
	if err != nil {
		return err
	}

	slog.Info("Membership revoked", "portfolio_id", portfolioID, "user_id", targetID, "actor", actorID)
	return nil
}

// ResolveRole returns the role of userID in the portfolio, or
// models.NotAMember when there is none. Lookup failures are logged and
// reported as NotAMember.
func (l *MembershipLedger) ResolveRole(ctx context.Context, portfolioID, userID uuid.UUID) models.Role {
	m, err := findMembership(l.db.WithContext(ctx), portfolioID, userID)
	if err != nil {
		slog.Warn("Role lookup failed", "portfolio_id", portfolioID, "user_id", userID, "error", err)
		return models.NotAMember
	}
	return roleOf(m)
}

// ListMembers returns the memberships of a portfolio, oldest first. Any
// member may list them.
func (l *MembershipLedger) ListMembers(ctx context.Context, portfolioID, actorID uuid.UUID) ([]models.Membership, error) {
	db := l.db.WithContext(ctx)
	if l.ResolveRole(ctx, portfolioID, actorID) == models.NotAMember {
		return nil, fmt.Errorf("portfolio %s: %w", portfolioID, ErrNotFound)
	}

	var members []models.Membership
	if err := db.Preload("User").
		Where("portfolio_id = ?", portfolioID).
		Order("created_at ASC").
		Find(&members).Error; err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// RepairOwnerMemberships restores the creator-is-owner invariant: creators
// without a membership get an owner row and creators holding a lower role
// are promoted. Each fix is audited as a system change. With dryRun the
// affected portfolios are reported and nothing is written. Running it again
// after a successful run finds nothing to do.
func (l *MembershipLedger) RepairOwnerMemberships(ctx context.Context, dryRun bool) (*RepairReport, error) {
	start := time.Now()
	db := l.db.WithContext(ctx)

	var scanned int64
	if err := db.Model(&models.Portfolio{}).Count(&scanned).Error; err != nil {
		return nil, fmt.Errorf("failed to count portfolios: %w", err)
	}

	type drift struct {
		ID        uuid.UUID
		Name      string
		CreatedBy uuid.UUID
		Role      *string
	}
	var rows []drift
	err := db.Model(&models.Portfolio{}).
		Select("portfolios.id, portfolios.name, portfolios.created_by, memberships.role").
		Joins("LEFT JOIN memberships ON memberships.portfolio_id = portfolios.id AND memberships.user_id = portfolios.created_by").
		Where("memberships.id IS NULL OR memberships.role <> ?", models.RoleOwner).
		Order("portfolios.created_at").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan for drifted portfolios: %w", err)
	}

	report := &RepairReport{Scanned: int(scanned), Items: make([]RepairItem, 0, len(rows)), Applied: !dryRun}
	for _, r := range rows {
		item := RepairItem{PortfolioID: r.ID, PortfolioName: r.Name, CreatorID: r.CreatedBy}
		if r.Role != nil {
			item.PreviousRole = models.Role(*r.Role)
		}
		report.Items = append(report.Items, item)
	}

	if !dryRun {
		for _, item := range report.Items {
			if err := db.Transaction(func(tx *gorm.DB) error {
				return repairOne(tx, item)
			}); err != nil {
				return nil, fmt.Errorf("failed to repair portfolio %s: %w", item.PortfolioID, err)
			}
			metrics.RepairedMemberships.Inc()
		}
	}

	report.Duration = time.Since(start)
	slog.Info("Owner membership repair finished",
		"scanned", report.Scanned,
		"drifted", len(report.Items),
		"applied", report.Applied,
		"duration", report.Duration.String())
	return report, nil
}

func repairOne(tx *gorm.DB, item RepairItem) error {
	existing, err := findMembership(forUpdate(tx), item.PortfolioID, item.CreatorID)
	if err != nil {
		return err
	}
	if existing == nil {
		_, err := createOwner(tx, item.PortfolioID, item.CreatorID, nil, "repair")
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return nil
		}
		return err
	}
	if existing.Role == models.RoleOwner {
		return nil
	}

	oldRole := existing.Role
	if err := tx.Model(existing).Update("role", models.RoleOwner).Error; err != nil {
		return fmt.Errorf("failed to promote creator: %w", err)
	}
	_, err = audit.Record(tx, audit.Entry{
		Action:    models.AuditRoleChange,
		Portfolio: &item.PortfolioID,
		Subject:   &item.CreatorID,
		Old:       roleSnapshot{Role: oldRole},
		New:       roleSnapshot{Role: models.RoleOwner, Source: "repair"},
	})
	return err
}
