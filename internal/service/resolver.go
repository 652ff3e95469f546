package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/realfolio/realfolio/internal/metrics"
	"github.com/realfolio/realfolio/internal/models"
	"github.com/realfolio/realfolio/internal/rbac"
	"gorm.io/gorm"
)

// AccessResolver answers property-level authorization questions. It never
// writes to the store.
type AccessResolver struct {
	db *gorm.DB
}

// NewAccessResolver creates a new resolver.
func NewAccessResolver(db *gorm.DB) *AccessResolver {
	return &AccessResolver{db: db}
}

// EffectivePermissions computes what a membership allows on one property:
// the role baseline, narrowed by the restriction when there is one. A nil
// membership has no permissions.
func EffectivePermissions(m *models.Membership, propertyID uuid.UUID) models.PermissionSet {
	if m == nil {
		return 0
	}
	baseline := rbac.Baseline(m.Role)
	if !m.PropertyAccess.IsRestricted() {
		return baseline
	}
	granted, ok := m.PropertyAccess.Grant(propertyID)
	if !ok {
		return 0
	}
	return baseline.Intersect(granted)
}

// Membership returns the caller's membership or nil when there is none.
func (r *AccessResolver) Membership(ctx context.Context, userID, portfolioID uuid.UUID) (*models.Membership, error) {
	return findMembership(r.db.WithContext(ctx), portfolioID, userID)
}

// AccessibleProperties returns the ids of the properties userID can reach in
// the portfolio, sorted. Non-members get an empty list. Restricted members
// get the listed properties that still exist.
func (r *AccessResolver) AccessibleProperties(ctx context.Context, userID, portfolioID uuid.UUID) ([]uuid.UUID, error) {
	db := r.db.WithContext(ctx)
	m, err := findMembership(db, portfolioID, userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return []uuid.UUID{}, nil
	}

	q := db.Model(&models.Property{}).Where("portfolio_id = ?", portfolioID)
	if m.PropertyAccess.IsRestricted() {
		listed := m.PropertyAccess.PropertyIDs()
		if len(listed) == 0 {
			return []uuid.UUID{}, nil
		}
		keys := make([]string, len(listed))
		for i, id := range listed {
			keys[i] = id.String()
		}
		q = q.Where("id IN ?", keys)
	}

	var ids []uuid.UUID
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list accessible properties: %w", err)
	}
	models.SortUUIDs(ids)
	return ids, nil
}

// PermissionsFor returns the permissions userID holds on one property.
// Properties that do not exist in the portfolio, including dangling ids left
// in a restriction, yield the empty set.
func (r *AccessResolver) PermissionsFor(ctx context.Context, userID, portfolioID, propertyID uuid.UUID) (models.PermissionSet, error) {
	db := r.db.WithContext(ctx)
	m, err := findMembership(db, portfolioID, userID)
	if err != nil {
		return 0, err
	}
	perms := EffectivePermissions(m, propertyID)
	if perms.IsEmpty() {
		return 0, nil
	}

	var count int64
	if err := db.Model(&models.Property{}).
		Where("id = ? AND portfolio_id = ?", propertyID, portfolioID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to check property: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	return perms, nil
}

// Can reports whether userID holds perm on the property.
func (r *AccessResolver) Can(ctx context.Context, userID, portfolioID, propertyID uuid.UUID, perm models.Permission) (bool, error) {
	perms, err := r.PermissionsFor(ctx, userID, portfolioID, propertyID)
	if err != nil {
		return false, err
	}
	allowed := perms.Has(perm)
	result := "deny"
	if allowed {
		result = "allow"
	}
	metrics.AccessChecks.WithLabelValues(result).Inc()
	return allowed, nil
}

// Summary describes the caller's role and reach in a portfolio.
func (r *AccessResolver) Summary(ctx context.Context, userID, portfolioID uuid.UUID) (*AccessSummary, error) {
	m, err := r.Membership(ctx, userID, portfolioID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("portfolio %s: %w", portfolioID, ErrNotFound)
	}
	props, err := r.AccessibleProperties(ctx, userID, portfolioID)
	if err != nil {
		return nil, err
	}
	return &AccessSummary{
		PortfolioID: portfolioID,
		Role:        m.Role,
		Restricted:  m.PropertyAccess.IsRestricted(),
		Properties:  props,
		Access:      m.PropertyAccess,
	}, nil
}
