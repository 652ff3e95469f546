package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/realfolio/realfolio/internal/audit"
	"github.com/realfolio/realfolio/internal/models"
	"github.com/realfolio/realfolio/internal/rbac"
	"gorm.io/gorm"
)

// PortfolioService manages portfolios and their properties. Access checks
// go through the resolver so property reads honour restrictions.
type PortfolioService struct {
	db       *gorm.DB
	resolver *AccessResolver
}

// NewPortfolioService creates a new portfolio service.
func NewPortfolioService(db *gorm.DB, resolver *AccessResolver) *PortfolioService {
	return &PortfolioService{db: db, resolver: resolver}
}

// PortfolioWithRole pairs a portfolio with the caller's role in it.
type PortfolioWithRole struct {
	models.Portfolio
	Role models.Role `json:"role"`
}

// Create makes a portfolio and its owner membership in one transaction.
func (s *PortfolioService) Create(ctx context.Context, req CreatePortfolioRequest, userID uuid.UUID) (*models.Portfolio, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &ValidationError{Message: "portfolio name is required"}
	}

	p := models.Portfolio{Name: name, Description: req.Description, CreatedBy: userID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&p).Error; err != nil {
			return fmt.Errorf("failed to create portfolio: %w", err)
		}
		_, err := createOwner(tx, p.ID, userID, &userID, "portfolio_created")
		return err
	})
	record("create_owner", err)
	if err != nil {
		return nil, err
	}

	slog.Info("Portfolio created", "portfolio_id", p.ID, "name", p.Name, "user_id", userID)
	return &p, nil
}

// List returns the portfolios userID is a member of, with the role held.
func (s *PortfolioService) List(ctx context.Context, userID uuid.UUID) ([]PortfolioWithRole, error) {
	var rows []PortfolioWithRole
	err := s.db.WithContext(ctx).Model(&models.Portfolio{}).
		Select("portfolios.*, memberships.role AS role").
		Joins("JOIN memberships ON memberships.portfolio_id = portfolios.id").
		Where("memberships.user_id = ?", userID).
		Order("portfolios.created_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}
	return rows, nil
}

// Get returns a portfolio the caller belongs to. Non-members get ErrNotFound
// so the portfolio's existence is not disclosed.
func (s *PortfolioService) Get(ctx context.Context, portfolioID, userID uuid.UUID) (*PortfolioWithRole, error) {
	m, err := s.resolver.Membership(ctx, userID, portfolioID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("portfolio %s: %w", portfolioID, ErrNotFound)
	}
	p, err := loadPortfolio(s.db.WithContext(ctx), portfolioID)
	if err != nil {
		return nil, err
	}
	return &PortfolioWithRole{Portfolio: *p, Role: m.Role}, nil
}

// Delete removes a portfolio with its properties, memberships and
// invitations. Audit entries are kept with the portfolio reference cleared.
func (s *PortfolioService) Delete(ctx context.Context, portfolioID, userID uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadPortfolio(tx, portfolioID); err != nil {
			return err
		}
		m, err := findMembership(forUpdate(tx), portfolioID, userID)
		if err != nil {
			return err
		}
		if m == nil {
			return fmt.Errorf("portfolio %s: %w", portfolioID, ErrNotFound)
		}
		if !rbac.CanDeletePortfolio(m.Role) {
			return &ForbiddenError{Message: "only owners can delete a portfolio"}
		}

		if err := audit.DetachPortfolio(tx, portfolioID); err != nil {
			return err
		}
		for _, model := range []interface{}{&models.InvitationToken{}, &models.Membership{}, &models.Property{}} {
			if err := tx.Where("portfolio_id = ?", portfolioID).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to delete portfolio data: %w", err)
			}
		}
		if err := tx.Delete(&models.Portfolio{}, "id = ?", portfolioID).Error; err != nil {
			return fmt.Errorf("failed to delete portfolio: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("Portfolio deleted", "portfolio_id", portfolioID, "user_id", userID)
	return nil
}

// AddProperty creates a property. The caller's role must carry manage;
// restrictions do not apply to properties that do not exist yet.
func (s *PortfolioService) AddProperty(ctx context.Context, portfolioID uuid.UUID, req CreatePropertyRequest, userID uuid.UUID) (*models.Property, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &ValidationError{Message: "property name is required"}
	}

	m, err := s.resolver.Membership(ctx, userID, portfolioID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("portfolio %s: %w", portfolioID, ErrNotFound)
	}
	if !rbac.Baseline(m.Role).Has(models.PermissionManage) {
		return nil, &ForbiddenError{Message: "only owners and admins can add properties"}
	}

	prop := models.Property{PortfolioID: portfolioID, Name: name, Address: req.Address}
	if err := s.db.WithContext(ctx).Create(&prop).Error; err != nil {
		return nil, fmt.Errorf("failed to create property: %w", err)
	}

	slog.Info("Property created", "property_id", prop.ID, "portfolio_id", portfolioID, "user_id", userID)
	return &prop, nil
}

// ListProperties returns the properties the caller can reach, ordered by id.
func (s *PortfolioService) ListProperties(ctx context.Context, portfolioID, userID uuid.UUID) ([]models.Property, error) {
	m, err := s.resolver.Membership(ctx, userID, portfolioID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("portfolio %s: %w", portfolioID, ErrNotFound)
	}

	reachable, err := s.resolver.AccessibleProperties(ctx, userID, portfolioID)
	if err != nil {
		return nil, err
	}
	if len(reachable) == 0 {
		return []models.Property{}, nil
	}
	keys := make([]string, len(reachable))
	for i, id := range reachable {
		keys[i] = id.String()
	}

	var props []models.Property
	if err := s.db.WithContext(ctx).Where("id IN ?", keys).Order("id").Find(&props).Error; err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}
	return props, nil
}

// GetProperty returns a property the caller can view.
func (s *PortfolioService) GetProperty(ctx context.Context, portfolioID, propertyID, userID uuid.UUID) (*models.Property, error) {
	ok, err := s.resolver.Can(ctx, userID, portfolioID, propertyID, models.PermissionView)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("property %s: %w", propertyID, ErrNotFound)
	}

	var prop models.Property
	if err := s.db.WithContext(ctx).Take(&prop, "id = ? AND portfolio_id = ?", propertyID, portfolioID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("property %s: %w", propertyID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load property: %w", err)
	}
	return &prop, nil
}

// DeleteProperty removes a property the caller holds delete on. Restrictions
// naming it are left in place and resolve to no access.
func (s *PortfolioService) DeleteProperty(ctx context.Context, portfolioID, propertyID, userID uuid.UUID) error {
	perms, err := s.resolver.PermissionsFor(ctx, userID, portfolioID, propertyID)
	if err != nil {
		return err
	}
	if !perms.Has(models.PermissionView) {
		return fmt.Errorf("property %s: %w", propertyID, ErrNotFound)
	}
	if !perms.Has(models.PermissionDelete) {
		return &ForbiddenError{Message: "deleting this property requires the delete permission"}
	}

	if err := s.db.WithContext(ctx).Delete(&models.Property{}, "id = ? AND portfolio_id = ?", propertyID, portfolioID).Error; err != nil {
		return fmt.Errorf("failed to delete property: %w", err)
	}

	slog.Info("Property deleted", "property_id", propertyID, "portfolio_id", portfolioID, "user_id", userID)
	return nil
}
