package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/realfolio/realfolio/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// forUpdate adds FOR UPDATE on PostgreSQL. SQLite runs on a single writer
// connection, so transactions there are already serialised.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func loadPortfolio(tx *gorm.DB, portfolioID uuid.UUID) (*models.Portfolio, error) {
	var p models.Portfolio
	if err := tx.First(&p, "id = ?", portfolioID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("portfolio %s: %w", portfolioID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load portfolio: %w", err)
	}
	return &p, nil
}

// findMembership returns nil without error when the user is not a member.
func findMembership(tx *gorm.DB, portfolioID, userID uuid.UUID) (*models.Membership, error) {
	var m models.Membership
	err := tx.Where("portfolio_id = ? AND user_id = ?", portfolioID, userID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load membership: %w", err)
	}
	return &m, nil
}

func roleOf(m *models.Membership) models.Role {
	if m == nil {
		return models.NotAMember
	}
	return m.Role
}

// lockedMembers is the set of membership rows a ledger mutation reads under
// lock: the rows of the users involved plus every owner of the portfolio.
type lockedMembers struct {
	byUser map[uuid.UUID]*models.Membership
	owners int
}

// lockMembers reads the involved rows and the owner set in one ordered
// statement so concurrent mutations acquire row locks in the same order.
func lockMembers(tx *gorm.DB, portfolioID uuid.UUID, userIDs ...uuid.UUID) (*lockedMembers, error) {
	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = id.String()
	}

	var rows []models.Membership
	err := forUpdate(tx).
		Where("portfolio_id = ? AND (user_id IN ? OR role = ?)", portfolioID, ids, models.RoleOwner).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to lock memberships: %w", err)
	}

	set := &lockedMembers{byUser: make(map[uuid.UUID]*models.Membership, len(rows))}
	for i := range rows {
		set.byUser[rows[i].UserID] = &rows[i]
		if rows[i].Role == models.RoleOwner {
			set.owners++
		}
	}
	return set, nil
}

func (s *lockedMembers) get(userID uuid.UUID) *models.Membership {
	return s.byUser[userID]
}

func (s *lockedMembers) role(userID uuid.UUID) models.Role {
	return roleOf(s.byUser[userID])
}

// validateAccess checks that every property named in a restriction belongs
// to the portfolio.
func validateAccess(tx *gorm.DB, portfolioID uuid.UUID, access models.PropertyAccess) error {
	if !access.IsRestricted() {
		return nil
	}
	ids := access.PropertyIDs()
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	var found []string
	err := tx.Model(&models.Property{}).
		Where("portfolio_id = ? AND id IN ?", portfolioID, keys).
		Pluck("id", &found).Error
	if err != nil {
		return fmt.Errorf("failed to check properties: %w", err)
	}
	if len(found) == len(keys) {
		return nil
	}

	known := make(map[string]bool, len(found))
	for _, id := range found {
		known[id] = true
	}
	for _, id := range keys {
		if !known[id] {
			return &ValidationError{Message: fmt.Sprintf("property %s does not belong to this portfolio", id)}
		}
	}
	return nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	var (
		forbidden *ForbiddenError
		conflict  *ConflictError
		invariant *InvariantViolationError
		invalid   *ValidationError
	)
	switch {
	case errors.As(err, &forbidden):
		return "forbidden"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &invariant):
		return "invariant_violation"
	case errors.As(err, &invalid):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, ErrAlreadyMember):
		return "already_member"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	}
	return "error"
}
