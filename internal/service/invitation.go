package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/realfolio/realfolio/internal/audit"
	"github.com/realfolio/realfolio/internal/ids"
	"github.com/realfolio/realfolio/internal/metrics"
	"github.com/realfolio/realfolio/internal/models"
	"github.com/realfolio/realfolio/internal/queue"
	"github.com/realfolio/realfolio/internal/rbac"
	"gorm.io/gorm"
)

// DefaultInvitationTTL is how long an invitation stays redeemable.
const DefaultInvitationTTL = 7 * 24 * time.Hour

// InvitationService issues and redeems invitation tokens.
type InvitationService struct {
	db    *gorm.DB
	queue queue.Queue
	ttl   time.Duration
	now   func() time.Time
}

// NewInvitationService creates a new invitation service. q may be nil, in
// which case no notification e-mails are sent.
func NewInvitationService(db *gorm.DB, q queue.Queue, ttl time.Duration) *InvitationService {
	if ttl <= 0 {
		ttl = DefaultInvitationTTL
	}
	return &InvitationService{
		db:    db,
		queue: q,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type invitationSnapshot struct {
	InvitationID   uuid.UUID             `json:"invitation_id"`
	Email          string                `json:"email,omitempty"`
	Role           models.Role           `json:"role"`
	PropertyAccess models.PropertyAccess `json:"property_access"`
	ExpiresAt      *time.Time            `json:"expires_at,omitempty"`
	InvitedBy      uuid.UUID             `json:"invited_by"`
}

func event(name string, err error) {
	metrics.InvitationEvents.WithLabelValues(name, outcomeOf(err)).Inc()
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", &ValidationError{Message: fmt.Sprintf("invalid email address %q", raw)}
	}
	return strings.ToLower(addr.Address), nil
}

// CreateInvitation issues a token inviting req.Email into the portfolio. The
// returned token is the only copy of the credential.
func (s *InvitationService) CreateInvitation(ctx context.Context, req CreateInvitationRequest, actorID uuid.UUID) (*CreatedInvitation, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		event("create", err)
		return nil, err
	}
	if !req.Role.Valid() {
		err := &ValidationError{Message: fmt.Sprintf("invalid role %q", req.Role)}
		event("create", err)
		return nil, err
	}

	token, err := ids.NewToken()
	if err != nil {
		return nil, err
	}

	var (
		inv     *models.InvitationToken
		notice  *queue.InvitationNotice
		created = s.now()
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		portfolio, err := loadPortfolio(tx, req.PortfolioID)
		if err != nil {
			return err
		}
		actor, err := findMembership(tx, req.PortfolioID, actorID)
		if err != nil {
			return err
		}
		actorRole := roleOf(actor)
		if !rbac.CanManageMembers(actorRole) {
			return &ForbiddenError{Message: "only owners and admins can invite members"}
		}
		if !rbac.CanAssign(actorRole, req.Role) {
			return &ForbiddenError{Message: "only owners can invite owners"}
		}
		if err := validateAccess(tx, req.PortfolioID, req.Access); err != nil {
			return err
		}

		inv = &models.InvitationToken{
			TokenHash:      ids.HashToken(token),
			PortfolioID:    req.PortfolioID,
			Email:          email,
			Role:           req.Role,
			PropertyAccess: req.Access,
			Status:         models.InvitationPending,
			InvitedBy:      actorID,
			ExpiresAt:      created.Add(s.ttl),
		}
		if err := tx.Create(inv).Error; err != nil {
			return fmt.Errorf("failed to create invitation: %w", err)
		}

		if _, err := audit.Record(tx, audit.Entry{
			Action:    models.AuditInvitationSent,
			Portfolio: &req.PortfolioID,
			Actor:     &actorID,
			New: invitationSnapshot{
				InvitationID:   inv.ID,
				Email:          email,
				Role:           inv.Role,
				PropertyAccess: inv.PropertyAccess,
				ExpiresAt:      &inv.ExpiresAt,
				InvitedBy:      actorID,
			},
		}); err != nil {
			return err
		}

		notice = &queue.InvitationNotice{
			InvitationID:  inv.ID,
			PortfolioID:   portfolio.ID,
			PortfolioName: portfolio.Name,
			Email:         email,
			Role:          inv.Role,
			InvitedBy:     inviterName(tx, actorID),
			Token:         token,
			ExpiresAt:     inv.ExpiresAt,
		}
		return nil
	})
	event("create", err)
	if err != nil {
		return nil, err
	}

	slog.Info("Invitation sent", "invitation_id", inv.ID, "portfolio_id", inv.PortfolioID, "email", email, "role", inv.Role, "actor", actorID)
	s.notify(ctx, notice)
	return &CreatedInvitation{Invitation: inv, Token: token}, nil
}

func inviterName(tx *gorm.DB, userID uuid.UUID) string {
	var u models.User
	if err := tx.Select("username", "display_name").Take(&u, "id = ?", userID).Error; err != nil {
		return ""
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// notify enqueues the invitation e-mail. Delivery is best effort: the
// invitation is already committed and the inviter holds the token.
func (s *InvitationService) notify(ctx context.Context, n *queue.InvitationNotice) {
	if s.queue == nil || n == nil {
		return
	}
	if err := s.queue.Enqueue(ctx, n); err != nil {
		metrics.Notifications.WithLabelValues("enqueue_failed").Inc()
		slog.Warn("Failed to enqueue invitation notice", "invitation_id", n.InvitationID, "error", err)
	}
}

// RedeemInvitation accepts token on behalf of userID and returns the new
// membership. The token transition and the membership insert commit
// together; of two concurrent redemptions exactly one succeeds.
func (s *InvitationService) RedeemInvitation(ctx context.Context, token string, userID uuid.UUID) (*models.Membership, error) {
	now := s.now()
	hash := ids.HashToken(token)

	var (
		membership *models.Membership
		lapsed     *models.InvitationToken
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv models.InvitationToken
		if err := tx.Where("token_hash = ?", hash).Take(&inv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return invitationErr(ErrNotFound, "invitation not found")
			}
			return fmt.Errorf("failed to load invitation: %w", err)
		}

		// Expiry wins over every stored status; only a pending row is flipped.
		switch {
		case inv.IsExpired(now):
			if inv.Status == models.InvitationPending {
				lapsed = &inv
			}
			return invitationErr(ErrExpired, fmt.Sprintf("invitation expired at %s", inv.ExpiresAt.Format(time.RFC3339)))
		case inv.Status == models.InvitationExpired:
			return invitationErr(ErrExpired, "invitation has expired")
		case inv.Status != models.InvitationPending:
			return invitationErr(ErrAlreadyUsed, fmt.Sprintf("invitation is %s", inv.Status))
		}

		existing, err := findMembership(tx, inv.PortfolioID, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return invitationErr(ErrAlreadyMember, fmt.Sprintf("already a %s of this portfolio", existing.Role))
		}

		res := tx.Model(&models.InvitationToken{}).
			Where("id = ? AND status = ? AND expires_at >= ?", inv.ID, models.InvitationPending, now).
			Updates(map[string]interface{}{
				"status":     models.InvitationAccepted,
				"used_at":    now,
				"used_by":    userID,
				"updated_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to accept invitation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return invitationErr(ErrAlreadyUsed, "invitation was redeemed concurrently")
		}

		invitedAt := inv.CreatedAt
		inviter := inv.InvitedBy
		m := models.Membership{
			UserID:         userID,
			PortfolioID:    inv.PortfolioID,
			Role:           inv.Role,
			PropertyAccess: inv.PropertyAccess,
			InvitedBy:      &inviter,
			InvitedAt:      &invitedAt,
			AcceptedAt:     &now,
		}
		if err := tx.Create(&m).Error; err != nil {
			if isUniqueViolation(err) {
				return invitationErr(ErrAlreadyMember, "already a member of this portfolio")
			}
			return fmt.Errorf("failed to create membership: %w", err)
		}

		if _, err := audit.Record(tx, audit.Entry{
			Action:    models.AuditInvitationAccepted,
			Portfolio: &inv.PortfolioID,
			Subject:   &userID,
			Actor:     &userID,
			New: invitationSnapshot{
				InvitationID:   inv.ID,
				Role:           inv.Role,
				PropertyAccess: inv.PropertyAccess,
				InvitedBy:      inv.InvitedBy,
			},
		}); err != nil {
			return err
		}
		membership = &m
		return nil
	})

	if lapsed != nil {
		s.expire(ctx, lapsed.ID, now)
	}
	event("redeem", err)
	if err != nil {
		return nil, err
	}

	slog.Info("Invitation accepted", "portfolio_id", membership.PortfolioID, "user_id", userID, "role", membership.Role)
	return membership, nil
}

// expire flips a lapsed pending token to expired. The check that found it
// lapsed has already failed the caller, so an error here is only logged.
func (s *InvitationService) expire(ctx context.Context, id uuid.UUID, now time.Time) {
	res := s.db.WithContext(ctx).Model(&models.InvitationToken{}).
		Where("id = ? AND status = ? AND expires_at < ?", id, models.InvitationPending, now).
		Updates(map[string]interface{}{"status": models.InvitationExpired, "updated_at": now})
	if res.Error != nil {
		slog.Warn("Failed to mark invitation expired", "invitation_id", id, "error", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		event("expire", nil)
		slog.Debug("Invitation expired", "invitation_id", id)
	}
}

// RevokeInvitation cancels a pending invitation identified by its token.
func (s *InvitationService) RevokeInvitation(ctx context.Context, token string, actorID uuid.UUID) error {
	return s.revoke(ctx, actorID, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("token_hash = ?", ids.HashToken(token))
	})
}

// RevokeInvitationByID cancels a pending invitation of the portfolio. Inviters
// use it from the pending list, where the token is no longer known.
func (s *InvitationService) RevokeInvitationByID(ctx context.Context, portfolioID, invitationID, actorID uuid.UUID) error {
	return s.revoke(ctx, actorID, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("id = ? AND portfolio_id = ?", invitationID, portfolioID)
	})
}

func (s *InvitationService) revoke(ctx context.Context, actorID uuid.UUID, scope func(*gorm.DB) *gorm.DB) error {
	now := s.now()
	var inv models.InvitationToken
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := scope(tx).Take(&inv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return invitationErr(ErrNotFound, "invitation not found")
			}
			return fmt.Errorf("failed to load invitation: %w", err)
		}

		actor, err := findMembership(tx, inv.PortfolioID, actorID)
		if err != nil {
			return err
		}
		actorRole := roleOf(actor)
		if !rbac.CanManageMembers(actorRole) {
			return &ForbiddenError{Message: "only owners and admins can revoke invitations"}
		}
		if !rbac.CanAssign(actorRole, inv.Role) {
			return &ForbiddenError{Message: "only owners can revoke an owner invitation"}
		}

		if inv.Status != models.InvitationPending {
			return invitationErr(ErrInvalidState, fmt.Sprintf("invitation is %s", inv.Status))
		}
		if inv.IsExpired(now) {
			return invitationErr(ErrInvalidState, "invitation has expired")
		}

		res := tx.Model(&models.InvitationToken{}).
			Where("id = ? AND status = ?", inv.ID, models.InvitationPending).
			Updates(map[string]interface{}{"status": models.InvitationRevoked, "updated_at": now})
		if res.Error != nil {
			return fmt.Errorf("failed to revoke invitation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return invitationErr(ErrInvalidState, "invitation is no longer pending")
		}
		return nil
	})
	event("revoke", err)
	if err != nil {
		return err
	}

	slog.Info("Invitation revoked", "invitation_id", inv.ID, "portfolio_id", inv.PortfolioID, "actor", actorID)
	return nil
}

// ListPendingForPortfolio returns the invitations that can still be redeemed,
// oldest first. Lapsed tokens still stored as pending are left out.
func (s *InvitationService) ListPendingForPortfolio(ctx context.Context, portfolioID uuid.UUID) ([]models.InvitationToken, error) {
	var pending []models.InvitationToken
	err := s.db.WithContext(ctx).
		Where("portfolio_id = ? AND status = ? AND expires_at >= ?", portfolioID, models.InvitationPending, s.now()).
		Order("created_at ASC").
		Find(&pending).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	return pending, nil
}

// Inspect returns the invitation behind token with its portfolio loaded, so a
// recipient can see what they are accepting. A lapsed pending token is marked
// expired on the way.
func (s *InvitationService) Inspect(ctx context.Context, token string) (*models.InvitationToken, error) {
	now := s.now()
	var inv models.InvitationToken
	err := s.db.WithContext(ctx).Preload("Portfolio").
		Where("token_hash = ?", ids.HashToken(token)).
		Take(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invitationErr(ErrNotFound, "invitation not found")
		}
		return nil, fmt.Errorf("failed to load invitation: %w", err)
	}

	if inv.Status == models.InvitationPending && inv.IsExpired(now) {
		s.expire(ctx, inv.ID, now)
		inv.Status = models.InvitationExpired
	}
	return &inv, nil
}
