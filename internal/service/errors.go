package service

import "errors"

var (
	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrExpired indicates an invitation is past its expiry.
	ErrExpired = errors.New("invitation expired")

	// ErrAlreadyUsed indicates an invitation is no longer pending.
	ErrAlreadyUsed = errors.New("invitation already used")

	// ErrAlreadyMember indicates the redeeming user already belongs to the portfolio.
	ErrAlreadyMember = errors.New("already a member of this portfolio")

	// ErrInvalidState indicates an invitation cannot make the requested transition.
	ErrInvalidState = errors.New("invalid invitation state")
)

// ValidationError represents a bad-request condition (HTTP 400).
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError represents a conflict condition (HTTP 409).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ForbiddenError means the actor's role does not allow the operation (HTTP 403).
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string { return e.Message }

// InvariantViolationError means the operation would leave a portfolio
// without an owner. It is never resolved by coercing another member.
type InvariantViolationError struct {
	Message string
}

func (e *InvariantViolationError) Error() string { return e.Message }

// invitationError wraps one of the invitation sentinels with context.
type invitationError struct {
	kind error
	msg  string
}

func (e *invitationError) Error() string { return e.msg }
func (e *invitationError) Unwrap() error { return e.kind }

func invitationErr(kind error, msg string) error {
	return &invitationError{kind: kind, msg: msg}
}
