// Package service implements the reward ledger: the daily-activity gate, the
// reward engine, referral fan-out and the read models built on top of them.
package service

import (
	"errors"
	"fmt"

	"cryptra/internal/model"
	"cryptra/internal/pkg/db"
	"cryptra/internal/repository"
)

// Ledger errors. Callers match them with errors.Is.
var (
	ErrValidation          = errors.New("invalid request")
	ErrQuotaExceeded       = errors.New("daily quota exceeded")
	ErrAlreadyApplied      = errors.New("request already applied")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrConcurrencyConflict = db.ErrConflict
	ErrStoreUnavailable    = db.ErrUnavailable
	ErrPreconditionFailed  = errors.New("precondition failed")
	ErrOutOfStock          = errors.New("out of stock")
	ErrUserNotFound        = repository.ErrUserNotFound
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrReferralCycle       = errors.New("referral cycle detected")
	ErrUnauthenticated     = errors.New("no authenticated user")
)

// DenialReason explains why the gate refused a completion.
type DenialReason string

// Denial reasons.
const (
	ReasonAlreadyCompletedToday DenialReason = "already_completed_today"
	ReasonQuotaExhausted        DenialReason = "quota_exhausted"
)

// DeniedError is returned when the daily-activity gate refuses a completion.
// It matches ErrQuotaExceeded.
type DeniedError struct {
	Kind   model.ActivityKind
	Reason DenialReason
	Used   int
	Limit  int
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s denied: %s (%d/%d)", e.Kind, e.Reason, e.Used, e.Limit)
}

func (e *DeniedError) Unwrap() error { return ErrQuotaExceeded }

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
