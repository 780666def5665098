/*
errors.go - Centralized error taxonomy for the marketplace engine

PURPOSE:
  All engine error types in one place. Workflows raise these from inside a
  store transaction; raising one aborts the transaction, so no partial
  state is ever committed. The HTTP layer maps them to stable
  machine-readable codes.

ERROR CATEGORIES:
  NOT_FOUND            referenced listing/proposal/unit/user absent
  VALIDATION           malformed or disallowed input, rejected up front
  CONFLICT             a conditional update reported zero affected rows
                       because a competing transaction won the race
  INSUFFICIENT_FUNDS   buyer balance below the purchase total
  INSUFFICIENT_STOCK   fewer units available than requested
  COOLDOWN_ACTIVE      reward window not yet elapsed (carries retry hint)
  CONCURRENCY_CONFLICT cooldown-specific: another request won this instant;
                       safe to retry immediately

USAGE:
  if errors.Is(err, market.ErrConflict) { ... }
  var cool *market.CooldownActiveError
  if errors.As(err, &cool) { retryAfter := cool.RetryAfter }

SEE ALSO:
  - api/handlers.go: maps codes to HTTP statuses
*/
package market

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced row does not exist, or is
	// not visible to the caller (ownership checks are folded into scoped
	// lookups, so acting on someone else's proposal reads as not found).
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for input rejected before any conditional
	// update runs (own-listing purchase, duplicate proposal, bad quantity).
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when a conditional update affected zero rows:
	// a competing transaction changed the state between our read and write.
	// The enclosing transaction must be aborted. Not retried automatically.
	ErrConflict = errors.New("conflict: lost race to a concurrent transaction")

	// ErrInsufficientFunds is returned when a conditional debit fails.
	// Terminal business rejection, not retried.
	ErrInsufficientFunds = errors.New("insufficient point balance")

	// ErrInsufficientStock is returned when fewer units are available than
	// requested. Terminal business rejection, not retried.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrCooldownActive is returned when the reward cooldown has not yet
	// elapsed. Structured form carries retry metadata.
	ErrCooldownActive = errors.New("cooldown active")

	// ErrConcurrencyConflict is returned when the cooldown had elapsed but
	// another request reserved it first. The caller may retry immediately.
	ErrConcurrencyConflict = errors.New("concurrent claim won the race")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError reports how short the stock was.
type InsufficientStockError struct {
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: requested %d, available %d",
		e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InsufficientFundsError reports the shortfall of a failed debit.
type InsufficientFundsError struct {
	UserID    string
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %d, available %d",
		e.Required, e.Available)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// CooldownActiveError carries machine-readable retry metadata so clients
// can schedule the next attempt.
type CooldownActiveError struct {
	NextAllowedAt time.Time
	RetryAfter    time.Duration
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("cooldown active: next allowed at %s (retry in %ds)",
		e.NextAllowedAt.UTC().Format(time.RFC3339), e.RetryAfterSeconds())
}

func (e *CooldownActiveError) Unwrap() error { return ErrCooldownActive }

// RetryAfterSeconds rounds the remaining time up so one remaining second
// never reads as zero.
func (e *CooldownActiveError) RetryAfterSeconds() int64 {
	secs := int64((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Code returns the stable machine-readable code for an engine error.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrValidation):
		return "VALIDATION"
	case errors.Is(err, ErrInsufficientFunds):
		return "INSUFFICIENT_FUNDS"
	case errors.Is(err, ErrInsufficientStock):
		return "INSUFFICIENT_STOCK"
	case errors.Is(err, ErrCooldownActive):
		return "COOLDOWN_ACTIVE"
	case errors.Is(err, ErrConcurrencyConflict):
		return "CONCURRENCY_CONFLICT"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	default:
		return "INTERNAL"
	}
}

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether the error came from losing a race.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrConcurrencyConflict)
}

// IsRetryable reports whether an immediate retry can succeed: the
// underlying condition (cooldown elapsed) still holds after a
// CONCURRENCY_CONFLICT.
func IsRetryable(err error) bool { return errors.Is(err, ErrConcurrencyConflict) }

// IsClientError reports whether the error is the caller's fault rather
// than an engine failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrCooldownActive)
}
