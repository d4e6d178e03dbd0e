/**
 * @description
 * This file defines the one-time token (OTP) model and its expiry semantics.
 *
 * A token is a 6-digit numeric string scoped to a single user. It is a weak OTP:
 * values are drawn uniformly from the 6-digit space for unpredictability, but no
 * uniqueness is required or enforced. Lookups are always scoped by (owner, value),
 * so a collision across different users is harmless.
 *
 * Expiry is computed lazily at read time from IssuedAt; there is no background
 * sweeper. IsExpired is the sole expiry mechanism and every read/validate path
 * must go through it.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TokenTTL is how long an issued token stays live.
const TokenTTL = 60 * time.Second

// Token is a single-use OTP credential. Valid transitions true->false exactly
// once (consumption or lazy expiry detection) and never back. Rows are kept
// after invalidation for audit.
type Token struct {
	ID         uuid.UUID  `json:"-"`
	Value      string     `json:"value"`
	OwnerID    uuid.UUID  `json:"-"`
	IssuedAt   time.Time  `json:"issued_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	Valid      bool       `json:"valid"`
}

// IsExpired reports whether the token's validity window has elapsed at the
// given instant. Independent of the Valid flag: an expired token may still be
// marked valid in storage until a read path observes it.
func (t Token) IsExpired(now time.Time) bool {
	return now.After(t.IssuedAt.Add(TokenTTL))
}

// SecondsRemaining returns the whole seconds left in the validity window,
// clamped at zero.
func (t Token) SecondsRemaining(now time.Time) int {
	remaining := t.IssuedAt.Add(TokenTTL).Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds())
}
