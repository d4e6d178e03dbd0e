/**
 * @description
 * This file defines the typed failures the service can return. Every error that
 * crosses the API boundary is one of these (or a store sentinel), never a raw
 * database error, so handlers can translate failures into stable error kinds.
 */

package app

import (
	"errors"
	"fmt"

	"github.com/bancora/transfer-service/internal/domain"
)

var (
	ErrInvalidAmount       = errors.New("transfer amount must be greater than zero")
	ErrSelfTransfer        = errors.New("origin and destination accounts must differ")
	ErrOriginNotFound      = errors.New("origin account does not exist or does not belong to the user")
	ErrDestinationNotFound = errors.New("destination account does not exist")
	ErrRateLimited         = errors.New("too many token requests")
)

// TokenExpiredError reports an expired token together with a freshly issued
// replacement, so the caller can retry the transfer without an extra round
// trip to the issuance endpoint.
type TokenExpiredError struct {
	Replacement domain.IssuedToken
}

func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("token has expired; replacement issued with %d seconds remaining", e.Replacement.SecondsRemaining)
}
