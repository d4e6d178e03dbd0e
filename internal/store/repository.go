/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the transfer-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - github.com/shopspring/decimal: Fixed-point amounts.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bancora/transfer-service/internal/domain"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrAccountNotFound   = errors.New("account not found")
	ErrTokenNotFound     = errors.New("token not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrTransferConflict reports an atomic commit that failed without partial
	// effects (serialization failure or deadlock). Callers may safely retry.
	ErrTransferConflict = errors.New("transfer could not be committed, retry")
)

// TransferParams carries everything ExecuteTransfer needs to apply a transfer
// as one atomic unit. TokenID identifies the already-validated token that must
// still be live at commit time.
type TransferParams struct {
	OriginAccountID      uuid.UUID
	DestinationAccountID uuid.UUID
	TokenID              uuid.UUID
	Amount               decimal.Decimal
	Memo                 *string
}

// Repository defines the set of methods for interacting with the database.
//
// Account balances and token validity are the only mutable shared state in the
// system, and both are mutated exclusively inside the atomic methods declared
// here. No other component writes them.
type Repository interface {
	// User methods
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)

	// Account ledger methods
	// FindAccountByNumberForOwner enforces ownership: an existing account that
	// belongs to someone else is reported as ErrAccountNotFound, never as a
	// permission error, so existence does not leak to non-owners.
	FindAccountByNumber(ctx context.Context, number string) (*domain.Account, error)
	FindAccountByNumberForOwner(ctx context.Context, number string, ownerID uuid.UUID) (*domain.Account, error)
	ListAccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error)

	// Token store methods
	// IssueTokenAtomic enforces the single-active-token invariant: inside one
	// transaction it locks the owner's live token row, returns it if still
	// within its validity window, otherwise invalidates it and inserts a fresh
	// row carrying freshValue.
	IssueTokenAtomic(ctx context.Context, ownerID uuid.UUID, freshValue string, now time.Time) (*domain.Token, error)
	FindValidToken(ctx context.Context, ownerID uuid.UUID, value string) (*domain.Token, error)
	InvalidateToken(ctx context.Context, tokenID uuid.UUID) error
	ListTokensByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Token, error)
	// ExpireStaleTokens flips valid=false on every token of the owner whose
	// window has elapsed. Called lazily from read paths; idempotent.
	ExpireStaleTokens(ctx context.Context, ownerID uuid.UUID, now time.Time) error

	// ExecuteTransfer is the linchpin: debit, credit, ledger append and token
	// consumption commit together or not at all. Account rows are locked in a
	// fixed global order to avoid deadlock; the token row is re-checked under
	// lock so concurrent requests with the same token yield exactly one success.
	ExecuteTransfer(ctx context.Context, p TransferParams) (*domain.TransferRecord, error)
	ListTransfersByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.TransferRecord, error)

	// Contact directory methods
	ListContactsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Contact, error)
}
