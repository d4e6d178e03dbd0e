/**
 * @description
 * This file defines the core domain models for the transfer-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Balances and transfer amounts use `decimal.Decimal` (fixed-point) exclusively.
 *   Floating-point types must never carry money through this service.
 * - Account `ID` is the stable internal identifier; `Number` is the human-facing
 *   identifier clients use in API requests. The two are never interchangeable.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account kinds. Every account is exactly one of these.
const (
	AccountKindSavings  = "savings"
	AccountKindChecking = "checking"
)

// User is the authenticated principal as this service sees it. Credentials are
// owned by the auth layer; the service only ever checks ownership against ID.
type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	FullName *string   `json:"full_name,omitempty"`
}

// Account represents a bank account owned by exactly one user.
type Account struct {
	ID      uuid.UUID       `json:"id"`
	Number  string          `json:"number"`
	Kind    string          `json:"kind"`
	Balance decimal.Decimal `json:"balance"`
	OwnerID uuid.UUID       `json:"owner_id"`
}

// TransferRecord is one immutable row in the ledger of record. Rows are only
// ever inserted; the sum of all balances plus net transfer flow must reconcile.
type TransferRecord struct {
	ID                   uuid.UUID       `json:"id"`
	OriginAccountID      uuid.UUID       `json:"origin_account_id"`
	DestinationAccountID uuid.UUID       `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	Memo                 *string         `json:"memo,omitempty"`
	OccurredAt           time.Time       `json:"occurred_at"`
}

// Contact is a named association from a user to an account they can reference
// as a transfer destination. Pure read projection, no invariants beyond
// referential validity.
type Contact struct {
	DisplayName   string `json:"display_name"`
	AccountNumber string `json:"account_number"`
}

// TransferRequest is the DTO for incoming transfer API requests. Account
// references are human-facing account numbers, amounts are decimal strings.
type TransferRequest struct {
	OriginAccount      string  `json:"origin_account"`
	DestinationAccount string  `json:"destination_account"`
	Amount             string  `json:"amount"`
	Memo               *string `json:"memo,omitempty"`
	Token              string  `json:"token"`
}

// TransferReceipt is returned to the caller after a successful transfer.
type TransferReceipt struct {
	TransferID         uuid.UUID       `json:"transfer_id"`
	OriginAccount      string          `json:"origin_account"`
	DestinationAccount string          `json:"destination_account"`
	Amount             decimal.Decimal `json:"amount"`
	Memo               *string         `json:"memo,omitempty"`
	OccurredAt         time.Time       `json:"occurred_at"`
}

// IssuedToken is returned by the token issuance endpoint.
type IssuedToken struct {
	Token            string `json:"token"`
	SecondsRemaining int    `json:"seconds_remaining"`
}

// AccountSummary is the per-account view returned by the account listing endpoint.
type AccountSummary struct {
	Number  string          `json:"number"`
	Kind    string          `json:"kind"`
	Balance decimal.Decimal `json:"balance"`
}
