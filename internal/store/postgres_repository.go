/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to users, accounts, tokens, transfers and contacts.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: Fixed-point amounts.
 * - internal/domain: Contains the domain models used for data transfer.
 *
 * @notes
 * - Balances are NUMERIC(12,2) columns. They cross the wire as text and are
 *   parsed into decimal.Decimal so no step ever rounds or approximates money.
 * - ExecuteTransfer and IssueTokenAtomic are the only multi-statement
 *   transactions; everything else is a single statement.
 */

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bancora/transfer-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindUserByID retrieves a user from the database by their ID.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, username, full_name FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&user.ID, &user.Username, &user.FullName)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	var balanceText string
	if err := row.Scan(&account.ID, &account.Number, &account.Kind, &balanceText, &account.OwnerID); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	balance, err := decimal.NewFromString(balanceText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse account balance: %w", err)
	}
	account.Balance = balance
	return &account, nil
}

// FindAccountByNumber retrieves an account by its human-facing number,
// regardless of who owns it. Used for destination lookups.
func (r *PostgresRepository) FindAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	query := `SELECT id, number, kind, balance::text, owner_id FROM accounts WHERE number = $1`
	return scanAccount(r.db.QueryRow(ctx, query, number))
}

// FindAccountByNumberForOwner retrieves an account by number only if it belongs
// to the given owner. An account owned by someone else is indistinguishable
// from a missing one.
func (r *PostgresRepository) FindAccountByNumberForOwner(ctx context.Context, number string, ownerID uuid.UUID) (*domain.Account, error) {
	query := `SELECT id, number, kind, balance::text, owner_id FROM accounts WHERE number = $1 AND owner_id = $2`
	return scanAccount(r.db.QueryRow(ctx, query, number, ownerID))
}

// ListAccountsByOwner returns all accounts belonging to the given owner.
func (r *PostgresRepository) ListAccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error) {
	query := `SELECT id, number, kind, balance::text, owner_id FROM accounts WHERE owner_id = $1 ORDER BY number`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// IssueTokenAtomic implements idempotent issuance with the single-active-token
// invariant. Inside one transaction it locks the owner's live token row: if one
// exists and is still inside its window it is returned as-is, if it has expired
// it is flipped invalid, and in either invalid/absent case a fresh row carrying
// freshValue is inserted. Concurrent issuance requests serialize on the row lock
// so at most one live token per owner can ever exist.
func (r *PostgresRepository) IssueTokenAtomic(ctx context.Context, ownerID uuid.UUID, freshValue string, now time.Time) (*domain.Token, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing domain.Token
	query := `
		SELECT id, value, owner_id, issued_at, consumed_at, valid
		FROM tokens
		WHERE owner_id = $1 AND valid = TRUE
		ORDER BY issued_at DESC
		LIMIT 1
		FOR UPDATE
	`
	err = tx.QueryRow(ctx, query, ownerID).Scan(
		&existing.ID, &existing.Value, &existing.OwnerID,
		&existing.IssuedAt, &existing.ConsumedAt, &existing.Valid,
	)
	switch {
	case err == pgx.ErrNoRows:
		// No live token, fall through to mint.
	case err != nil:
		return nil, err
	case !existing.IsExpired(now):
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return &existing, nil
	default:
		// Live but expired: invalidate before replacing.
		if _, err := tx.Exec(ctx, `UPDATE tokens SET valid = FALSE WHERE id = $1`, existing.ID); err != nil {
			return nil, err
		}
	}

	fresh := domain.Token{
		ID:       uuid.New(),
		Value:    freshValue,
		OwnerID:  ownerID,
		IssuedAt: now,
		Valid:    true,
	}
	insert := `INSERT INTO tokens (id, value, owner_id, issued_at, valid) VALUES ($1, $2, $3, $4, TRUE)`
	if _, err := tx.Exec(ctx, insert, fresh.ID, fresh.Value, fresh.OwnerID, fresh.IssuedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &fresh, nil
}

// FindValidToken looks up a token by (owner, value) with valid = TRUE. Token
// values are scoped per owner; no global uniqueness exists or is needed.
func (r *PostgresRepository) FindValidToken(ctx context.Context, ownerID uuid.UUID, value string) (*domain.Token, error) {
	var token domain.Token
	query := `
		SELECT id, value, owner_id, issued_at, consumed_at, valid
		FROM tokens
		WHERE owner_id = $1 AND value = $2 AND valid = TRUE
	`
	err := r.db.QueryRow(ctx, query, ownerID, value).Scan(
		&token.ID, &token.Value, &token.OwnerID,
		&token.IssuedAt, &token.ConsumedAt, &token.Valid,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return &token, nil
}

// InvalidateToken flips a token invalid without marking it consumed. Used when
// lazy expiry detection fires on a validate path.
func (r *PostgresRepository) InvalidateToken(ctx context.Context, tokenID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE tokens SET valid = FALSE WHERE id = $1`, tokenID)
	return err
}

// ListTokensByOwner returns every token ever issued to the owner, newest first.
// Rows are never deleted; invalidated tokens remain for audit.
func (r *PostgresRepository) ListTokensByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Token, error) {
	query := `
		SELECT id, value, owner_id, issued_at, consumed_at, valid
		FROM tokens
		WHERE owner_id = $1
		ORDER BY issued_at DESC
	`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []domain.Token
	for rows.Next() {
		var token domain.Token
		if err := rows.Scan(&token.ID, &token.Value, &token.OwnerID, &token.IssuedAt, &token.ConsumedAt, &token.Valid); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// ExpireStaleTokens marks every still-valid token of the owner whose window has
// elapsed as invalid. Idempotent; safe to call on every read path.
func (r *PostgresRepository) ExpireStaleTokens(ctx context.Context, ownerID uuid.UUID, now time.Time) error {
	cutoff := now.Add(-domain.TokenTTL)
	_, err := r.db.Exec(ctx,
		`UPDATE tokens SET valid = FALSE WHERE owner_id = $1 AND valid = TRUE AND issued_at < $2`,
		ownerID, cutoff,
	)
	return err
}

// ExecuteTransfer applies a transfer as a single atomic unit: it locks both
// account rows in a fixed global order (ascending account id) to avoid
// deadlock with opposing transfers, re-checks funds under lock, re-locks the
// token row and verifies it is still valid so concurrent requests presenting
// the same token admit exactly one winner, then debits, credits, appends the
// ledger row and consumes the token. Either all of it commits or none of it.
func (r *PostgresRepository) ExecuteTransfer(ctx context.Context, p TransferParams) (*domain.TransferRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	first, second := p.OriginAccountID, p.DestinationAccountID
	if bytes.Compare(second[:], first[:]) < 0 {
		first, second = second, first
	}

	lockQuery := `SELECT balance::text FROM accounts WHERE id = $1 FOR UPDATE`
	balances := make(map[uuid.UUID]decimal.Decimal, 2)
	for _, accountID := range []uuid.UUID{first, second} {
		var balanceText string
		if err := tx.QueryRow(ctx, lockQuery, accountID).Scan(&balanceText); err != nil {
			if err == pgx.ErrNoRows {
				return nil, ErrAccountNotFound
			}
			return nil, err
		}
		balance, err := decimal.NewFromString(balanceText)
		if err != nil {
			return nil, fmt.Errorf("failed to parse account balance: %w", err)
		}
		balances[accountID] = balance
	}

	if balances[p.OriginAccountID].LessThan(p.Amount) {
		return nil, ErrInsufficientFunds
	}

	// Re-check the token under lock. A concurrent transfer that already
	// consumed it leaves no valid row, and this request loses the race.
	var tokenValid bool
	err = tx.QueryRow(ctx, `SELECT valid FROM tokens WHERE id = $1 AND valid = TRUE FOR UPDATE`, p.TokenID).Scan(&tokenValid)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	amountText := p.Amount.StringFixed(2)
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance - $1::numeric WHERE id = $2`, amountText, p.OriginAccountID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance + $1::numeric WHERE id = $2`, amountText, p.DestinationAccountID); err != nil {
		return nil, err
	}

	record := domain.TransferRecord{
		ID:                   uuid.New(),
		OriginAccountID:      p.OriginAccountID,
		DestinationAccountID: p.DestinationAccountID,
		Amount:               p.Amount,
		Memo:                 p.Memo,
	}
	insert := `
		INSERT INTO transfers (id, origin_account_id, destination_account_id, amount, memo)
		VALUES ($1, $2, $3, $4::numeric, $5)
		RETURNING occurred_at
	`
	if err := tx.QueryRow(ctx, insert, record.ID, record.OriginAccountID, record.DestinationAccountID, amountText, record.Memo).Scan(&record.OccurredAt); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE tokens SET valid = FALSE, consumed_at = NOW() WHERE id = $1`, p.TokenID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyCommitError(err)
	}
	return &record, nil
}

// classifyCommitError maps serialization failures and deadlocks to the
// retryable ErrTransferConflict. Nothing was applied in either case.
func classifyCommitError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return ErrTransferConflict
		}
	}
	return err
}

// ListTransfersByOwner returns transfers touching any of the owner's accounts,
// newest first.
func (r *PostgresRepository) ListTransfersByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.TransferRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT t.id, t.origin_account_id, t.destination_account_id, t.amount::text, t.memo, t.occurred_at
		FROM transfers t
		WHERE t.origin_account_id IN (SELECT id FROM accounts WHERE owner_id = $1)
		   OR t.destination_account_id IN (SELECT id FROM accounts WHERE owner_id = $1)
		ORDER BY t.occurred_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []domain.TransferRecord
	for rows.Next() {
		var record domain.TransferRecord
		var amountText string
		if err := rows.Scan(&record.ID, &record.OriginAccountID, &record.DestinationAccountID, &amountText, &record.Memo, &record.OccurredAt); err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(amountText)
		if err != nil {
			return nil, fmt.Errorf("failed to parse transfer amount: %w", err)
		}
		record.Amount = amount
		transfers = append(transfers, record)
	}
	return transfers, rows.Err()
}

// ListContactsByOwner joins contacts through accounts to the owning user's
// display name. Insertion order of the association is preserved.
func (r *PostgresRepository) ListContactsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Contact, error) {
	query := `
		SELECT COALESCE(u.full_name, u.username), a.number
		FROM contacts c
		JOIN accounts a ON a.id = c.account_id
		JOIN users u ON u.id = a.owner_id
		WHERE c.user_id = $1
		ORDER BY c.created_at
	`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []domain.Contact
	for rows.Next() {
		var contact domain.Contact
		if err := rows.Scan(&contact.DisplayName, &contact.AccountNumber); err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}
	return contacts, rows.Err()
}
