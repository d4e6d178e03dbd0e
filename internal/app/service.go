/**
 * @description
 * This file contains the core business logic for the transfer-service. The `Service`
 * struct orchestrates token issuance and the token-gated transfer flow, coordinating
 * between the database repository, the optional Redis rate limiter, and the message
 * broker.
 *
 * Key features:
 * - Token issuance is idempotent within the validity window and enforces the
 *   single-active-token invariant (at most one valid token per user).
 * - The transfer flow validates ownership, token, amount and funds in a fixed
 *   order, then hands off to the repository's single atomic unit, which also
 *   consumes the token so the same token can never gate two transfers.
 * - Publishes a transfer.completed event after a successful transfer.
 *
 * @dependencies
 * - context, crypto/rand, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid, github.com/shopspring/decimal.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For event publication.
 */

package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bancora/transfer-service/internal/domain"
	"github.com/bancora/transfer-service/internal/store"
	"github.com/bancora/transfer-service/pkg/rabbitmq"
)

const tokenIssueRateScope = "token_issue"

// RateLimiter is the contract for the optional distributed limiter applied to
// token issuance. A nil limiter disables limiting.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for token-gated transfers.
type Service struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher
	rateLimiter   RateLimiter
	issueLimit    int

	// now is swapped out in tests to pin expiry behavior.
	now func() time.Time
}

// NewService creates a new transfer service instance. producer may be nil when
// the broker is unavailable; events are then skipped with a warning.
func NewService(repo store.Repository, producer rabbitmq.Publisher, issueLimitPerMinute int) *Service {
	return &Service{
		repo:          repo,
		eventProducer: producer,
		issueLimit:    issueLimitPerMinute,
		now:           time.Now,
	}
}

// SetRateLimiter attaches a distributed rate limiter for token issuance.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.rateLimiter = limiter
}

// mintTokenValue draws a value uniformly from the space of 6-digit numeric
// strings. This is a weak OTP: unpredictable, but collisions across tokens are
// acceptable because every lookup is scoped by (owner, value).
func mintTokenValue() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate token value: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// IssueToken returns the user's live token if one exists, or mints a fresh one.
// Issuance within an unexpired window is idempotent: the same value comes back
// with its remaining lifetime instead of a new token accumulating.
func (s *Service) IssueToken(ctx context.Context, userID uuid.UUID) (*domain.IssuedToken, error) {
	if s.rateLimiter != nil && s.issueLimit > 0 {
		count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, tokenIssueRateScope, userID.String(), s.issueLimit, time.Minute)
		if err != nil {
			// Limiter outage must not block issuance.
			log.Printf("level=warn component=service msg=\"token issue rate limiter unavailable\" user_id=%s err=%v", userID, err)
		} else if count > s.issueLimit {
			log.Printf("level=warn component=service msg=\"token issuance rate limited\" user_id=%s retry_after=%d", userID, retryAfter)
			return nil, ErrRateLimited
		}
	}

	value, err := mintTokenValue()
	if err != nil {
		return nil, err
	}

	now := s.now()
	token, err := s.repo.IssueTokenAtomic(ctx, userID, value, now)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	return &domain.IssuedToken{
		Token:            token.Value,
		SecondsRemaining: token.SecondsRemaining(now),
	}, nil
}

// ListTokens returns every token of the user, newest first, after applying the
// lazy expiry sweep so stale validity never leaks through the listing.
func (s *Service) ListTokens(ctx context.Context, userID uuid.UUID) ([]domain.Token, error) {
	if err := s.repo.ExpireStaleTokens(ctx, userID, s.now()); err != nil {
		return nil, fmt.Errorf("failed to sweep expired tokens: %w", err)
	}
	return s.repo.ListTokensByOwner(ctx, userID)
}

// validateToken resolves (userID, value) to a live token. If the stored token
// has expired, it is invalidated and a freshly issued replacement is returned
// inside a TokenExpiredError so the caller can retry immediately.
func (s *Service) validateToken(ctx context.Context, userID uuid.UUID, value string) (*domain.Token, error) {
	token, err := s.repo.FindValidToken(ctx, userID, value)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !token.IsExpired(now) {
		return token, nil
	}

	if err := s.repo.InvalidateToken(ctx, token.ID); err != nil {
		return nil, fmt.Errorf("failed to invalidate expired token: %w", err)
	}

	freshValue, err := mintTokenValue()
	if err != nil {
		return nil, err
	}
	replacement, err := s.repo.IssueTokenAtomic(ctx, userID, freshValue, now)
	if err != nil {
		return nil, fmt.Errorf("failed to issue replacement token: %w", err)
	}

	return nil, &TokenExpiredError{
		Replacement: domain.IssuedToken{
			Token:            replacement.Value,
			SecondsRemaining: replacement.SecondsRemaining(now),
		},
	}
}

// Transfer moves funds between two accounts, gated by a one-time token.
//
// Validation order is fixed: origin ownership, destination existence, token,
// amount, funds. Only then does the repository apply the balance mutation,
// ledger append and token consumption as one atomic unit; a failure at any
// earlier step leaves balances and token validity untouched (except the
// documented expiry-detection side effect, which is idempotent).
func (s *Service) Transfer(ctx context.Context, userID uuid.UUID, req domain.TransferRequest) (*domain.TransferReceipt, error) {
	origin, err := s.repo.FindAccountByNumberForOwner(ctx, req.OriginAccount, userID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrOriginNotFound
		}
		return nil, fmt.Errorf("failed to resolve origin account: %w", err)
	}

	destination, err := s.repo.FindAccountByNumber(ctx, req.DestinationAccount)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrDestinationNotFound
		}
		return nil, fmt.Errorf("failed to resolve destination account: %w", err)
	}

	if origin.ID == destination.ID {
		return nil, ErrSelfTransfer
	}

	token, err := s.validateToken(ctx, userID, req.Token)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	if origin.Balance.LessThan(amount) {
		return nil, store.ErrInsufficientFunds
	}

	record, err := s.repo.ExecuteTransfer(ctx, store.TransferParams{
		OriginAccountID:      origin.ID,
		DestinationAccountID: destination.ID,
		TokenID:              token.ID,
		Amount:               amount,
		Memo:                 req.Memo,
	})
	if err != nil {
		return nil, err
	}

	s.publishTransferCompleted(ctx, record, origin.Number, destination.Number)

	return &domain.TransferReceipt{
		TransferID:         record.ID,
		OriginAccount:      origin.Number,
		DestinationAccount: destination.Number,
		Amount:             record.Amount,
		Memo:               record.Memo,
		OccurredAt:         record.OccurredAt,
	}, nil
}

// publishTransferCompleted emits a transfer.completed event. Best-effort: the
// transfer has already committed, so a publish failure is logged, not surfaced.
func (s *Service) publishTransferCompleted(ctx context.Context, record *domain.TransferRecord, originNumber, destinationNumber string) {
	if s.eventProducer == nil {
		return
	}
	event := rabbitmq.TransferCompletedEvent{
		TransferID:         record.ID,
		OriginAccount:      originNumber,
		DestinationAccount: destinationNumber,
		Amount:             record.Amount.StringFixed(2),
		OccurredAt:         record.OccurredAt,
	}
	if err := s.eventProducer.PublishTransferCompleted(ctx, event); err != nil {
		log.Printf("level=warn component=service msg=\"transfer event publish failed\" transfer_id=%s err=%v", record.ID, err)
	}
}

// ListAccounts returns the account summaries owned by the user.
func (s *Service) ListAccounts(ctx context.Context, userID uuid.UUID) ([]domain.AccountSummary, error) {
	accounts, err := s.repo.ListAccountsByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.AccountSummary, 0, len(accounts))
	for _, account := range accounts {
		summaries = append(summaries, domain.AccountSummary{
			Number:  account.Number,
			Kind:    account.Kind,
			Balance: account.Balance,
		})
	}
	return summaries, nil
}

// ListContacts returns the user's contact directory entries.
func (s *Service) ListContacts(ctx context.Context, userID uuid.UUID) ([]domain.Contact, error) {
	return s.repo.ListContactsByOwner(ctx, userID)
}

// ListTransfers returns transfers touching the user's accounts.
func (s *Service) ListTransfers(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.TransferRecord, error) {
	return s.repo.ListTransfersByOwner(ctx, userID, limit, offset)
}
