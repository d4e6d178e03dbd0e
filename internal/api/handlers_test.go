package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bancora/transfer-service/internal/app"
	"github.com/bancora/transfer-service/internal/domain"
	"github.com/bancora/transfer-service/internal/store"
)

const testJWTSecret = "test-secret"

// memoryRepo is a minimal in-memory Repository for exercising the HTTP layer
// end to end through the real router, middleware and service.
type memoryRepo struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*domain.Account
	tokens   map[uuid.UUID]*domain.Token
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		accounts: make(map[uuid.UUID]*domain.Account),
		tokens:   make(map[uuid.UUID]*domain.Token),
	}
}

func (m *memoryRepo) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return nil, store.ErrUserNotFound
}

func (m *memoryRepo) FindAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.accounts {
		if account.Number == number {
			copied := *account
			return &copied, nil
		}
	}
	return nil, store.ErrAccountNotFound
}

func (m *memoryRepo) FindAccountByNumberForOwner(ctx context.Context, number string, ownerID uuid.UUID) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.accounts {
		if account.Number == number && account.OwnerID == ownerID {
			copied := *account
			return &copied, nil
		}
	}
	return nil, store.ErrAccountNotFound
}

func (m *memoryRepo) ListAccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var accounts []domain.Account
	for _, account := range m.accounts {
		if account.OwnerID == ownerID {
			accounts = append(accounts, *account)
		}
	}
	return accounts, nil
}

func (m *memoryRepo) IssueTokenAtomic(ctx context.Context, ownerID uuid.UUID, freshValue string, now time.Time) (*domain.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, token := range m.tokens {
		if token.OwnerID == ownerID && token.Valid {
			if !token.IsExpired(now) {
				copied := *token
				return &copied, nil
			}
			token.Valid = false
		}
	}
	fresh := &domain.Token{ID: uuid.New(), Value: freshValue, OwnerID: ownerID, IssuedAt: now, Valid: true}
	m.tokens[fresh.ID] = fresh
	copied := *fresh
	return &copied, nil
}

func (m *memoryRepo) FindValidToken(ctx context.Context, ownerID uuid.UUID, value string) (*domain.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, token := range m.tokens {
		if token.OwnerID == ownerID && token.Value == value && token.Valid {
			copied := *token
			return &copied, nil
		}
	}
	return nil, store.ErrTokenNotFound
}

func (m *memoryRepo) InvalidateToken(ctx context.Context, tokenID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token, ok := m.tokens[tokenID]; ok {
		token.Valid = false
	}
	return nil
}

func (m *memoryRepo) ListTokensByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tokens []domain.Token
	for _, token := range m.tokens {
		if token.OwnerID == ownerID {
			tokens = append(tokens, *token)
		}
	}
	return tokens, nil
}

func (m *memoryRepo) ExpireStaleTokens(ctx context.Context, ownerID uuid.UUID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, token := range m.tokens {
		if token.OwnerID == ownerID && token.Valid && token.IsExpired(now) {
			token.Valid = false
		}
	}
	return nil
}

func (m *memoryRepo) ExecuteTransfer(ctx context.Context, p store.TransferParams) (*domain.TransferRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	origin := m.accounts[p.OriginAccountID]
	destination := m.accounts[p.DestinationAccountID]
	if origin == nil || destination == nil {
		return nil, store.ErrAccountNotFound
	}
	if origin.Balance.LessThan(p.Amount) {
		return nil, store.ErrInsufficientFunds
	}
	token := m.tokens[p.TokenID]
	if token == nil || !token.Valid {
		return nil, store.ErrTokenNotFound
	}
	origin.Balance = origin.Balance.Sub(p.Amount)
	destination.Balance = destination.Balance.Add(p.Amount)
	now := time.Now()
	token.Valid = false
	token.ConsumedAt = &now
	return &domain.TransferRecord{
		ID:                   uuid.New(),
		OriginAccountID:      p.OriginAccountID,
		DestinationAccountID: p.DestinationAccountID,
		Amount:               p.Amount,
		Memo:                 p.Memo,
		OccurredAt:           now,
	}, nil
}

func (m *memoryRepo) ListTransfersByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.TransferRecord, error) {
	return nil, nil
}

func (m *memoryRepo) ListContactsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Contact, error) {
	return nil, nil
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func signToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": userID.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign test JWT: %v", err)
	}
	return signed
}

type apiFixture struct {
	repo    *memoryRepo
	router  http.Handler
	userID  uuid.UUID
	tokenID uuid.UUID
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	repo := newMemoryRepo()

	userID := uuid.New()
	otherID := uuid.New()
	originID := uuid.New()
	destinationID := uuid.New()
	repo.accounts[originID] = &domain.Account{
		ID: originID, Number: "100200300", Kind: domain.AccountKindSavings,
		Balance: mustDecimal(t, "1000.00"), OwnerID: userID,
	}
	repo.accounts[destinationID] = &domain.Account{
		ID: destinationID, Number: "400500600", Kind: domain.AccountKindChecking,
		Balance: mustDecimal(t, "500.00"), OwnerID: otherID,
	}

	tokenID := uuid.New()
	repo.tokens[tokenID] = &domain.Token{
		ID: tokenID, Value: "483920", OwnerID: userID, IssuedAt: time.Now(), Valid: true,
	}

	service := app.NewService(repo, nil, 0)
	handlers := NewTransferHandlers(service)
	return &apiFixture{
		repo:    repo,
		router:  Routes(handlers, testJWTSecret),
		userID:  userID,
		tokenID: tokenID,
	}
}

func (fx *apiFixture) do(t *testing.T, method, path string, body interface{}, authorized bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if authorized {
		req.Header.Set("Authorization", "Bearer "+signToken(t, fx.userID))
	}
	recorder := httptest.NewRecorder()
	fx.router.ServeHTTP(recorder, req)
	return recorder
}

func TestTransferEndpointRequiresAuth(t *testing.T) {
	fx := newAPIFixture(t)

	resp := fx.do(t, http.MethodPost, "/transfers", domain.TransferRequest{}, false)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", resp.Code)
	}
}

func TestTransferEndpointSuccess(t *testing.T) {
	fx := newAPIFixture(t)

	body := domain.TransferRequest{
		OriginAccount:      "100200300",
		DestinationAccount: "400500600",
		Amount:             "200.00",
		Token:              "483920",
	}
	resp := fx.do(t, http.MethodPost, "/transfers", body, true)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var receipt domain.TransferReceipt
	if err := json.Unmarshal(resp.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("failed to decode receipt: %v", err)
	}
	if receipt.OriginAccount != "100200300" || receipt.DestinationAccount != "400500600" {
		t.Fatalf("receipt references wrong accounts: %+v", receipt)
	}
	if receipt.TransferID == uuid.Nil {
		t.Fatalf("receipt is missing the transfer id")
	}

	if fx.repo.tokens[fx.tokenID].Valid {
		t.Fatalf("token must be consumed after a successful transfer")
	}
}

func TestTransferEndpointExpiredTokenCarriesReplacement(t *testing.T) {
	fx := newAPIFixture(t)
	fx.repo.tokens[fx.tokenID].IssuedAt = time.Now().Add(-2 * time.Minute)

	body := domain.TransferRequest{
		OriginAccount:      "100200300",
		DestinationAccount: "400500600",
		Amount:             "200.00",
		Token:              "483920",
	}
	resp := fx.do(t, http.MethodPost, "/transfers", body, true)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.Code, resp.Body.String())
	}

	var payload struct {
		Kind             string `json:"kind"`
		NewToken         string `json:"new_token"`
		SecondsRemaining int    `json:"seconds_remaining"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if payload.Kind != "token_expired" {
		t.Fatalf("expected kind token_expired, got %q", payload.Kind)
	}
	if len(payload.NewToken) != 6 {
		t.Fatalf("expected a 6-digit replacement token, got %q", payload.NewToken)
	}
	if payload.SecondsRemaining != 60 {
		t.Fatalf("expected 60 seconds remaining on replacement, got %d", payload.SecondsRemaining)
	}
}

func TestTransferEndpointForeignOriginIsNotFound(t *testing.T) {
	fx := newAPIFixture(t)

	// The destination account exists but belongs to another user; using it as
	// origin must read as absent, not forbidden.
	body := domain.TransferRequest{
		OriginAccount:      "400500600",
		DestinationAccount: "100200300",
		Amount:             "50.00",
		Token:              "483920",
	}
	resp := fx.do(t, http.MethodPost, "/transfers", body, true)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", resp.Code, resp.Body.String())
	}

	var payload struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if payload.Kind != "origin_not_found" {
		t.Fatalf("expected kind origin_not_found, got %q", payload.Kind)
	}
}

func TestIssueTokenEndpoint(t *testing.T) {
	fx := newAPIFixture(t)

	resp := fx.do(t, http.MethodPost, "/tokens", nil, true)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var issued domain.IssuedToken
	if err := json.Unmarshal(resp.Body.Bytes(), &issued); err != nil {
		t.Fatalf("failed to decode issued token: %v", err)
	}
	// The fixture user already holds a live token, so issuance is idempotent.
	if issued.Token != "483920" {
		t.Fatalf("expected the live token back, got %q", issued.Token)
	}
	if issued.SecondsRemaining <= 0 || issued.SecondsRemaining > 60 {
		t.Fatalf("seconds remaining out of range: %d", issued.SecondsRemaining)
	}
}

func TestListTokensEndpointSweepsExpired(t *testing.T) {
	fx := newAPIFixture(t)
	fx.repo.tokens[fx.tokenID].IssuedAt = time.Now().Add(-2 * time.Minute)

	resp := fx.do(t, http.MethodGet, "/tokens", nil, true)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var payload struct {
		Tokens []domain.Token `json:"tokens"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode token list: %v", err)
	}
	if len(payload.Tokens) != 1 {
		t.Fatalf("expected one token, got %d", len(payload.Tokens))
	}
	if payload.Tokens[0].Valid {
		t.Fatalf("expired token leaked through the listing as valid")
	}
}
