/**
 * @description
 * This file contains the HTTP handlers for the transfer-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * Every failure is translated into a structured JSON body with a machine-readable
 * `kind`, never a raw storage-layer error.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/bancora/transfer-service/internal/app"
	"github.com/bancora/transfer-service/internal/domain"
	"github.com/bancora/transfer-service/internal/store"
)

// TransferHandlers holds the application service that handlers will use.
type TransferHandlers struct {
	service *app.Service
}

// NewTransferHandlers creates a new instance of TransferHandlers.
func NewTransferHandlers(service *app.Service) *TransferHandlers {
	return &TransferHandlers{service: service}
}

// errorResponse is the structured error body every failing request receives.
type errorResponse struct {
	Error            string `json:"error"`
	Kind             string `json:"kind"`
	NewToken         string `json:"new_token,omitempty"`
	SecondsRemaining int    `json:"seconds_remaining,omitempty"`
}

func (h *TransferHandlers) principal(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := GetAuthenticatedUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "internal", "Could not get user ID from context")
		return uuid.Nil, false
	}
	return userID, true
}

// IssueTokenHandler handles requests to issue (or re-read) the caller's OTP.
func (h *TransferHandlers) IssueTokenHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.principal(w, r)
	if !ok {
		return
	}

	issued, err := h.service.IssueToken(r.Context(), userID)
	if err != nil {
		if errors.Is(err, app.ErrRateLimited) {
			h.writeError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
			return
		}
		log.Printf("level=error component=api endpoint=issue_token user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "internal", "Unable to issue token")
		return
	}

	h.writeJSON(w, http.StatusOK, issued)
}

// ListTokensHandler returns every token of the caller with the lazy expiry
// sweep applied before serialization.
func (h *TransferHandlers) ListTokensHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.principal(w, r)
	if !ok {
		return
	}

	tokens, err := h.service.ListTokens(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_tokens user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "internal", "Unable to list tokens")
		return
	}
	if tokens == nil {
		tokens = []domain.Token{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"tokens": tokens})
}

// ListAccountsHandler returns the caller's accounts with balances.
func (h *TransferHandlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.principal(w, r)
	if !ok {
		return
	}

	accounts, err := h.service.ListAccounts(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_accounts user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "internal", "Unable to list accounts")
		return
	}
	if accounts == nil {
		accounts = []domain.AccountSummary{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

// ListContactsHandler returns the caller's contact directory.
func (h *TransferHandlers) ListContactsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.principal(w, r)
	if !ok {
		return
	}

	contacts, err := h.service.ListContacts(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_contacts user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "internal", "Unable to list contacts")
		return
	}
	if contacts == nil {
		contacts = []domain.Contact{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"contacts": contacts})
}

// ListTransfersHandler returns transfers touching the caller's accounts.
func (h *TransferHandlers) ListTransfersHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.principal(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	transfers, err := h.service.ListTransfers(r.Context(), userID, limit, offset)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_transfers user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "internal", "Unable to list transfers")
		return
	}
	if transfers == nil {
		transfers = []domain.TransferRecord{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transfers": transfers})
}

// TransferHandler handles token-gated transfer requests.
func (h *TransferHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=transfer outcome=reject reason=invalid_json user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	receipt, err := h.service.Transfer(r.Context(), userID, req)
	if err != nil {
		h.writeTransferError(w, userID, err)
		return
	}

	log.Printf("level=info component=api endpoint=transfer outcome=success user_id=%s transfer_id=%s", userID, receipt.TransferID)
	h.writeJSON(w, http.StatusCreated, receipt)
}

// writeTransferError maps service failures to stable error kinds and statuses.
func (h *TransferHandlers) writeTransferError(w http.ResponseWriter, userID uuid.UUID, err error) {
	var expired *app.TokenExpiredError
	switch {
	case errors.As(err, &expired):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:            "The token has expired",
			Kind:             "token_expired",
			NewToken:         expired.Replacement.Token,
			SecondsRemaining: expired.Replacement.SecondsRemaining,
		})
	case errors.Is(err, store.ErrTokenNotFound):
		h.writeError(w, http.StatusBadRequest, "token_not_found", "The token is not valid or has expired")
	case errors.Is(err, app.ErrOriginNotFound):
		h.writeError(w, http.StatusNotFound, "origin_not_found", "The origin account does not exist or does not belong to the user")
	case errors.Is(err, app.ErrDestinationNotFound):
		h.writeError(w, http.StatusNotFound, "destination_not_found", "The destination account does not exist")
	case errors.Is(err, app.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, "invalid_amount", "The amount must be greater than 0")
	case errors.Is(err, app.ErrSelfTransfer):
		h.writeError(w, http.StatusBadRequest, "self_transfer", "Origin and destination accounts must differ")
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusBadRequest, "insufficient_funds", "Insufficient funds in the origin account")
	case errors.Is(err, store.ErrTransferConflict):
		h.writeError(w, http.StatusConflict, "conflict", "The transfer could not be committed, please retry")
	default:
		log.Printf("level=error component=api endpoint=transfer user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "internal", "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *TransferHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing structured JSON error responses.
func (h *TransferHandlers) writeError(w http.ResponseWriter, status int, kind, message string) {
	h.writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}
