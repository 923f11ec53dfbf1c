package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"account-transfers/internal/domain"
	"account-transfers/internal/errors"
	"account-transfers/internal/service"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type TransactionHandler struct {
	transactionService *service.TransactionService
}

func NewTransactionHandler(transactionService *service.TransactionService) *TransactionHandler {
	return &TransactionHandler{
		transactionService: transactionService,
	}
}

type TransferRequest struct {
	SourceAccountID      string `json:"source_account_id"`
	DestinationAccountID string `json:"destination_account_id"`
	Amount               string `json:"amount"`
	IdempotencyKey       string `json:"idempotency_key,omitempty"`
}

type TransferResponse struct {
	TransactionID  string  `json:"transaction_id"`
	Status         string  `json:"status"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
}

type TransactionResponse struct {
	TransactionID        string    `json:"transaction_id"`
	SourceAccountID      string    `json:"source_account_id"`
	DestinationAccountID string    `json:"destination_account_id"`
	Amount               string    `json:"amount"`
	Status               string    `json:"status"`
	IdempotencyKey       *string   `json:"idempotency_key,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

func (h *TransactionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error()))
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidAmount, "invalid amount format").WithDetails(err.Error()))
		return
	}

	// Parse optional idempotency key
	var idempotencyKey *uuid.UUID
	if req.IdempotencyKey != "" {
		key, err := uuid.Parse(req.IdempotencyKey)
		if err != nil {
			writeError(w, errors.NewAppError(errors.InvalidInput, "invalid idempotency_key format").WithDetails(err.Error()))
			return
		}
		idempotencyKey = &key
	}

	transaction, err := h.transactionService.Transfer(r.Context(), &service.TransferRequest{
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		Amount:               amount,
		IdempotencyKey:       idempotencyKey,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newTransferResponse(transaction))
}

// TransferByQuery serves the query-parameter form of a transfer:
// ?source=..&destination=..&amount=..
func (h *TransactionHandler) TransferByQuery(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	amount, err := decimal.NewFromString(query.Get("amount"))
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidAmount, "invalid amount format").WithDetails(err.Error()))
		return
	}

	transaction, err := h.transactionService.Transfer(r.Context(), &service.TransferRequest{
		SourceAccountID:      query.Get("source"),
		DestinationAccountID: query.Get("destination"),
		Amount:               amount,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newTransferResponse(transaction))
}

func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	transaction, err := h.transactionService.GetTransaction(mux.Vars(r)["transaction_id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TransactionResponse{
		TransactionID:        transaction.ID.String(),
		SourceAccountID:      transaction.SourceAccountID,
		DestinationAccountID: transaction.DestinationAccountID,
		Amount:               transaction.Amount.String(),
		Status:               transaction.Status,
		IdempotencyKey:       keyString(transaction.IdempotencyKey),
		CreatedAt:            transaction.CreatedAt,
	})
}

func newTransferResponse(transaction *domain.Transaction) TransferResponse {
	return TransferResponse{
		TransactionID:  transaction.ID.String(),
		Status:         transaction.Status,
		IdempotencyKey: keyString(transaction.IdempotencyKey),
	}
}

func keyString(key *uuid.UUID) *string {
	if key == nil {
		return nil
	}
	s := key.String()
	return &s
}
