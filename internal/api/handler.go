package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/accountledger/internal/domain"
	"github.com/punchamoorthee/accountledger/internal/models"
)

type AccountService interface {
	Open(ctx context.Context, ownerID int64, initialBalance int64) (*domain.Account, error)
	Close(ctx context.Context, ownerID int64, accountNumber string) (*domain.Account, error)
	ListAccounts(ctx context.Context, ownerID int64) ([]domain.Account, error)
}

type TransactionService interface {
	Use(ctx context.Context, ownerID int64, accountNumber string, amount int64) (*domain.Transaction, error)
	Cancel(ctx context.Context, transactionID, accountNumber string, amount int64) (*domain.Transaction, error)
	Query(ctx context.Context, transactionID string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, accountNumber string) ([]domain.Transaction, error)
}

type Handler struct {
	accounts     AccountService
	transactions TransactionService
}

func NewHandler(accounts AccountService, transactions TransactionService) *Handler {
	return &Handler{accounts: accounts, transactions: transactions}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAccountRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	account, err := h.accounts.Open(r.Context(), req.UserID, req.InitialBalance)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, models.NewAccountResponse(account))
}

func (h *Handler) DeleteAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req models.DeleteAccountRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	account, err := h.accounts.Close(r.Context(), req.UserID, req.AccountNumber)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewAccountResponse(account))
}

func (h *Handler) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID < 1 {
		respondWithError(w, &models.ValidationError{Field: "user_id", Message: "must be at least 1"})
		return
	}

	accounts, err := h.accounts.ListAccounts(r.Context(), userID)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewAccountSummaries(accounts))
}

func (h *Handler) ListAccountTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	accountNumber := mux.Vars(r)["accountNumber"]

	txns, err := h.transactions.ListTransactions(r.Context(), accountNumber)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewTransactionResponses(txns))
}

func (h *Handler) UseBalanceHandler(w http.ResponseWriter, r *http.Request) {
	var req models.UseBalanceRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	txn, err := h.transactions.Use(r.Context(), req.UserID, req.AccountNumber, req.Amount)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewTransactionResponse(txn))
}

func (h *Handler) CancelBalanceHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CancelBalanceRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	txn, err := h.transactions.Cancel(r.Context(), req.TransactionID, req.AccountNumber, req.Amount)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewTransactionResponse(txn))
}

func (h *Handler) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	txn, err := h.transactions.Query(r.Context(), mux.Vars(r)["transactionId"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewTransactionResponse(txn))
}

type validatable interface {
	Validate() error
}

// decodeRequest reads and validates the JSON body, answering 400 itself
// when either step fails.
func decodeRequest(w http.ResponseWriter, r *http.Request, req validatable) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, models.ErrorResponse{Code: "INVALID_REQUEST", Error: "Malformed JSON body"})
		return false
	}
	if err := req.Validate(); err != nil {
		respondWithError(w, err)
		return false
	}
	return true
}

func statusFor(err error) int {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest
	}

	class, ok := domain.ClassOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch class {
	case domain.ClassMissingEntity:
		return http.StatusNotFound
	case domain.ClassMismatch:
		return http.StatusForbidden
	case domain.ClassBusinessRule:
		return http.StatusUnprocessableEntity
	case domain.ClassTransient:
		return http.StatusConflict
	case domain.ClassInvalidInput:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondWithError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		respondWithJSON(w, code, models.ErrorResponse{Code: "INTERNAL_ERROR", Error: "Internal Server Error"})
		return
	}

	body := models.ErrorResponse{Code: domain.CodeOf(err), Error: err.Error()}
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		body.Code = "INVALID_REQUEST"
	}
	respondWithJSON(w, code, body)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
