package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/punchamoorthee/accountledger/internal/domain"
	"github.com/punchamoorthee/accountledger/internal/events"
	"github.com/punchamoorthee/accountledger/internal/lock"
	"github.com/punchamoorthee/accountledger/internal/models"
	"github.com/punchamoorthee/accountledger/internal/service"
	"github.com/punchamoorthee/accountledger/internal/store"
)

type testServer struct {
	*httptest.Server
	owners []int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	s := store.NewMemoryStore()
	var owners []int64
	for _, name := range []string{"alice", "bob"} {
		owner := &domain.AccountOwner{Name: name}
		if err := s.CreateOwner(context.Background(), owner); err != nil {
			t.Fatalf("create owner: %v", err)
		}
		owners = append(owners, owner.ID)
	}

	locker := lock.NewLocalLocker(time.Second)
	publisher := events.NoopPublisher{}
	engine := service.NewLockedEngine(service.NewEngine(s), locker)
	h := NewHandler(
		service.NewAccountService(s, service.NewNumberIssuer(s), locker, publisher),
		service.NewTransactionService(engine, publisher),
	)

	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, owners: owners}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestAccountAndTransactionFlow(t *testing.T) {
	ts := newTestServer(t)
	alice, bob := ts.owners[0], ts.owners[1]

	var account models.AccountResponse
	code := ts.do(t, http.MethodPost, "/api/v1/accounts", models.CreateAccountRequest{UserID: alice, InitialBalance: 10000}, &account)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if account.Balance != 10000 || account.Status != domain.AccountActive || len(account.AccountNumber) != 10 {
		t.Fatalf("unexpected account %+v", account)
	}

	var used models.TransactionResponse
	code = ts.do(t, http.MethodPost, "/api/v1/transactions/use",
		models.UseBalanceRequest{UserID: alice, AccountNumber: account.AccountNumber, Amount: 3000}, &used)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if used.Result != domain.OutcomeSuccess || used.BalanceSnapshot != 7000 {
		t.Fatalf("unexpected use response %+v", used)
	}

	var errBody models.ErrorResponse
	code = ts.do(t, http.MethodPost, "/api/v1/transactions/use",
		models.UseBalanceRequest{UserID: bob, AccountNumber: account.AccountNumber, Amount: 3000}, &errBody)
	if code != http.StatusForbidden || errBody.Code != "OWNER_MISMATCH" {
		t.Fatalf("expected 403 OWNER_MISMATCH, got %d %+v", code, errBody)
	}

	code = ts.do(t, http.MethodPost, "/api/v1/transactions/cancel",
		models.CancelBalanceRequest{TransactionID: used.TransactionID, AccountNumber: account.AccountNumber, Amount: 2999}, &errBody)
	if code != http.StatusUnprocessableEntity || errBody.Code != "PARTIAL_CANCEL_NOT_ALLOWED" {
		t.Fatalf("expected 422 PARTIAL_CANCEL_NOT_ALLOWED, got %d %+v", code, errBody)
	}

	var cancelled models.TransactionResponse
	code = ts.do(t, http.MethodPost, "/api/v1/transactions/cancel",
		models.CancelBalanceRequest{TransactionID: used.TransactionID, AccountNumber: account.AccountNumber, Amount: 3000}, &cancelled)
	if code != http.StatusOK || cancelled.BalanceSnapshot != 10000 || cancelled.Kind != domain.TransactionCancel {
		t.Fatalf("unexpected cancel %d %+v", code, cancelled)
	}

	var queried models.TransactionResponse
	code = ts.do(t, http.MethodGet, "/api/v1/transactions/"+used.TransactionID, nil, &queried)
	if code != http.StatusOK || queried.TransactionID != used.TransactionID || queried.Amount != 3000 {
		t.Fatalf("unexpected query %d %+v", code, queried)
	}

	var history []models.TransactionResponse
	code = ts.do(t, http.MethodGet, "/api/v1/accounts/"+account.AccountNumber+"/transactions", nil, &history)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	// use, failed use (mismatch), failed cancel (partial), cancel
	if len(history) != 4 {
		t.Fatalf("expected 4 records, got %d", len(history))
	}

	var summaries []models.AccountSummary
	code = ts.do(t, http.MethodGet, "/api/v1/accounts?user_id=1", nil, &summaries)
	if code != http.StatusOK || len(summaries) != 1 || summaries[0].Balance != 10000 {
		t.Fatalf("unexpected list %d %+v", code, summaries)
	}
}

func TestCloseAccountOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.owners[0]

	var account models.AccountResponse
	ts.do(t, http.MethodPost, "/api/v1/accounts", models.CreateAccountRequest{UserID: alice, InitialBalance: 50}, &account)

	var errBody models.ErrorResponse
	code := ts.do(t, http.MethodDelete, "/api/v1/accounts",
		models.DeleteAccountRequest{UserID: alice, AccountNumber: account.AccountNumber}, &errBody)
	if code != http.StatusUnprocessableEntity || errBody.Code != "BALANCE_NOT_EMPTY" {
		t.Fatalf("expected 422 BALANCE_NOT_EMPTY, got %d %+v", code, errBody)
	}

	ts.do(t, http.MethodPost, "/api/v1/transactions/use",
		models.UseBalanceRequest{UserID: alice, AccountNumber: account.AccountNumber, Amount: 50}, nil)

	var closed models.AccountResponse
	code = ts.do(t, http.MethodDelete, "/api/v1/accounts",
		models.DeleteAccountRequest{UserID: alice, AccountNumber: account.AccountNumber}, &closed)
	if code != http.StatusOK || closed.Status != domain.AccountClosed || closed.UnregisteredAt == nil {
		t.Fatalf("unexpected close %d %+v", code, closed)
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown owner", http.MethodPost, "/api/v1/accounts", models.CreateAccountRequest{UserID: 99, InitialBalance: 0}, http.StatusNotFound, "OWNER_NOT_FOUND"},
		{"invalid owner id", http.MethodPost, "/api/v1/accounts", models.CreateAccountRequest{UserID: 0}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"amount below minimum", http.MethodPost, "/api/v1/transactions/use", models.UseBalanceRequest{UserID: 1, AccountNumber: "1234567890", Amount: 5}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown account", http.MethodPost, "/api/v1/transactions/use", models.UseBalanceRequest{UserID: 1, AccountNumber: "1234567890", Amount: 100}, http.StatusNotFound, "ACCOUNT_NOT_FOUND"},
		{"unknown transaction", http.MethodGet, "/api/v1/transactions/nope", nil, http.StatusNotFound, "TRANSACTION_NOT_FOUND"},
		{"bad list query", http.MethodGet, "/api/v1/accounts?user_id=abc", nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"malformed body", http.MethodPost, "/api/v1/transactions/cancel", "not an object", http.StatusBadRequest, "INVALID_REQUEST"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body models.ErrorResponse
			status := ts.do(t, tc.method, tc.path, tc.body, &body)
			if status != tc.status || body.Code != tc.code {
				t.Fatalf("expected %d %s, got %d %+v", tc.status, tc.code, status, body)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		domain.ErrAccountBusy:            http.StatusConflict,
		domain.ErrDuplicateAccountNumber: http.StatusConflict,
		domain.ErrInsufficientBalance:    http.StatusUnprocessableEntity,
		domain.ErrInvalidAmount:          http.StatusBadRequest,
		context.DeadlineExceeded:         http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Errorf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]string
	if code := ts.do(t, http.MethodGet, "/health", nil, &body); code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected health %d %v", code, body)
	}
}
