package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/punchamoorthee/fxledger/internal/catalog"
	"github.com/punchamoorthee/fxledger/internal/domain"
	"github.com/punchamoorthee/fxledger/internal/models"
	"github.com/punchamoorthee/fxledger/internal/service"
	"github.com/punchamoorthee/fxledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	store *store.Memory
}

func newTestServer(t *testing.T, ref catalog.Provider) *testServer {
	t.Helper()
	m := store.NewMemory(store.Options{LockTimeout: time.Second})
	require.NoError(t, store.SeedReference(context.Background(), m))
	if ref == nil {
		loaded, err := m.LoadReference(context.Background())
		require.NoError(t, err)
		ref = loaded
	}
	initial := map[domain.Currency]decimal.Decimal{domain.USD: decimal.NewFromInt(100)}
	h := NewHandler(service.NewTransferService(m, ref), m, ref, initial, log.NewNopLogger())
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: m}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func (s *testServer) signup(t *testing.T, name string) models.UserResponse {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/v1/users", models.CreateUserRequest{Username: name}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var out models.UserResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func account(t *testing.T, u models.UserResponse, c domain.Currency) models.Account {
	t.Helper()
	for _, a := range u.Accounts {
		if a.Currency == c {
			return a
		}
	}
	t.Fatalf("no %s account", c)
	return models.Account{}
}

func transferBody(from, to uuid.UUID, amount string) map[string]interface{} {
	return map[string]interface{}{
		"sender_account_id":   from.String(),
		"receiver_account_id": to.String(),
		"amount":              amount,
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	resp, body := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestCreateUser(t *testing.T) {
	s := newTestServer(t, nil)
	u := s.signup(t, "alice")

	require.Len(t, u.Accounts, 3)
	usd := account(t, u, domain.USD)
	assert.True(t, usd.Balance.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "$100.00", usd.Display)

	resp, _ := s.do(t, http.MethodPost, "/api/v1/users", models.CreateUserRequest{Username: "alice"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/users", models.CreateUserRequest{Username: "a!"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := s.do(t, http.MethodGet, "/api/v1/users/"+u.User.ID.String()+"/accounts", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []models.Account
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Len(t, listed, 3)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/users/"+uuid.NewString()+"/accounts", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateTransfer(t *testing.T) {
	s := newTestServer(t, nil)
	alice, bob := s.signup(t, "alice"), s.signup(t, "bob")
	from, to := account(t, alice, domain.USD).ID, account(t, bob, domain.EUR).ID

	resp, body := s.do(t, http.MethodPost, "/api/v1/transfers", transferBody(from, to, "50.00"), map[string]string{"Idempotency-Key": "k1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created models.TransferResponse
	require.NoError(t, json.Unmarshal(body, &created))
	assert.False(t, created.Replayed)
	assert.Equal(t, domain.KindOther, created.Transaction.Type)
	assert.True(t, created.Transaction.ReceivedAmount.Equal(decimal.RequireFromString("44")))
	assert.Equal(t, "$1.00", created.Commission)
	assert.Equal(t, "/api/v1/transfers/"+created.Transaction.ID.String(), resp.Header.Get("Location"))

	// replay
	resp, body = s.do(t, http.MethodPost, "/api/v1/transfers", transferBody(from, to, "50.00"), map[string]string{"Idempotency-Key": "k1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var replayed models.TransferResponse
	require.NoError(t, json.Unmarshal(body, &replayed))
	assert.True(t, replayed.Replayed)
	assert.Equal(t, created.Transaction.ID, replayed.Transaction.ID)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/transfers", transferBody(from, to, "51.00"), map[string]string{"Idempotency-Key": "k1"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/api/v1/accounts/"+from.String(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var acc models.Account
	require.NoError(t, json.Unmarshal(body, &acc))
	assert.True(t, acc.Balance.Equal(decimal.NewFromInt(50)))

	resp, _ = s.do(t, http.MethodGet, "/api/v1/transfers/"+created.Transaction.ID.String(), nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/api/v1/users/"+bob.User.ID.String()+"/transactions", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []domain.Transaction
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history, 1)
	assert.Equal(t, created.Transaction.ID, history[0].ID)
}

func TestCreateTransfer_Errors(t *testing.T) {
	s := newTestServer(t, nil)
	alice, bob := s.signup(t, "alice"), s.signup(t, "bob")
	from, to := account(t, alice, domain.USD).ID, account(t, bob, domain.USD).ID

	tests := []struct {
		name string
		body interface{}
		code int
	}{
		{"not an object", "nope", http.StatusBadRequest},
		{"unknown field", map[string]string{"from": "x"}, http.StatusBadRequest},
		{"missing amount", map[string]string{"sender_account_id": from.String(), "receiver_account_id": to.String()}, http.StatusBadRequest},
		{"bad uuid", map[string]string{"sender_account_id": "42", "receiver_account_id": to.String(), "amount": "1"}, http.StatusBadRequest},
		{"zero amount", transferBody(from, to, "0"), http.StatusUnprocessableEntity},
		{"sub-cent amount", transferBody(from, to, "0.001"), http.StatusUnprocessableEntity},
		{"same account", transferBody(from, from, "1"), http.StatusUnprocessableEntity},
		{"insufficient funds", transferBody(from, to, "1000"), http.StatusUnprocessableEntity},
		{"unknown account", transferBody(from, uuid.New(), "1"), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.do(t, http.MethodPost, "/api/v1/transfers", tt.body, nil)
			assert.Equal(t, tt.code, resp.StatusCode, string(body))
			var e models.ErrorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.NotEmpty(t, e.Error)
		})
	}

	resp, _ := s.do(t, http.MethodGet, "/api/v1/accounts/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/api/v1/transfers/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateTransfer_MissingRateIsServerError(t *testing.T) {
	noRates, err := catalog.NewRates()
	require.NoError(t, err)
	commissions, err := catalog.NewCommissions(store.DefaultCommissions)
	require.NoError(t, err)
	s := newTestServer(t, &catalog.Reference{Rates: noRates, Commissions: commissions})
	alice, bob := s.signup(t, "alice"), s.signup(t, "bob")

	resp, body := s.do(t, http.MethodPost, "/api/v1/transfers",
		transferBody(account(t, alice, domain.USD).ID, account(t, bob, domain.EUR).ID, "10"), nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(body), "misconfigured")

	resp, body = s.do(t, http.MethodGet, "/api/v1/rates", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rates models.RatesResponse
	require.NoError(t, json.Unmarshal(body, &rates))
	assert.Empty(t, rates.Rates)
	assert.Len(t, rates.Missing, 6)
	assert.Len(t, rates.Commissions, 2)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{domain.ErrBusy, http.StatusConflict},
		{domain.ErrUserExists, http.StatusConflict},
		{domain.ErrAccountNotFound, http.StatusNotFound},
		{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{domain.ErrNegativeReceivedAmount, http.StatusUnprocessableEntity},
		{domain.ErrRateNotFound, http.StatusInternalServerError},
		{domain.ErrUnknownTransactionType, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, statusFor(tt.err), tt.err.Error())
	}
}

func TestBusyResponse(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, log.NewNopLogger())
	rec := httptest.NewRecorder()
	h.respondWithServiceError(rec, httptest.NewRequest(http.MethodPost, "/api/v1/transfers", nil), domain.ErrBusy)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, retryAfter, rec.Header().Get("Retry-After"))
}
