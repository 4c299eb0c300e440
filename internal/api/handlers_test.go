package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/punchamoorthee/bankledger/internal/auth"
	"github.com/punchamoorthee/bankledger/internal/domain"
	"github.com/punchamoorthee/bankledger/internal/models"
	"github.com/punchamoorthee/bankledger/internal/secrets"
	"github.com/punchamoorthee/bankledger/internal/service"
	"github.com/punchamoorthee/bankledger/internal/store"
)

type testServer struct {
	t      *testing.T
	router http.Handler
	tokens *auth.Tokens
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemory()
	ledger := service.New(st, []byte("cvv"), service.WithPINHasher(secrets.BcryptPINs{Cost: bcrypt.MinCost}))
	tokens := auth.NewTokens([]byte("jwt"), "bankledger")
	return &testServer{
		t:      t,
		router: NewRouter(NewHandler(ledger, st, zap.NewNop()), tokens),
		tokens: tokens,
	}
}

func (s *testServer) token(user uuid.UUID) string {
	raw, err := s.tokens.Issue(user, time.Hour)
	require.NoError(s.t, err)
	return raw
}

func (s *testServer) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(s.t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decode[models.ErrorBody](t, rec)
	assert.Equal(t, code, body.Error.Code)
	assert.NotEmpty(t, body.Error.Message)
}

func (s *testServer) openAccount(token string, overdraft string) models.Account {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/accounts", token, map[string]string{"overdraft_limit": overdraft})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.Account](s.t, rec)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/health", "", nil)
	rec := s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ledger_http_requests_total")
}

func TestRequiresBearerToken(t *testing.T) {
	s := newTestServer(t)
	requireError(t, s.do(http.MethodGet, "/api/v1/accounts", "", nil), http.StatusUnauthorized, "UNAUTHENTICATED")
	requireError(t, s.do(http.MethodGet, "/api/v1/accounts", "garbage", nil), http.StatusUnauthorized, "UNAUTHENTICATED")
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	requireError(t, s.do(http.MethodGet, "/api/v2/nothing", "", nil), http.StatusNotFound, "NOT_FOUND")
}

func TestAccountMoneyFlow(t *testing.T) {
	s := newTestServer(t)
	alice := s.token(uuid.New())
	bob := s.token(uuid.New())
	src := s.openAccount(alice, "")
	dst := s.openAccount(bob, "")
	assert.Equal(t, "0.00", src.Balance)
	assert.Equal(t, "CHECKING", src.Type)
	assert.Equal(t, "ACTIVE", src.Status)

	rec := s.do(http.MethodPost, "/api/v1/transactions/deposit", alice,
		map[string]any{"account_id": src.ID, "amount": "100.00"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	dep := decode[models.Transaction](t, rec)
	assert.Equal(t, "CREDIT", dep.Direction)
	assert.Equal(t, "DEPOSIT", dep.Category)
	assert.Equal(t, "100.00", dep.Amount)

	rec = s.do(http.MethodPost, "/api/v1/transactions/withdrawal", alice,
		map[string]any{"account_id": src.ID, "amount": "30.00"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	transferBody := map[string]any{"from_account_id": src.ID, "to_account_id": dst.ID, "amount": "20.00"}
	rec = s.do(http.MethodPost, "/api/v1/transfers", alice, transferBody, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tr := decode[models.Transfer](t, rec)
	assert.Equal(t, "/api/v1/transfers/"+tr.ID.String(), rec.Header().Get("Location"))
	assert.Equal(t, "20.00", tr.Amount)
	assert.Regexp(t, `^TRF-`, tr.Reference)

	// same key, same payload: replayed
	rec = s.do(http.MethodPost, "/api/v1/transfers", alice, transferBody, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, tr.ID, decode[models.Transfer](t, rec).ID)
	assert.Equal(t, "true", rec.Header().Get("Idempotent-Replayed"))

	// same key, different payload
	transferBody["amount"] = "21.00"
	requireError(t, s.do(http.MethodPost, "/api/v1/transfers", alice, transferBody, "Idempotency-Key", "abc"),
		http.StatusBadRequest, "INVALID_ARGUMENT")

	rec = s.do(http.MethodGet, "/api/v1/accounts/"+src.ID.String(), alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "50.00", decode[models.Account](t, rec).Balance)

	rec = s.do(http.MethodGet, "/api/v1/accounts/"+dst.ID.String(), bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "20.00", decode[models.Account](t, rec).Balance)

	// both parties see the transfer
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/transfers/"+tr.ID.String(), bob, nil).Code)

	rec = s.do(http.MethodGet, "/api/v1/accounts/"+src.ID.String()+"/transactions?limit=2", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txns := decode[[]models.Transaction](t, rec)
	require.Len(t, txns, 2)
	assert.Equal(t, "TRANSFER", txns[0].Category)
	assert.Equal(t, "DEBIT", txns[0].Direction)
	require.NotNil(t, txns[0].TransferID)
	assert.Equal(t, tr.ID, *txns[0].TransferID)

	rec = s.do(http.MethodGet, "/api/v1/transactions?category=deposit", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Transaction](t, rec), 1)

	rec = s.do(http.MethodGet, "/api/v1/accounts", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Account](t, rec), 1)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	user := uuid.New()
	tok := s.token(user)
	a := s.openAccount(tok, "10.00")
	b := s.openAccount(tok, "")
	stranger := s.token(uuid.New())

	requireError(t, s.do(http.MethodPost, "/api/v1/transactions/withdrawal", tok,
		map[string]any{"account_id": a.ID, "amount": "10.01"}), http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS")
	requireError(t, s.do(http.MethodPost, "/api/v1/transactions/deposit", tok,
		map[string]any{"account_id": a.ID, "amount": "1.001"}), http.StatusBadRequest, "INVALID_ARGUMENT")
	requireError(t, s.do(http.MethodPost, "/api/v1/transactions/deposit", tok,
		map[string]any{"account_id": a.ID, "amount": "1e15"}), http.StatusBadRequest, "INVALID_ARGUMENT")
	requireError(t, s.do(http.MethodPost, "/api/v1/transactions/deposit", tok,
		map[string]any{"account_id": a.ID, "amount": 5}), http.StatusBadRequest, "INVALID_ARGUMENT")
	requireError(t, s.do(http.MethodPost, "/api/v1/transactions/deposit", tok, "{"),
		http.StatusBadRequest, "INVALID_ARGUMENT")
	requireError(t, s.do(http.MethodPost, "/api/v1/transactions/deposit", stranger,
		map[string]any{"account_id": a.ID, "amount": "1.00"}), http.StatusForbidden, "FORBIDDEN")
	requireError(t, s.do(http.MethodGet, "/api/v1/accounts/"+a.ID.String(), stranger, nil),
		http.StatusNotFound, "NOT_FOUND")
	requireError(t, s.do(http.MethodGet, "/api/v1/accounts/not-a-uuid", tok, nil),
		http.StatusBadRequest, "INVALID_ARGUMENT")
	requireError(t, s.do(http.MethodGet, "/api/v1/transactions?limit=0", tok, nil),
		http.StatusBadRequest, "INVALID_ARGUMENT")
	requireError(t, s.do(http.MethodGet, "/api/v1/transactions?limit=500", tok, nil),
		http.StatusBadRequest, "INVALID_ARGUMENT")
	requireError(t, s.do(http.MethodPost, "/api/v1/transfers", tok,
		map[string]any{"from_account_id": a.ID, "to_account_id": a.ID, "amount": "1.00"}),
		http.StatusBadRequest, "INVALID_ARGUMENT")

	rec := s.do(http.MethodPost, "/api/v1/accounts/"+b.ID.String()+"/freeze", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "FROZEN", decode[models.Account](t, rec).Status)
	requireError(t, s.do(http.MethodPost, "/api/v1/transactions/deposit", tok,
		map[string]any{"account_id": b.ID, "amount": "1.00"}), http.StatusConflict, "INVALID_STATE")
	requireError(t, s.do(http.MethodPost, "/api/v1/accounts/"+b.ID.String()+"/close", tok, nil),
		http.StatusConflict, "INVALID_STATE")

	rec = s.do(http.MethodPost, "/api/v1/accounts/"+b.ID.String()+"/unfreeze", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodPost, "/api/v1/accounts/"+b.ID.String()+"/close", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CLOSED", decode[models.Account](t, rec).Status)
}

func TestCardEndpoints(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(uuid.New())
	a := s.openAccount(tok, "")
	rec := s.do(http.MethodPost, "/api/v1/transactions/deposit", tok, map[string]any{"account_id": a.ID, "amount": "40.00"})
	require.Equal(t, http.StatusCreated, rec.Code)

	requireError(t, s.do(http.MethodPost, "/api/v1/cards", tok,
		map[string]any{"account_id": a.ID, "holder_name": "Ada", "pin": "12"}), http.StatusBadRequest, "INVALID_ARGUMENT")

	rec = s.do(http.MethodPost, "/api/v1/cards", tok,
		map[string]any{"account_id": a.ID, "holder_name": "Ada", "pin": "1234", "spending_limit": "25.00"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	issued := decode[models.IssuedCard](t, rec)
	assert.Regexp(t, `^[0-9]{16}$`, issued.Number)
	assert.Regexp(t, `^[0-9]{3}$`, issued.CVV)
	assert.Equal(t, secrets.Mask(issued.Number), issued.MaskedNumber)
	require.NotNil(t, issued.SpendingLimit)
	assert.Equal(t, "25.00", *issued.SpendingLimit)

	rec = s.do(http.MethodGet, "/api/v1/cards/"+issued.ID.String(), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), issued.Number)
	assert.NotContains(t, rec.Body.String(), `"cvv"`)

	rec = s.do(http.MethodPost, "/api/v1/cards/"+issued.ID.String()+"/payments", tok,
		map[string]any{"amount": "12.50", "merchant": "Bakery"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pay := decode[models.Transaction](t, rec)
	assert.Equal(t, "CARD_PAYMENT", pay.Category)
	assert.Equal(t, "Card payment at Bakery", pay.Description)

	requireError(t, s.do(http.MethodPost, "/api/v1/cards/"+issued.ID.String()+"/payments", tok,
		map[string]any{"amount": "25.01"}), http.StatusUnprocessableEntity, "LIMIT_EXCEEDED")

	rec = s.do(http.MethodPost, "/api/v1/cards/"+issued.ID.String()+"/freeze", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "FROZEN", decode[models.Card](t, rec).Status)
	requireError(t, s.do(http.MethodPost, "/api/v1/cards/"+issued.ID.String()+"/payments", tok,
		map[string]any{"amount": "1.00"}), http.StatusConflict, "INVALID_STATE")

	rec = s.do(http.MethodDelete, "/api/v1/cards/"+issued.ID.String(), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", decode[models.Card](t, rec).Status)

	rec = s.do(http.MethodGet, "/api/v1/cards", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cards := decode[[]models.Card](t, rec)
	require.Len(t, cards, 1)
	assert.Equal(t, "CANCELLED", cards[0].Status)

	requireError(t, s.do(http.MethodGet, "/api/v1/cards/"+issued.ID.String(), s.token(uuid.New()), nil),
		http.StatusNotFound, "NOT_FOUND")

	rec = s.do(http.MethodGet, "/api/v1/accounts/"+a.ID.String(), tok, nil)
	assert.Equal(t, "27.50", decode[models.Account](t, rec).Balance)
}

func TestRespondWithErrorStatuses(t *testing.T) {
	h := NewHandler(nil, nil, zap.NewNop())
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrInvalidArgument, http.StatusBadRequest},
		{domain.ErrInvalidState, http.StatusConflict},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{domain.ErrLimitExceeded, http.StatusUnprocessableEntity},
		{domain.ErrBusy, http.StatusServiceUnavailable},
		{errors.New("pool exhausted"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.respondWithError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	h.respondWithError(rec, httptest.NewRequest(http.MethodGet, "/", nil), fmt.Errorf("%w: lock wait", domain.ErrBusy))
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	h.respondWithError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("password=hunter2"))
	body := decode[models.ErrorBody](t, rec)
	assert.Equal(t, "INTERNAL", body.Error.Code)
	assert.NotContains(t, body.Error.Message, "hunter2")
}
