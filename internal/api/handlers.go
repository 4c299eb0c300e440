package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/bankledger/internal/auth"
	"github.com/punchamoorthee/bankledger/internal/domain"
	"github.com/punchamoorthee/bankledger/internal/logging"
	"github.com/punchamoorthee/bankledger/internal/models"
	"github.com/punchamoorthee/bankledger/internal/service"
)

const maxBodyBytes = 1 << 20

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Accounts

func (h *Handler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req models.OpenAccountRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	overdraft := decimal.Zero
	if req.OverdraftLimit != "" {
		d, err := decimal.NewFromString(req.OverdraftLimit)
		if err != nil {
			h.respondWithError(w, r, fmt.Errorf("%w: malformed overdraft_limit", domain.ErrInvalidArgument))
			return
		}
		overdraft = d
	}

	account, err := h.ledger.OpenAccount(r.Context(), principal(r), service.OpenAccountRequest{
		Type:           domain.AccountType(req.Type),
		OverdraftLimit: overdraft,
		Currency:       req.Currency,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/accounts/"+account.ID.String())
	respondWithJSON(w, http.StatusCreated, models.NewAccount(*account))
}

func (h *Handler) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.ledger.Accounts(r.Context(), principal(r))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	out := make([]models.Account, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, models.NewAccount(a))
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	account, err := h.ledger.Account(r.Context(), principal(r), id)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewAccount(*account))
}

func (h *Handler) GetAccountTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	q, err := transactionQuery(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	q.AccountID = &id
	h.listTransactions(w, r, q)
}

func (h *Handler) FreezeAccountHandler(w http.ResponseWriter, r *http.Request) {
	h.accountTransition(w, r, h.ledger.FreezeAccount)
}

func (h *Handler) UnfreezeAccountHandler(w http.ResponseWriter, r *http.Request) {
	h.accountTransition(w, r, h.ledger.UnfreezeAccount)
}

func (h *Handler) CloseAccountHandler(w http.ResponseWriter, r *http.Request) {
	h.accountTransition(w, r, h.ledger.CloseAccount)
}

type accountOp func(ctx context.Context, caller domain.Principal, id uuid.UUID) (*domain.Account, error)

func (h *Handler) accountTransition(w http.ResponseWriter, r *http.Request, op accountOp) {
	id, err := pathID(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	account, err := op(r.Context(), principal(r), id)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewAccount(*account))
}

// Transactions

func (h *Handler) DepositHandler(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.ledger.Deposit)
}

func (h *Handler) WithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.ledger.Withdraw)
}

type movementOp func(ctx context.Context, caller domain.Principal, m service.Movement) (*domain.Transaction, error)

func (h *Handler) movement(w http.ResponseWriter, r *http.Request, op movementOp) {
	var req models.MovementRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	txn, err := op(r.Context(), principal(r), service.Movement{
		AccountID:   req.AccountID,
		Amount:      amount,
		Description: req.Description,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, models.NewTransaction(*txn))
}

func (h *Handler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	q, err := transactionQuery(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if raw := r.URL.Query().Get("account_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.respondWithError(w, r, fmt.Errorf("%w: malformed account_id", domain.ErrInvalidArgument))
			return
		}
		q.AccountID = &id
	}
	h.listTransactions(w, r, q)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request, q service.TransactionQuery) {
	txns, err := h.ledger.Transactions(r.Context(), principal(r), q)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewTransactions(txns))
}

func transactionQuery(r *http.Request) (service.TransactionQuery, error) {
	values := r.URL.Query()
	q := service.TransactionQuery{Category: domain.Category(values.Get("category"))}
	var err error
	if q.Limit, err = queryInt(values.Get("limit")); err != nil {
		return q, fmt.Errorf("%w: malformed limit", domain.ErrInvalidArgument)
	}
	if values.Has("limit") && q.Limit == 0 {
		return q, fmt.Errorf("%w: limit must be at least 1", domain.ErrInvalidArgument)
	}
	if q.Offset, err = queryInt(values.Get("offset")); err != nil {
		return q, fmt.Errorf("%w: malformed offset", domain.ErrInvalidArgument)
	}
	return q, nil
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// Transfers

func (h *Handler) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	// 1. Read and hash the body; the hash binds an Idempotency-Key to the
	// caller and payload it was first used with.
	bodyBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.respondWithError(w, r, fmt.Errorf("%w: unreadable body", domain.ErrInvalidArgument))
		return
	}
	caller := principal(r)
	hash := sha256.New()
	hash.Write(caller.UserID[:])
	hash.Write(bodyBytes)
	reqHash := hex.EncodeToString(hash.Sum(nil))

	var req models.TransferRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		h.respondWithError(w, r, fmt.Errorf("%w: malformed JSON body", domain.ErrInvalidArgument))
		return
	}

	// 2. Validate
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	// 3. Call service
	transfer, replayed, err := h.ledger.Transfer(r.Context(), caller, service.TransferIntent{
		SourceID:       req.FromAccountID,
		DestinationID:  req.ToAccountID,
		Amount:         amount,
		Description:    req.Description,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		RequestHash:    reqHash,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	// 4. Idempotent replay answers 200 with the original transfer
	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		respondWithJSON(w, http.StatusOK, models.NewTransfer(*transfer))
		return
	}
	w.Header().Set("Location", "/api/v1/transfers/"+transfer.ID.String())
	respondWithJSON(w, http.StatusCreated, models.NewTransfer(*transfer))
}

func (h *Handler) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	transfer, err := h.ledger.TransferByID(r.Context(), principal(r), id)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewTransfer(*transfer))
}

// Cards

func (h *Handler) IssueCardHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CardRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	cardReq := service.CardRequest{
		AccountID:  req.AccountID,
		HolderName: req.HolderName,
		PIN:        req.PIN,
		Type:       domain.CardType(req.Type),
	}
	if req.SpendingLimit != nil {
		limit, err := domain.ParseAmount(*req.SpendingLimit)
		if err != nil {
			h.respondWithError(w, r, fmt.Errorf("spending_limit: %w", err))
			return
		}
		cardReq.SpendingLimit = &limit
	}

	issued, err := h.ledger.IssueCard(r.Context(), principal(r), cardReq)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/cards/"+issued.Card.ID.String())
	w.Header().Set("Cache-Control", "no-store")
	respondWithJSON(w, http.StatusCreated, models.IssuedCard{
		Card:   models.NewCard(issued.Card),
		Number: issued.Card.Number,
		CVV:    issued.CVV,
	})
}

func (h *Handler) ListCardsHandler(w http.ResponseWriter, r *http.Request) {
	cards, err := h.ledger.Cards(r.Context(), principal(r))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewCards(cards))
}

func (h *Handler) GetCardHandler(w http.ResponseWriter, r *http.Request) {
	h.cardOp(w, r, h.ledger.Card)
}

func (h *Handler) FreezeCardHandler(w http.ResponseWriter, r *http.Request) {
	h.cardOp(w, r, h.ledger.FreezeCard)
}

func (h *Handler) UnfreezeCardHandler(w http.ResponseWriter, r *http.Request) {
	h.cardOp(w, r, h.ledger.UnfreezeCard)
}

func (h *Handler) CancelCardHandler(w http.ResponseWriter, r *http.Request) {
	h.cardOp(w, r, h.ledger.CancelCard)
}

type cardOp func(ctx context.Context, caller domain.Principal, id uuid.UUID) (*domain.Card, error)

func (h *Handler) cardOp(w http.ResponseWriter, r *http.Request, op cardOp) {
	id, err := pathID(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	card, err := op(r.Context(), principal(r), id)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewCard(*card))
}

func (h *Handler) CardPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	var req models.CardPaymentRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	txn, err := h.ledger.PayWithCard(r.Context(), principal(r), service.CardPayment{
		CardID:      id,
		Amount:      amount,
		Description: req.Description,
		Merchant:    req.Merchant,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, models.NewTransaction(*txn))
}

// Helpers

func principal(r *http.Request) domain.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed id", domain.ErrInvalidArgument)
	}
	return id, nil
}

// decodeJSON reads a JSON body into v. An empty body is accepted only when
// optional is set.
func decodeJSON(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: malformed JSON body", domain.ErrInvalidArgument)
	}
	return nil
}

func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest
	case domain.CodeInvalidState, domain.CodeConflict:
		return http.StatusConflict
	case domain.CodeInsufficientFunds, domain.CodeLimitExceeded:
		return http.StatusUnprocessableEntity
	case domain.CodeBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.CodeOf(err)
	status := statusFor(code)
	msg := err.Error()
	if code == domain.CodeInternal {
		logging.WithTrace(r.Context(), h.logger).Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal server error"
	}
	if code.Retryable() {
		w.Header().Set("Retry-After", "1")
	}
	respondWithJSON(w, status, models.ErrorBody{Error: models.ErrorDetail{Code: string(code), Message: msg}})
}

func (h *Handler) unauthenticated(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="bankledger"`)
	respondWithJSON(w, http.StatusUnauthorized, models.ErrorBody{Error: models.ErrorDetail{
		Code: "UNAUTHENTICATED", Message: err.Error(),
	}})
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusNotFound, models.ErrorBody{Error: models.ErrorDetail{
		Code: string(domain.CodeNotFound), Message: "no such route",
	}})
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusMethodNotAllowed, models.ErrorBody{Error: models.ErrorDetail{
		Code: string(domain.CodeInvalidArgument), Message: "method not allowed",
	}})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
