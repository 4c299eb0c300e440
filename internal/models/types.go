// Package models holds the JSON shapes of the HTTP API. Amounts travel as
// decimal strings with two fractional digits.
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/bankledger/internal/domain"
	"github.com/punchamoorthee/bankledger/internal/secrets"
)

// Account represents a user's ledger account.
type Account struct {
	ID             uuid.UUID `json:"id"`
	OwnerID        uuid.UUID `json:"owner_id"`
	Type           string    `json:"account_type"`
	Status         string    `json:"status"`
	Balance        string    `json:"balance"`
	OverdraftLimit string    `json:"overdraft_limit"`
	Available      string    `json:"available"`
	Currency       string    `json:"currency"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewAccount(a domain.Account) Account {
	return Account{
		ID:             a.ID,
		OwnerID:        a.OwnerID,
		Type:           string(a.Type),
		Status:         string(a.Status),
		Balance:        domain.FormatAmount(a.Balance),
		OverdraftLimit: domain.FormatAmount(a.OverdraftLimit),
		Available:      domain.FormatAmount(a.Available()),
		Currency:       a.Currency,
		CreatedAt:      a.CreatedAt,
	}
}

type OpenAccountRequest struct {
	Type           string `json:"account_type"`
	OverdraftLimit string `json:"overdraft_limit"`
	Currency       string `json:"currency"`
}

// MovementRequest is the payload of a deposit or withdrawal.
type MovementRequest struct {
	AccountID   uuid.UUID `json:"account_id"`
	Amount      string    `json:"amount"`
	Description string    `json:"description"`
}

// Transaction is one immutable ledger line.
type Transaction struct {
	ID          uuid.UUID  `json:"id"`
	AccountID   uuid.UUID  `json:"account_id"`
	Direction   string     `json:"direction"`
	Amount      string     `json:"amount"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Reference   string     `json:"reference,omitempty"`
	TransferID  *uuid.UUID `json:"transfer_id,omitempty"`
	CardID      *uuid.UUID `json:"card_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func NewTransaction(t domain.Transaction) Transaction {
	return Transaction{
		ID:          t.ID,
		AccountID:   t.AccountID,
		Direction:   string(t.Direction),
		Amount:      domain.FormatAmount(t.Amount),
		Category:    string(t.Category),
		Description: t.Description,
		Reference:   t.Reference,
		TransferID:  t.TransferID,
		CardID:      t.CardID,
		CreatedAt:   t.CreatedAt,
	}
}

func NewTransactions(ts []domain.Transaction) []Transaction {
	out := make([]Transaction, 0, len(ts))
	for _, t := range ts {
		out = append(out, NewTransaction(t))
	}
	return out
}

// TransferRequest is the payload from the client.
type TransferRequest struct {
	FromAccountID uuid.UUID `json:"from_account_id"`
	ToAccountID   uuid.UUID `json:"to_account_id"`
	Amount        string    `json:"amount"`
	Description   string    `json:"description"`
}

// Transfer represents the immutable record of intent.
type Transfer struct {
	ID                       uuid.UUID `json:"id"`
	FromAccountID            uuid.UUID `json:"from_account_id"`
	ToAccountID              uuid.UUID `json:"to_account_id"`
	Amount                   string    `json:"amount"`
	Description              string    `json:"description"`
	Reference                string    `json:"reference"`
	SourceTransactionID      uuid.UUID `json:"source_transaction_id"`
	DestinationTransactionID uuid.UUID `json:"destination_transaction_id"`
	CreatedAt                time.Time `json:"created_at"`
}

func NewTransfer(t domain.Transfer) Transfer {
	return Transfer{
		ID:                       t.ID,
		FromAccountID:            t.SourceAccountID,
		ToAccountID:              t.DestinationAccountID,
		Amount:                   domain.FormatAmount(t.Amount),
		Description:              t.Description,
		Reference:                t.Reference,
		SourceTransactionID:      t.SourceTransactionID,
		DestinationTransactionID: t.DestinationTransactionID,
		CreatedAt:                t.CreatedAt,
	}
}

type CardRequest struct {
	AccountID     uuid.UUID `json:"account_id"`
	HolderName    string    `json:"holder_name"`
	PIN           string    `json:"pin"`
	Type          string    `json:"card_type"`
	SpendingLimit *string   `json:"spending_limit"`
}

// Card never carries the full number or the CVV.
type Card struct {
	ID            uuid.UUID `json:"id"`
	AccountID     uuid.UUID `json:"account_id"`
	MaskedNumber  string    `json:"masked_number"`
	HolderName    string    `json:"holder_name"`
	Type          string    `json:"card_type"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
	SpendingLimit *string   `json:"spending_limit,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func NewCard(c domain.Card) Card {
	out := Card{
		ID:           c.ID,
		AccountID:    c.AccountID,
		MaskedNumber: secrets.Mask(c.Number),
		HolderName:   c.HolderName,
		Type:         string(c.Type),
		Status:       string(c.Status),
		ExpiresAt:    c.ExpiresAt,
		CreatedAt:    c.CreatedAt,
	}
	if c.SpendingLimit != nil {
		limit := domain.FormatAmount(*c.SpendingLimit)
		out.SpendingLimit = &limit
	}
	return out
}

func NewCards(cs []domain.Card) []Card {
	out := make([]Card, 0, len(cs))
	for _, c := range cs {
		out = append(out, NewCard(c))
	}
	return out
}

// IssuedCard is returned once, at issuance. It is the only response that
// discloses the card number and CVV.
type IssuedCard struct {
	Card
	Number string `json:"card_number"`
	CVV    string `json:"cvv"`
}

type CardPaymentRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Merchant    string `json:"merchant"`
}

// ErrorBody is the envelope of every failed request.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
