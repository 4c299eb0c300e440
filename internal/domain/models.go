package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountChecking AccountType = "CHECKING"
	AccountSavings  AccountType = "SAVINGS"
)

type AccountStatus string

const (
	AccountActive AccountStatus = "ACTIVE"
	AccountFrozen AccountStatus = "FROZEN"
	AccountClosed AccountStatus = "CLOSED"
)

type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

type Category string

const (
	CategoryTransfer    Category = "TRANSFER"
	CategoryCardPayment Category = "CARD_PAYMENT"
	CategoryDeposit     Category = "DEPOSIT"
	CategoryWithdrawal  Category = "WITHDRAWAL"
)

type CardType string

const (
	CardDebit  CardType = "DEBIT"
	CardCredit CardType = "CREDIT"
)

type CardStatus string

const (
	CardActive    CardStatus = "ACTIVE"
	CardFrozen    CardStatus = "FROZEN"
	CardCancelled CardStatus = "CANCELLED"
)

// Account is a customer's ledger account. Balance always equals the signed
// sum of the account's transactions.
type Account struct {
	ID             uuid.UUID       `json:"id"`
	OwnerID        uuid.UUID       `json:"owner_id"`
	Type           AccountType     `json:"type"`
	Status         AccountStatus   `json:"status"`
	Balance        decimal.Decimal `json:"balance"`
	OverdraftLimit decimal.Decimal `json:"overdraft_limit"`
	Currency       string          `json:"currency"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Available is the amount a debit may consume: balance plus overdraft.
func (a Account) Available() decimal.Decimal {
	return a.Balance.Add(a.OverdraftLimit)
}

// Transaction is one immutable movement on one account.
type Transaction struct {
	ID          uuid.UUID       `json:"id"`
	AccountID   uuid.UUID       `json:"account_id"`
	Direction   Direction       `json:"direction"`
	Amount      decimal.Decimal `json:"amount"`
	Category    Category        `json:"category"`
	Description string          `json:"description"`
	Reference   string          `json:"reference,omitempty"`
	TransferID  *uuid.UUID      `json:"transfer_id,omitempty"`
	CardID      *uuid.UUID      `json:"card_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Signed returns the amount as it affects the balance.
func (t Transaction) Signed() decimal.Decimal {
	if t.Direction == Debit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Transfer links the debit and credit legs of an inter-account move.
type Transfer struct {
	ID                       uuid.UUID       `json:"id"`
	SourceAccountID          uuid.UUID       `json:"source_account_id"`
	DestinationAccountID     uuid.UUID       `json:"destination_account_id"`
	Amount                   decimal.Decimal `json:"amount"`
	Description              string          `json:"description"`
	Reference                string          `json:"reference"`
	SourceTransactionID      uuid.UUID       `json:"source_transaction_id"`
	DestinationTransactionID uuid.UUID       `json:"destination_transaction_id"`
	CreatedAt                time.Time       `json:"created_at"`
}

// Card is a payment card drawing on one account. The CVV is never stored.
type Card struct {
	ID            uuid.UUID        `json:"id"`
	AccountID     uuid.UUID        `json:"account_id"`
	Number        string           `json:"-"`
	HolderName    string           `json:"holder_name"`
	PINHash       string           `json:"-"`
	Type          CardType         `json:"card_type"`
	Status        CardStatus       `json:"status"`
	ExpiresAt     time.Time        `json:"expires_at"`
	SpendingLimit *decimal.Decimal `json:"spending_limit,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Expired reports whether the card is past its expiry at now.
func (c Card) Expired(now time.Time) bool {
	return c.ExpiresAt.Before(now)
}

// Last4 returns the final four digits of the card number.
func (c Card) Last4() string {
	if len(c.Number) < 4 {
		return c.Number
	}
	return c.Number[len(c.Number)-4:]
}

// IdempotencyKey records a transfer request that already committed.
type IdempotencyKey struct {
	Key         string    `json:"key"`
	RequestHash string    `json:"request_hash"`
	TransferID  uuid.UUID `json:"transfer_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// TransactionFilter narrows a transaction listing. AccountIDs is always
// scoped to the caller's accounts by the service.
type TransactionFilter struct {
	AccountIDs []uuid.UUID
	Category   Category
	Limit      int
	Offset     int
}

// Principal is the authenticated caller.
type Principal struct {
	UserID uuid.UUID
}

// Owns reports whether the principal owns the account.
func (p Principal) Owns(a Account) bool {
	return p.UserID != uuid.Nil && a.OwnerID == p.UserID
}
