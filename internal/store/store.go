package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/bankledger/internal/domain"
)

// Store is the ledger's persistence. Writes only happen inside a Unit.
type Store interface {
	Reader

	// WithinUnit runs fn as one atomic unit. If fn returns nil the unit
	// commits; otherwise every write made through u is discarded and all
	// locks taken through u are released before WithinUnit returns.
	WithinUnit(ctx context.Context, fn func(ctx context.Context, u Unit) error) error

	Ping(ctx context.Context) error
	Close()
}

// Reader serves committed state outside any unit.
type Reader interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	ListAccounts(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)
	GetTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)
	GetCard(ctx context.Context, id uuid.UUID) (*domain.Card, error)
	ListCards(ctx context.Context, ownerID uuid.UUID) ([]domain.Card, error)
}

// Unit is one open atomic unit. Row locks taken through it are held until
// the unit ends.
type Unit interface {
	// LockAccount takes the exclusive lock on an account row and returns the
	// row as of lock acquisition. Waiting longer than the store's lock
	// timeout fails with domain.ErrBusy.
	LockAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	// HoldsLock reports whether this unit holds the account's lock. It is
	// false for every id once the unit has ended.
	HoldsLock(id uuid.UUID) bool

	InsertAccount(ctx context.Context, a *domain.Account) error
	SetAccountBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error
	SetAccountStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) error

	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	InsertTransfer(ctx context.Context, t *domain.Transfer) error

	LockCard(ctx context.Context, id uuid.UUID) (*domain.Card, error)
	InsertCard(ctx context.Context, c *domain.Card) error
	SetCardStatus(ctx context.Context, id uuid.UUID, status domain.CardStatus) error

	// GetIdempotencyKey returns domain.ErrNotFound for unknown keys.
	GetIdempotencyKey(ctx context.Context, key string) (*domain.IdempotencyKey, error)
	// InsertIdempotencyKey fails with domain.ErrConflict when the key is
	// already committed or being written by another open unit.
	InsertIdempotencyKey(ctx context.Context, k *domain.IdempotencyKey) error
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// NormalizeFilter clamps paging values to the supported range.
func NormalizeFilter(f domain.TransactionFilter) domain.TransactionFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
