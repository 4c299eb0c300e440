package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/bankledger/internal/domain"
)

// Entry is one movement to record against a locked account.
type Entry struct {
	Direction   domain.Direction
	Amount      decimal.Decimal
	Category    domain.Category
	Description string
	Reference   string
	TransferID  *uuid.UUID
	CardID      *uuid.UUID
}

// Recorder is the only writer of account balances.
type Recorder struct{}

// Record appends a transaction and applies it to the balance within the
// unit that holds the account's lock. A debit must leave
// balance + overdraft_limit >= 0 and a credit may not lift the balance
// above domain.MaxAmount.
func (r *Recorder) Record(ctx context.Context, la *LockedAccount, e Entry) (*domain.Transaction, error) {
	if err := domain.ValidateAmount(e.Amount); err != nil {
		return nil, err
	}
	if !la.Held() {
		return nil, fmt.Errorf("record on account %s: row lock not held", la.ID())
	}

	var balance decimal.Decimal
	switch e.Direction {
	case domain.Credit:
		balance = la.account.Balance.Add(e.Amount)
		if balance.GreaterThan(domain.MaxAmount) {
			return nil, fmt.Errorf("%w: balance of account %s would exceed %s", domain.ErrInvalidArgument,
				la.ID(), domain.FormatAmount(domain.MaxAmount))
		}
	case domain.Debit:
		if la.account.Available().Sub(e.Amount).IsNegative() {
			return nil, fmt.Errorf("%w: account %s has %s available, %s requested", domain.ErrInsufficientFunds,
				la.ID(), domain.FormatAmount(la.account.Available()), domain.FormatAmount(e.Amount))
		}
		balance = la.account.Balance.Sub(e.Amount)
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", domain.ErrInvalidArgument, e.Direction)
	}

	txn := &domain.Transaction{
		ID:          uuid.New(),
		AccountID:   la.ID(),
		Direction:   e.Direction,
		Amount:      e.Amount,
		Category:    e.Category,
		Description: e.Description,
		Reference:   e.Reference,
		TransferID:  e.TransferID,
		CardID:      e.CardID,
	}
	if err := la.unit.InsertTransaction(ctx, txn); err != nil {
		return nil, err
	}
	if err := la.unit.SetAccountBalance(ctx, la.ID(), balance); err != nil {
		return nil, err
	}
	la.account.Balance = balance
	return txn, nil
}
