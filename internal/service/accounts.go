package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/bankledger/internal/domain"
	"github.com/punchamoorthee/bankledger/internal/store"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// OpenAccountRequest describes a new account. Zero values mean CHECKING,
// no overdraft and USD.
type OpenAccountRequest struct {
	Type           domain.AccountType
	OverdraftLimit decimal.Decimal
	Currency       string
}

// OpenAccount creates an ACTIVE account with a zero balance owned by caller.
func (l *Ledger) OpenAccount(ctx context.Context, caller domain.Principal, req OpenAccountRequest) (*domain.Account, error) {
	if caller.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: anonymous caller", domain.ErrForbidden)
	}

	acctType := domain.AccountType(strings.ToUpper(string(req.Type)))
	switch acctType {
	case "":
		acctType = domain.AccountChecking
	case domain.AccountChecking, domain.AccountSavings:
	default:
		return nil, fmt.Errorf("%w: account type must be CHECKING or SAVINGS", domain.ErrInvalidArgument)
	}

	if req.OverdraftLimit.IsNegative() || !req.OverdraftLimit.Equal(req.OverdraftLimit.Truncate(domain.MoneyPlaces)) {
		return nil, fmt.Errorf("%w: overdraft limit must be a non-negative amount with at most 2 decimals", domain.ErrInvalidArgument)
	}
	if req.OverdraftLimit.GreaterThan(domain.MaxAmount) {
		return nil, fmt.Errorf("%w: overdraft limit exceeds %s", domain.ErrInvalidArgument, domain.FormatAmount(domain.MaxAmount))
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = "USD"
	}
	if !currencyPattern.MatchString(currency) {
		return nil, fmt.Errorf("%w: currency must be a 3-letter code", domain.ErrInvalidArgument)
	}

	a := &domain.Account{
		ID:             uuid.New(),
		OwnerID:        caller.UserID,
		Type:           acctType,
		Status:         domain.AccountActive,
		Balance:        decimal.Zero,
		OverdraftLimit: req.OverdraftLimit,
		Currency:       currency,
	}
	err := l.run(ctx, "open_account", func(ctx context.Context, u store.Unit) error {
		return u.InsertAccount(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Movement is a deposit or withdrawal on one of the caller's accounts.
type Movement struct {
	AccountID   uuid.UUID
	Amount      decimal.Decimal
	Description string
}

func (l *Ledger) Deposit(ctx context.Context, caller domain.Principal, m Movement) (*domain.Transaction, error) {
	return l.move(ctx, "deposit", caller, m, domain.Credit, domain.CategoryDeposit, "Deposit")
}

func (l *Ledger) Withdraw(ctx context.Context, caller domain.Principal, m Movement) (*domain.Transaction, error) {
	return l.move(ctx, "withdraw", caller, m, domain.Debit, domain.CategoryWithdrawal, "Withdrawal")
}

func (l *Ledger) move(ctx context.Context, op string, caller domain.Principal, m Movement,
	dir domain.Direction, cat domain.Category, defaultDesc string) (*domain.Transaction, error) {
	if err := domain.ValidateAmount(m.Amount); err != nil {
		return nil, err
	}
	desc := m.Description
	if desc == "" {
		desc = defaultDesc
	}

	var txn *domain.Transaction
	err := l.run(ctx, op, func(ctx context.Context, u store.Unit) error {
		la, err := l.guard.Authorize(ctx, u, m.AccountID, caller, ownedActive)
		if err != nil {
			return err
		}
		txn, err = l.recorder.Record(ctx, la, Entry{
			Direction:   dir,
			Amount:      m.Amount,
			Category:    cat,
			Description: desc,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (l *Ledger) FreezeAccount(ctx context.Context, caller domain.Principal, id uuid.UUID) (*domain.Account, error) {
	return l.transition(ctx, "freeze_account", caller, id, l.guard.Freeze)
}

func (l *Ledger) UnfreezeAccount(ctx context.Context, caller domain.Principal, id uuid.UUID) (*domain.Account, error) {
	return l.transition(ctx, "unfreeze_account", caller, id, l.guard.Unfreeze)
}

func (l *Ledger) CloseAccount(ctx context.Context, caller domain.Principal, id uuid.UUID) (*domain.Account, error) {
	return l.transition(ctx, "close_account", caller, id, l.guard.Close)
}

type guardedTransition func(ctx context.Context, u store.Unit, id uuid.UUID, caller domain.Principal) (*domain.Account, error)

func (l *Ledger) transition(ctx context.Context, op string, caller domain.Principal, id uuid.UUID, fn guardedTransition) (*domain.Account, error) {
	var a *domain.Account
	err := l.run(ctx, op, func(ctx context.Context, u store.Unit) error {
		var err error
		a, err = fn(ctx, u, id, caller)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Account returns one of the caller's accounts. Accounts of other owners
// read as not found.
func (l *Ledger) Account(ctx context.Context, caller domain.Principal, id uuid.UUID) (*domain.Account, error) {
	a, err := l.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.Owns(*a) {
		return nil, fmt.Errorf("%w: account %s", domain.ErrNotFound, id)
	}
	return a, nil
}

func (l *Ledger) Accounts(ctx context.Context, caller domain.Principal) ([]domain.Account, error) {
	return l.store.ListAccounts(ctx, caller.UserID)
}

// TransactionQuery filters the caller's transaction history.
type TransactionQuery struct {
	AccountID *uuid.UUID
	Category  domain.Category
	Limit     int
	Offset    int
}

// Transactions lists the caller's transactions, newest first.
func (l *Ledger) Transactions(ctx context.Context, caller domain.Principal, q TransactionQuery) ([]domain.Transaction, error) {
	if q.Limit < 0 || q.Limit > store.MaxListLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrInvalidArgument, store.MaxListLimit)
	}
	if q.Offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", domain.ErrInvalidArgument)
	}

	filter := domain.TransactionFilter{Limit: q.Limit, Offset: q.Offset}
	if q.Category != "" {
		cat := domain.Category(strings.ToUpper(string(q.Category)))
		switch cat {
		case domain.CategoryTransfer, domain.CategoryCardPayment, domain.CategoryDeposit, domain.CategoryWithdrawal:
			filter.Category = cat
		default:
			return nil, fmt.Errorf("%w: unknown category %q", domain.ErrInvalidArgument, q.Category)
		}
	}

	if q.AccountID != nil {
		if _, err := l.Account(ctx, caller, *q.AccountID); err != nil {
			return nil, err
		}
		filter.AccountIDs = []uuid.UUID{*q.AccountID}
	} else {
		accounts, err := l.store.ListAccounts(ctx, caller.UserID)
		if err != nil {
			return nil, err
		}
		if len(accounts) == 0 {
			return nil, nil
		}
		for _, a := range accounts {
			filter.AccountIDs = append(filter.AccountIDs, a.ID)
		}
	}
	return l.store.ListTransactions(ctx, filter)
}
