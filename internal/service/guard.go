package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/bankledger/internal/domain"
	"github.com/punchamoorthee/bankledger/internal/store"
)

// LockedAccount is an account whose row lock is held by an open unit. It
// stops being usable when that unit ends.
type LockedAccount struct {
	unit    store.Unit
	account domain.Account
}

func (la *LockedAccount) Account() domain.Account { return la.account }

func (la *LockedAccount) ID() uuid.UUID { return la.account.ID }

// Held reports whether the lock behind the handle is still held.
func (la *LockedAccount) Held() bool {
	return la != nil && la.unit.HoldsLock(la.account.ID)
}

// Check is what Authorize demands of an account.
type Check struct {
	// Status the account must be in; empty accepts any status.
	Status domain.AccountStatus
	// Foreign accepts accounts the caller does not own.
	Foreign bool
}

var (
	ownedActive = Check{Status: domain.AccountActive}
	owned       = Check{}
	anyActive   = Check{Status: domain.AccountActive, Foreign: true}
)

// Guard enforces existence, ownership and status before any mutation.
type Guard struct{}

func (g *Guard) lock(ctx context.Context, u store.Unit, id uuid.UUID) (*LockedAccount, error) {
	start := time.Now()
	a, err := u.LockAccount(ctx, id)
	lockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return &LockedAccount{unit: u, account: *a}, nil
}

func (g *Guard) check(la *LockedAccount, caller domain.Principal, c Check) error {
	a := la.account
	if !c.Foreign && !caller.Owns(a) {
		return fmt.Errorf("%w: account %s belongs to another owner", domain.ErrForbidden, a.ID)
	}
	if c.Status != "" && a.Status != c.Status {
		return fmt.Errorf("%w: account %s is %s", domain.ErrInvalidState, a.ID, a.Status)
	}
	return nil
}

// Authorize locks the account and verifies it against c. Failures are
// NotFound, Forbidden or InvalidState, in that order of precedence.
func (g *Guard) Authorize(ctx context.Context, u store.Unit, id uuid.UUID, caller domain.Principal, c Check) (*LockedAccount, error) {
	la, err := g.lock(ctx, u, id)
	if err != nil {
		return nil, err
	}
	if err := g.check(la, caller, c); err != nil {
		return nil, err
	}
	return la, nil
}

// AuthorizePair locks source and destination of a transfer in ascending id
// order, so two transfers between the same accounts in opposite directions
// can never wait on each other. The source must be the caller's and ACTIVE;
// the destination only needs to be ACTIVE.
func (g *Guard) AuthorizePair(ctx context.Context, u store.Unit, sourceID, destID uuid.UUID, caller domain.Principal) (src, dst *LockedAccount, err error) {
	first, second := sourceID, destID
	if bytes.Compare(first[:], second[:]) > 0 {
		first, second = second, first
	}

	locked := make(map[uuid.UUID]*LockedAccount, 2)
	for _, id := range []uuid.UUID{first, second} {
		la, err := g.lock(ctx, u, id)
		if err != nil {
			return nil, nil, err
		}
		locked[id] = la
	}

	src, dst = locked[sourceID], locked[destID]
	if err := g.check(src, caller, ownedActive); err != nil {
		return nil, nil, err
	}
	if err := g.check(dst, caller, anyActive); err != nil {
		return nil, nil, err
	}
	return src, dst, nil
}

// Freeze moves an ACTIVE account to FROZEN.
func (g *Guard) Freeze(ctx context.Context, u store.Unit, id uuid.UUID, caller domain.Principal) (*domain.Account, error) {
	la, err := g.Authorize(ctx, u, id, caller, owned)
	if err != nil {
		return nil, err
	}
	switch la.account.Status {
	case domain.AccountFrozen:
		return nil, fmt.Errorf("%w: account %s is already frozen", domain.ErrInvalidState, id)
	case domain.AccountClosed:
		return nil, fmt.Errorf("%w: account %s is closed", domain.ErrInvalidState, id)
	}
	return g.setStatus(ctx, la, domain.AccountFrozen)
}

// Unfreeze moves a FROZEN account back to ACTIVE.
func (g *Guard) Unfreeze(ctx context.Context, u store.Unit, id uuid.UUID, caller domain.Principal) (*domain.Account, error) {
	la, err := g.Authorize(ctx, u, id, caller, owned)
	if err != nil {
		return nil, err
	}
	if la.account.Status != domain.AccountFrozen {
		return nil, fmt.Errorf("%w: account %s is not frozen", domain.ErrInvalidState, id)
	}
	return g.setStatus(ctx, la, domain.AccountActive)
}

// Close moves an account with a zero balance to CLOSED for good.
func (g *Guard) Close(ctx context.Context, u store.Unit, id uuid.UUID, caller domain.Principal) (*domain.Account, error) {
	la, err := g.Authorize(ctx, u, id, caller, owned)
	if err != nil {
		return nil, err
	}
	switch {
	case la.account.Status == domain.AccountClosed:
		return nil, fmt.Errorf("%w: account %s is already closed", domain.ErrInvalidState, id)
	case la.account.Status != domain.AccountActive:
		return nil, fmt.Errorf("%w: account %s is %s", domain.ErrInvalidState, id, la.account.Status)
	case !la.account.Balance.IsZero():
		return nil, fmt.Errorf("%w: account %s has balance %s", domain.ErrInvalidState, id,
			domain.FormatAmount(la.account.Balance))
	}
	return g.setStatus(ctx, la, domain.AccountClosed)
}

func (g *Guard) setStatus(ctx context.Context, la *LockedAccount, status domain.AccountStatus) (*domain.Account, error) {
	if err := la.unit.SetAccountStatus(ctx, la.account.ID, status); err != nil {
		return nil, err
	}
	la.account.Status = status
	a := la.account
	return &a, nil
}
