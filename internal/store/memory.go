package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/punchamoorthee/bankledger/internal/domain"
)

// FaultFunc lets tests fail a store operation. op is the Unit method name
// (or "Commit") and arg its entity argument, if any.
type FaultFunc func(op string, arg any) error

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

func WithLockTimeout(d time.Duration) MemoryOption {
	return func(m *Memory) { m.lockTimeout = d }
}

func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func WithFault(f FaultFunc) MemoryOption {
	return func(m *Memory) { m.fault = f }
}

// Memory is a process-local Store with the same unit and locking semantics
// as the PostgreSQL store: per-row exclusive locks with a bounded wait, and
// writes staged in the unit until commit.
type Memory struct {
	mu          sync.RWMutex
	accounts    map[uuid.UUID]domain.Account
	txns        []domain.Transaction
	transfers   map[uuid.UUID]domain.Transfer
	cards       map[uuid.UUID]domain.Card
	cardNumbers map[string]struct{}
	idem        map[string]domain.IdempotencyKey

	// in-flight uniqueness reservations of open units
	pendingCardNumbers map[string]struct{}
	pendingIdem        map[string]struct{}

	// row locks exist only while some unit holds or waits for them
	locksMu sync.Mutex
	locks   map[uuid.UUID]*rowLock

	lockTimeout time.Duration
	now         func() time.Time
	fault       FaultFunc
}

var _ Store = (*Memory)(nil)

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		accounts:           make(map[uuid.UUID]domain.Account),
		transfers:          make(map[uuid.UUID]domain.Transfer),
		cards:              make(map[uuid.UUID]domain.Card),
		cardNumbers:        make(map[string]struct{}),
		idem:               make(map[string]domain.IdempotencyKey),
		pendingCardNumbers: make(map[string]struct{}),
		pendingIdem:        make(map[string]struct{}),
		locks:              make(map[uuid.UUID]*rowLock),
		lockTimeout:        2 * time.Second,
		now:                func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) Close() {}

type rowLock struct {
	sem  *semaphore.Weighted
	refs int
}

// refLock returns the lock for id, registering the caller as a holder or
// waiter. Every refLock is paired with one unrefLock.
func (m *Memory) refLock(id uuid.UUID) *rowLock {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &rowLock{sem: semaphore.NewWeighted(1)}
		m.locks[id] = l
	}
	l.refs++
	return l
}

func (m *Memory) unrefLock(id uuid.UUID) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		return
	}
	l.refs--
	if l.refs == 0 {
		delete(m.locks, id)
	}
}

func (m *Memory) injected(op string, arg any) error {
	if m.fault == nil {
		return nil
	}
	return m.fault(op, arg)
}

// WithinUnit implements Store.
func (m *Memory) WithinUnit(ctx context.Context, fn func(ctx context.Context, u Unit) error) (err error) {
	u := &memUnit{
		m:        m,
		held:     make(map[uuid.UUID]*rowLock),
		accounts: make(map[uuid.UUID]domain.Account),
		cards:    make(map[uuid.UUID]domain.Card),
	}
	defer func() {
		if p := recover(); p != nil {
			u.rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, u); err != nil {
		u.rollback()
		return err
	}
	if err := m.injected("Commit", nil); err != nil {
		u.rollback()
		return fmt.Errorf("commit failed: %w", err)
	}
	u.commit()
	return nil
}

type memUnit struct {
	m      *Memory
	held   map[uuid.UUID]*rowLock
	closed bool

	accounts     map[uuid.UUID]domain.Account
	newAccounts  []uuid.UUID
	txns         []domain.Transaction
	transfers    []domain.Transfer
	cards        map[uuid.UUID]domain.Card
	cardNumbers  []string
	idem         []domain.IdempotencyKey
	touchedCards []uuid.UUID
}

func (u *memUnit) acquire(ctx context.Context, id uuid.UUID) error {
	if _, ok := u.held[id]; ok {
		return nil
	}
	l := u.m.refLock(id)
	lctx, cancel := context.WithTimeout(ctx, u.m.lockTimeout)
	defer cancel()
	if err := l.sem.Acquire(lctx, 1); err != nil {
		u.m.unrefLock(id)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: lock wait on %s exceeded %s", domain.ErrBusy, id, u.m.lockTimeout)
	}
	u.held[id] = l
	return nil
}

func (u *memUnit) releaseOne(id uuid.UUID) {
	if l, ok := u.held[id]; ok {
		delete(u.held, id)
		l.sem.Release(1)
		u.m.unrefLock(id)
	}
}

func (u *memUnit) LockAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	if a, ok := u.accounts[id]; ok {
		return &a, nil
	}
	if err := u.acquire(ctx, id); err != nil {
		return nil, err
	}
	u.m.mu.RLock()
	a, ok := u.m.accounts[id]
	u.m.mu.RUnlock()
	if !ok {
		u.releaseOne(id)
		return nil, fmt.Errorf("%w: account %s", domain.ErrNotFound, id)
	}
	u.accounts[id] = a
	return &a, nil
}

func (u *memUnit) HoldsLock(id uuid.UUID) bool {
	if u.closed {
		return false
	}
	_, ok := u.held[id]
	return ok
}

func (u *memUnit) InsertAccount(ctx context.Context, a *domain.Account) error {
	if err := u.m.injected("InsertAccount", a); err != nil {
		return err
	}
	l := u.m.refLock(a.ID)
	if !l.sem.TryAcquire(1) {
		u.m.unrefLock(a.ID)
		return fmt.Errorf("%w: account %s already exists", domain.ErrConflict, a.ID)
	}
	u.held[a.ID] = l
	if a.CreatedAt.IsZero() {
		a.CreatedAt = u.m.now()
	}
	u.accounts[a.ID] = *a
	u.newAccounts = append(u.newAccounts, a.ID)
	return nil
}

func (u *memUnit) lockedAccount(id uuid.UUID) (domain.Account, error) {
	a, ok := u.accounts[id]
	if !ok || !u.HoldsLock(id) {
		return domain.Account{}, fmt.Errorf("account %s is not locked by this unit", id)
	}
	return a, nil
}

func (u *memUnit) SetAccountBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	if err := u.m.injected("SetAccountBalance", id); err != nil {
		return err
	}
	a, err := u.lockedAccount(id)
	if err != nil {
		return err
	}
	a.Balance = balance
	u.accounts[id] = a
	return nil
}

func (u *memUnit) SetAccountStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) error {
	if err := u.m.injected("SetAccountStatus", id); err != nil {
		return err
	}
	a, err := u.lockedAccount(id)
	if err != nil {
		return err
	}
	a.Status = status
	u.accounts[id] = a
	return nil
}

func (u *memUnit) accountExists(id uuid.UUID) bool {
	if _, ok := u.accounts[id]; ok {
		return true
	}
	u.m.mu.RLock()
	defer u.m.mu.RUnlock()
	_, ok := u.m.accounts[id]
	return ok
}

func (u *memUnit) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	if err := u.m.injected("InsertTransaction", t); err != nil {
		return err
	}
	if !u.accountExists(t.AccountID) {
		return fmt.Errorf("%w: account %s", domain.ErrNotFound, t.AccountID)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = u.m.now()
	}
	u.txns = append(u.txns, *t)
	return nil
}

func (u *memUnit) InsertTransfer(ctx context.Context, t *domain.Transfer) error {
	if err := u.m.injected("InsertTransfer", t); err != nil {
		return err
	}
	legs := 0
	for _, txn := range u.txns {
		if txn.ID == t.SourceTransactionID || txn.ID == t.DestinationTransactionID {
			legs++
		}
	}
	if legs != 2 {
		return fmt.Errorf("transfer %s references transactions outside this unit", t.ID)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = u.m.now()
	}
	u.transfers = append(u.transfers, *t)
	return nil
}

func (u *memUnit) LockCard(ctx context.Context, id uuid.UUID) (*domain.Card, error) {
	if c, ok := u.cards[id]; ok {
		return &c, nil
	}
	if err := u.acquire(ctx, id); err != nil {
		return nil, err
	}
	u.m.mu.RLock()
	c, ok := u.m.cards[id]
	u.m.mu.RUnlock()
	if !ok {
		u.releaseOne(id)
		return nil, fmt.Errorf("%w: card %s", domain.ErrNotFound, id)
	}
	u.cards[id] = c
	return &c, nil
}

func (u *memUnit) InsertCard(ctx context.Context, c *domain.Card) error {
	if err := u.m.injected("InsertCard", c); err != nil {
		return err
	}
	if !u.accountExists(c.AccountID) {
		return fmt.Errorf("%w: account %s", domain.ErrNotFound, c.AccountID)
	}

	u.m.mu.Lock()
	_, committed := u.m.cardNumbers[c.Number]
	_, pending := u.m.pendingCardNumbers[c.Number]
	if committed || pending {
		u.m.mu.Unlock()
		return fmt.Errorf("%w: card number already issued", domain.ErrConflict)
	}
	u.m.pendingCardNumbers[c.Number] = struct{}{}
	u.m.mu.Unlock()
	u.cardNumbers = append(u.cardNumbers, c.Number)

	l := u.m.refLock(c.ID)
	if !l.sem.TryAcquire(1) {
		u.m.unrefLock(c.ID)
		return fmt.Errorf("%w: card %s already exists", domain.ErrConflict, c.ID)
	}
	u.held[c.ID] = l
	if c.CreatedAt.IsZero() {
		c.CreatedAt = u.m.now()
	}
	u.cards[c.ID] = *c
	u.touchedCards = append(u.touchedCards, c.ID)
	return nil
}

func (u *memUnit) SetCardStatus(ctx context.Context, id uuid.UUID, status domain.CardStatus) error {
	if err := u.m.injected("SetCardStatus", id); err != nil {
		return err
	}
	c, ok := u.cards[id]
	if !ok || !u.HoldsLock(id) {
		return fmt.Errorf("card %s is not locked by this unit", id)
	}
	c.Status = status
	u.cards[id] = c
	u.touchedCards = append(u.touchedCards, id)
	return nil
}

func (u *memUnit) GetIdempotencyKey(ctx context.Context, key string) (*domain.IdempotencyKey, error) {
	u.m.mu.RLock()
	defer u.m.mu.RUnlock()
	k, ok := u.m.idem[key]
	if !ok {
		return nil, fmt.Errorf("%w: idempotency key", domain.ErrNotFound)
	}
	return &k, nil
}

func (u *memUnit) InsertIdempotencyKey(ctx context.Context, k *domain.IdempotencyKey) error {
	if err := u.m.injected("InsertIdempotencyKey", k); err != nil {
		return err
	}
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	_, committed := u.m.idem[k.Key]
	_, pending := u.m.pendingIdem[k.Key]
	if committed || pending {
		return fmt.Errorf("%w: idempotency key %q in use", domain.ErrConflict, k.Key)
	}
	u.m.pendingIdem[k.Key] = struct{}{}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = u.m.now()
	}
	u.idem = append(u.idem, *k)
	return nil
}

func (u *memUnit) commit() {
	m := u.m
	m.mu.Lock()
	for id, a := range u.accounts {
		m.accounts[id] = a
	}
	m.txns = append(m.txns, u.txns...)
	for _, t := range u.transfers {
		m.transfers[t.ID] = t
	}
	for _, id := range u.touchedCards {
		m.cards[id] = u.cards[id]
	}
	for _, n := range u.cardNumbers {
		delete(m.pendingCardNumbers, n)
		m.cardNumbers[n] = struct{}{}
	}
	for _, k := range u.idem {
		delete(m.pendingIdem, k.Key)
		m.idem[k.Key] = k
	}
	m.mu.Unlock()
	u.end()
}

func (u *memUnit) rollback() {
	m := u.m
	m.mu.Lock()
	for _, n := range u.cardNumbers {
		delete(m.pendingCardNumbers, n)
	}
	for _, k := range u.idem {
		delete(m.pendingIdem, k.Key)
	}
	m.mu.Unlock()
	u.end()
}

func (u *memUnit) end() {
	u.closed = true
	for id := range u.held {
		u.releaseOne(id)
	}
}

// Reader

func (m *Memory) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", domain.ErrNotFound, id)
	}
	return &a, nil
}

func (m *Memory) ListAccounts(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Account
	for _, a := range m.accounts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	filter = NormalizeFilter(filter)
	ids := make(map[uuid.UUID]struct{}, len(filter.AccountIDs))
	for _, id := range filter.AccountIDs {
		ids[id] = struct{}{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Transaction
	skipped := 0
	// newest first: commit order reversed
	for i := len(m.txns) - 1; i >= 0 && len(out) < filter.Limit; i-- {
		t := m.txns[i]
		if _, ok := ids[t.AccountID]; !ok {
			continue
		}
		if filter.Category != "" && t.Category != filter.Category {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *Memory) GetTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transfers[id]
	if !ok {
		return nil, fmt.Errorf("%w: transfer %s", domain.ErrNotFound, id)
	}
	return &t, nil
}

func (m *Memory) GetCard(ctx context.Context, id uuid.UUID) (*domain.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cards[id]
	if !ok {
		return nil, fmt.Errorf("%w: card %s", domain.ErrNotFound, id)
	}
	return &c, nil
}

func (m *Memory) ListCards(ctx context.Context, ownerID uuid.UUID) ([]domain.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Card
	for _, c := range m.cards {
		if a, ok := m.accounts[c.AccountID]; ok && a.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ErrInjected is a ready-made failure for FaultFunc implementations.
var ErrInjected = errors.New("injected store failure")
