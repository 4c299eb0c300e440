package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/bankledger/internal/domain"
)

// PostgreSQL error codes the ledger reacts to.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
	pgNumericOutOfRange    = "22003"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

type Postgres struct {
	Db          *pgxpool.Pool
	lockTimeout time.Duration
}

var _ Store = (*Postgres)(nil)

func NewPostgres(ctx context.Context, connString string, lockTimeout time.Duration) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{Db: pool, lockTimeout: lockTimeout}, nil
}

func (s *Postgres) Close() {
	s.Db.Close()
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.Db.Ping(ctx)
}

// mapErr turns driver failures into ledger errors.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure:
			return fmt.Errorf("%w: %s: %s", domain.ErrBusy, what, pgErr.Message)
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s: %s", domain.ErrConflict, what, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s: %s", domain.ErrNotFound, what, pgErr.ConstraintName)
		case pgNumericOutOfRange:
			return fmt.Errorf("%w: %s: %s", domain.ErrInvalidArgument, what, pgErr.Message)
		case pgCheckViolation:
			return fmt.Errorf("%w: %s: %s", domain.ErrInvalidState, what, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// WithinUnit runs fn in one READ COMMITTED transaction with a bounded lock wait.
func (s *Postgres) WithinUnit(ctx context.Context, fn func(ctx context.Context, u Unit) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	u := &pgUnit{tx: tx, held: make(map[uuid.UUID]struct{})}
	defer func() {
		u.closed = true
		tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)",
		fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())); err != nil {
		return mapErr(err, "set lock timeout")
	}

	if err := fn(ctx, u); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapErr(err, "tx commit failed")
	}
	return nil
}

type pgUnit struct {
	tx     pgx.Tx
	held   map[uuid.UUID]struct{}
	closed bool
}

const accountColumns = "id, owner_id, type, status, balance, overdraft_limit, currency, created_at"

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.OwnerID, &a.Type, &a.Status, &a.Balance, &a.OverdraftLimit, &a.Currency, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (u *pgUnit) LockAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	a, err := scanAccount(u.tx.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, mapErr(err, "lock account "+id.String())
	}
	u.held[id] = struct{}{}
	return a, nil
}

func (u *pgUnit) HoldsLock(id uuid.UUID) bool {
	if u.closed {
		return false
	}
	_, ok := u.held[id]
	return ok
}

func (u *pgUnit) InsertAccount(ctx context.Context, a *domain.Account) error {
	err := u.tx.QueryRow(ctx,
		`INSERT INTO accounts (id, owner_id, type, status, balance, overdraft_limit, currency)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`,
		a.ID, a.OwnerID, a.Type, a.Status, a.Balance, a.OverdraftLimit, a.Currency,
	).Scan(&a.CreatedAt)
	if err != nil {
		return mapErr(err, "account insert failed")
	}
	u.held[a.ID] = struct{}{}
	return nil
}

func (u *pgUnit) SetAccountBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	_, err := u.tx.Exec(ctx, "UPDATE accounts SET balance = $1 WHERE id = $2", balance, id)
	return mapErr(err, "balance update failed")
}

func (u *pgUnit) SetAccountStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) error {
	_, err := u.tx.Exec(ctx, "UPDATE accounts SET status = $1 WHERE id = $2", status, id)
	return mapErr(err, "status update failed")
}

func (u *pgUnit) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	var ref *string
	if t.Reference != "" {
		ref = &t.Reference
	}
	err := u.tx.QueryRow(ctx,
		`INSERT INTO transactions (id, account_id, direction, amount, category, description, reference, transfer_id, card_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING created_at`,
		t.ID, t.AccountID, t.Direction, t.Amount, t.Category, t.Description, ref, t.TransferID, t.CardID,
	).Scan(&t.CreatedAt)
	return mapErr(err, "ledger entry failed")
}

func (u *pgUnit) InsertTransfer(ctx context.Context, t *domain.Transfer) error {
	err := u.tx.QueryRow(ctx,
		`INSERT INTO transfers (id, source_account_id, destination_account_id, amount, description, reference,
		                        source_transaction_id, destination_transaction_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`,
		t.ID, t.SourceAccountID, t.DestinationAccountID, t.Amount, t.Description, t.Reference,
		t.SourceTransactionID, t.DestinationTransactionID,
	).Scan(&t.CreatedAt)
	return mapErr(err, "transfer insert failed")
}

const cardColumns = "id, account_id, card_number, holder_name, pin_hash, card_type, status, expires_at, spending_limit, created_at"

func scanCard(row pgx.Row) (*domain.Card, error) {
	var c domain.Card
	var limit decimal.NullDecimal
	err := row.Scan(&c.ID, &c.AccountID, &c.Number, &c.HolderName, &c.PINHash, &c.Type, &c.Status,
		&c.ExpiresAt, &limit, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if limit.Valid {
		c.SpendingLimit = &limit.Decimal
	}
	return &c, nil
}

func (u *pgUnit) LockCard(ctx context.Context, id uuid.UUID) (*domain.Card, error) {
	c, err := scanCard(u.tx.QueryRow(ctx,
		"SELECT "+cardColumns+" FROM cards WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, mapErr(err, "lock card "+id.String())
	}
	u.held[id] = struct{}{}
	return c, nil
}

func (u *pgUnit) InsertCard(ctx context.Context, c *domain.Card) error {
	limit := decimal.NullDecimal{}
	if c.SpendingLimit != nil {
		limit = decimal.NewNullDecimal(*c.SpendingLimit)
	}
	err := u.tx.QueryRow(ctx,
		`INSERT INTO cards (id, account_id, card_number, holder_name, pin_hash, card_type, status, expires_at, spending_limit)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING created_at`,
		c.ID, c.AccountID, c.Number, c.HolderName, c.PINHash, c.Type, c.Status, c.ExpiresAt, limit,
	).Scan(&c.CreatedAt)
	if err != nil {
		return mapErr(err, "card insert failed")
	}
	u.held[c.ID] = struct{}{}
	return nil
}

func (u *pgUnit) SetCardStatus(ctx context.Context, id uuid.UUID, status domain.CardStatus) error {
	_, err := u.tx.Exec(ctx, "UPDATE cards SET status = $1 WHERE id = $2", status, id)
	return mapErr(err, "card status update failed")
}

func (u *pgUnit) GetIdempotencyKey(ctx context.Context, key string) (*domain.IdempotencyKey, error) {
	var k domain.IdempotencyKey
	err := u.tx.QueryRow(ctx,
		"SELECT key, request_hash, transfer_id, created_at FROM idempotency_keys WHERE key = $1", key,
	).Scan(&k.Key, &k.RequestHash, &k.TransferID, &k.CreatedAt)
	if err != nil {
		return nil, mapErr(err, "idempotency query failed")
	}
	return &k, nil
}

func (u *pgUnit) InsertIdempotencyKey(ctx context.Context, k *domain.IdempotencyKey) error {
	err := u.tx.QueryRow(ctx,
		"INSERT INTO idempotency_keys (key, request_hash, transfer_id) VALUES ($1, $2, $3) RETURNING created_at",
		k.Key, k.RequestHash, k.TransferID,
	).Scan(&k.CreatedAt)
	return mapErr(err, "key reservation failed")
}

// GetAccount retrieves a single account by ID.
func (s *Postgres) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	a, err := scanAccount(s.Db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
	if err != nil {
		return nil, mapErr(err, "account "+id.String())
	}
	return a, nil
}

// ListAccounts returns the owner's accounts, oldest first.
func (s *Postgres) ListAccounts(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE owner_id = $1 ORDER BY created_at, id", ownerID)
	if err != nil {
		return nil, mapErr(err, "list accounts")
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, mapErr(err, "scan account")
		}
		out = append(out, *a)
	}
	return out, mapErr(rows.Err(), "list accounts")
}

// ListTransactions returns matching transactions, newest first.
func (s *Postgres) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	filter = NormalizeFilter(filter)
	ids := make([]string, len(filter.AccountIDs))
	for i, id := range filter.AccountIDs {
		ids[i] = id.String()
	}

	rows, err := s.Db.Query(ctx,
		`SELECT id, account_id, direction, amount, category, description, COALESCE(reference, ''),
		        transfer_id, card_id, created_at
		 FROM transactions
		 WHERE account_id = ANY($1::uuid[]) AND ($2::text = '' OR category = $2::text)
		 ORDER BY seq DESC
		 LIMIT $3 OFFSET $4`,
		ids, string(filter.Category), filter.Limit, filter.Offset)
	if err != nil {
		return nil, mapErr(err, "list transactions")
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Direction, &t.Amount, &t.Category, &t.Description,
			&t.Reference, &t.TransferID, &t.CardID, &t.CreatedAt); err != nil {
			return nil, mapErr(err, "scan transaction")
		}
		out = append(out, t)
	}
	return out, mapErr(rows.Err(), "list transactions")
}

// GetTransfer retrieves transfer details.
func (s *Postgres) GetTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	var t domain.Transfer
	err := s.Db.QueryRow(ctx,
		`SELECT id, source_account_id, destination_account_id, amount, description, reference,
		        source_transaction_id, destination_transaction_id, created_at
		 FROM transfers WHERE id = $1`, id,
	).Scan(&t.ID, &t.SourceAccountID, &t.DestinationAccountID, &t.Amount, &t.Description, &t.Reference,
		&t.SourceTransactionID, &t.DestinationTransactionID, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err, "transfer "+id.String())
	}
	return &t, nil
}

func (s *Postgres) GetCard(ctx context.Context, id uuid.UUID) (*domain.Card, error) {
	c, err := scanCard(s.Db.QueryRow(ctx, "SELECT "+cardColumns+" FROM cards WHERE id = $1", id))
	if err != nil {
		return nil, mapErr(err, "card "+id.String())
	}
	return c, nil
}

func (s *Postgres) ListCards(ctx context.Context, ownerID uuid.UUID) ([]domain.Card, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT c.id, c.account_id, c.card_number, c.holder_name, c.pin_hash, c.card_type, c.status,
		        c.expires_at, c.spending_limit, c.created_at
		 FROM cards c JOIN accounts a ON a.id = c.account_id
		 WHERE a.owner_id = $1 ORDER BY c.created_at`, ownerID)
	if err != nil {
		return nil, mapErr(err, "list cards")
	}
	defer rows.Close()

	var out []domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, mapErr(err, "scan card")
		}
		out = append(out, *c)
	}
	return out, mapErr(rows.Err(), "list cards")
}
