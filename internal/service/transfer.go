package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/bankledger/internal/domain"
	"github.com/punchamoorthee/bankledger/internal/store"
)

// TransferIntent asks to move Amount from SourceID to DestinationID.
// IdempotencyKey is optional; RequestHash identifies the request payload
// that key was first used with.
type TransferIntent struct {
	SourceID       uuid.UUID
	DestinationID  uuid.UUID
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string
	RequestHash    string
}

// Transfer executes the double-entry transfer within one unit with
// deterministic locking. replayed is true when an earlier request with the
// same idempotency key already produced the returned transfer.
func (l *Ledger) Transfer(ctx context.Context, caller domain.Principal, in TransferIntent) (result *domain.Transfer, replayed bool, err error) {
	// 1. Validate
	if err := domain.ValidateAmount(in.Amount); err != nil {
		return nil, false, err
	}
	if in.SourceID == in.DestinationID {
		return nil, false, fmt.Errorf("%w: source and destination accounts must differ", domain.ErrInvalidArgument)
	}

	err = l.run(ctx, "transfer", func(ctx context.Context, u store.Unit) error {
		// Idempotency check
		if in.IdempotencyKey != "" {
			prior, err := u.GetIdempotencyKey(ctx, in.IdempotencyKey)
			switch {
			case err == nil:
				if prior.RequestHash != in.RequestHash {
					return fmt.Errorf("%w: idempotency key reused with a different payload", domain.ErrInvalidArgument)
				}
				result, err = l.store.GetTransfer(ctx, prior.TransferID)
				replayed = err == nil
				return err
			case !errors.Is(err, domain.ErrNotFound):
				return err
			}
		}

		// 2-3. Deterministic locking (deadlock prevention)
		src, dst, err := l.guard.AuthorizePair(ctx, u, in.SourceID, in.DestinationID, caller)
		if err != nil {
			return err
		}

		// 4. Shared reference for both legs
		transferID := uuid.New()
		reference := "TRF-" + transferID.String()[:8]
		debitDesc, creditDesc := in.Description, in.Description
		if in.Description == "" {
			debitDesc = "Transfer to account " + in.DestinationID.String()
			creditDesc = "Transfer from account " + in.SourceID.String()
		}

		// 5. Debit source
		debit, err := l.recorder.Record(ctx, src, Entry{
			Direction:   domain.Debit,
			Amount:      in.Amount,
			Category:    domain.CategoryTransfer,
			Description: debitDesc,
			Reference:   reference,
			TransferID:  &transferID,
		})
		if err != nil {
			return err
		}

		// 6. Credit destination
		credit, err := l.recorder.Record(ctx, dst, Entry{
			Direction:   domain.Credit,
			Amount:      in.Amount,
			Category:    domain.CategoryTransfer,
			Description: creditDesc,
			Reference:   reference,
			TransferID:  &transferID,
		})
		if err != nil {
			return err
		}

		// 7. Link both legs
		t := &domain.Transfer{
			ID:                       transferID,
			SourceAccountID:          in.SourceID,
			DestinationAccountID:     in.DestinationID,
			Amount:                   in.Amount,
			Description:              in.Description,
			Reference:                reference,
			SourceTransactionID:      debit.ID,
			DestinationTransactionID: credit.ID,
		}
		if err := u.InsertTransfer(ctx, t); err != nil {
			return err
		}

		if in.IdempotencyKey != "" {
			if err := u.InsertIdempotencyKey(ctx, &domain.IdempotencyKey{
				Key:         in.IdempotencyKey,
				RequestHash: in.RequestHash,
				TransferID:  transferID,
			}); err != nil {
				return err
			}
		}

		result = t
		return nil
	})
	// 8. Commit happened in run; any error above rolled back the debit too.
	if err != nil {
		return nil, false, err
	}
	return result, replayed, nil
}

// TransferByID returns a transfer visible to the caller, i.e. one touching
// an account they own.
func (l *Ledger) TransferByID(ctx context.Context, caller domain.Principal, id uuid.UUID) (*domain.Transfer, error) {
	t, err := l.store.GetTransfer(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, accountID := range []uuid.UUID{t.SourceAccountID, t.DestinationAccountID} {
		a, err := l.store.GetAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if caller.Owns(*a) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: transfer %s", domain.ErrNotFound, id)
}
