package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/bankledger/internal/domain"
	"github.com/punchamoorthee/bankledger/internal/secrets"
	"github.com/punchamoorthee/bankledger/internal/store"
)

var pinPattern = regexp.MustCompile(`^[0-9]{4}$`)

// CardRequest asks for a new card on one of the caller's accounts.
type CardRequest struct {
	AccountID     uuid.UUID
	HolderName    string
	PIN           string
	Type          domain.CardType
	SpendingLimit *decimal.Decimal
}

// IssuedCard carries the one and only disclosure of the card's CVV.
type IssuedCard struct {
	Card domain.Card
	CVV  string
}

// IssueCard creates an ACTIVE card with a fresh unique number. Number
// collisions are retried a bounded number of times before surfacing as
// Conflict.
func (l *Ledger) IssueCard(ctx context.Context, caller domain.Principal, req CardRequest) (*IssuedCard, error) {
	holder := strings.TrimSpace(req.HolderName)
	if holder == "" {
		return nil, fmt.Errorf("%w: card holder name is required", domain.ErrInvalidArgument)
	}
	if !pinPattern.MatchString(req.PIN) {
		return nil, fmt.Errorf("%w: PIN must be exactly 4 digits", domain.ErrInvalidArgument)
	}
	cardType := domain.CardType(strings.ToUpper(string(req.Type)))
	switch cardType {
	case "":
		cardType = domain.CardDebit
	case domain.CardDebit, domain.CardCredit:
	default:
		return nil, fmt.Errorf("%w: card type must be DEBIT or CREDIT", domain.ErrInvalidArgument)
	}
	if req.SpendingLimit != nil {
		if err := domain.ValidateAmount(*req.SpendingLimit); err != nil {
			return nil, fmt.Errorf("spending limit: %w", err)
		}
	}

	pinHash, err := l.pins.Hash(req.PIN)
	if err != nil {
		return nil, err
	}
	expiry := l.now().Add(l.cardValidity)

	for attempt := 1; attempt <= maxCardNumberAttempts; attempt++ {
		number, err := l.cardNumbers()
		if err != nil {
			return nil, err
		}
		card := &domain.Card{
			ID:            uuid.New(),
			AccountID:     req.AccountID,
			Number:        number,
			HolderName:    holder,
			PINHash:       pinHash,
			Type:          cardType,
			Status:        domain.CardActive,
			ExpiresAt:     expiry,
			SpendingLimit: req.SpendingLimit,
		}
		err = l.run(ctx, "issue_card", func(ctx context.Context, u store.Unit) error {
			if _, err := l.guard.Authorize(ctx, u, req.AccountID, caller, ownedActive); err != nil {
				return err
			}
			return u.InsertCard(ctx, card)
		})
		if errors.Is(err, domain.ErrConflict) {
			l.logger.Warn("card number collision", zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}
		return &IssuedCard{Card: *card, CVV: secrets.DeriveCVV(card.Number, card.ExpiresAt, l.cvvSecret)}, nil
	}
	return nil, fmt.Errorf("%w: no unique card number after %d attempts", domain.ErrConflict, maxCardNumberAttempts)
}

// CardPayment is a purchase made with a card.
type CardPayment struct {
	CardID      uuid.UUID
	Amount      decimal.Decimal
	Description string
	Merchant    string
}

// PayWithCard authorizes a payment and debits the card's account. Checks
// run in a fixed order, each with its own failure: ownership (NotFound),
// card status (InvalidState), expiry (InvalidState), spending limit
// (LimitExceeded), account status (InvalidState), funds (InsufficientFunds).
func (l *Ledger) PayWithCard(ctx context.Context, caller domain.Principal, p CardPayment) (*domain.Transaction, error) {
	if err := domain.ValidateAmount(p.Amount); err != nil {
		return nil, err
	}

	var txn *domain.Transaction
	err := l.run(ctx, "pay_with_card", func(ctx context.Context, u store.Unit) error {
		card, err := l.ownedCard(ctx, u, caller, p.CardID)
		if err != nil {
			return err
		}
		if card.Status != domain.CardActive {
			return fmt.Errorf("%w: card is %s", domain.ErrInvalidState, card.Status)
		}
		if card.Expired(l.now()) {
			return fmt.Errorf("%w: card expired on %s", domain.ErrInvalidState, card.ExpiresAt.Format(time.DateOnly))
		}
		if card.SpendingLimit != nil && p.Amount.GreaterThan(*card.SpendingLimit) {
			return fmt.Errorf("%w: amount %s over card limit %s", domain.ErrLimitExceeded,
				domain.FormatAmount(p.Amount), domain.FormatAmount(*card.SpendingLimit))
		}

		la, err := l.guard.Authorize(ctx, u, card.AccountID, caller, ownedActive)
		if err != nil {
			return err
		}

		desc := p.Description
		if desc == "" {
			desc = "Card payment"
			if p.Merchant != "" {
				desc += " at " + p.Merchant
			}
		}
		cardID := card.ID
		txn, err = l.recorder.Record(ctx, la, Entry{
			Direction:   domain.Debit,
			Amount:      p.Amount,
			Category:    domain.CategoryCardPayment,
			Description: desc,
			Reference:   "CARD-" + card.Last4(),
			CardID:      &cardID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// ownedCard hides cards of other owners as not found, then locks the card.
// Ownership is checked before locking so a stranger never holds the row.
func (l *Ledger) ownedCard(ctx context.Context, u store.Unit, caller domain.Principal, id uuid.UUID) (*domain.Card, error) {
	if _, err := l.Card(ctx, caller, id); err != nil {
		return nil, err
	}
	return u.LockCard(ctx, id)
}

func (l *Ledger) FreezeCard(ctx context.Context, caller domain.Principal, id uuid.UUID) (*domain.Card, error) {
	return l.cardTransition(ctx, "freeze_card", caller, id, func(s domain.CardStatus) (domain.CardStatus, error) {
		switch s {
		case domain.CardCancelled:
			return "", fmt.Errorf("%w: cannot freeze a cancelled card", domain.ErrInvalidState)
		case domain.CardFrozen:
			return "", fmt.Errorf("%w: card is already frozen", domain.ErrInvalidState)
		}
		return domain.CardFrozen, nil
	})
}

func (l *Ledger) UnfreezeCard(ctx context.Context, caller domain.Principal, id uuid.UUID) (*domain.Card, error) {
	return l.cardTransition(ctx, "unfreeze_card", caller, id, func(s domain.CardStatus) (domain.CardStatus, error) {
		if s != domain.CardFrozen {
			return "", fmt.Errorf("%w: card is not frozen", domain.ErrInvalidState)
		}
		return domain.CardActive, nil
	})
}

func (l *Ledger) CancelCard(ctx context.Context, caller domain.Principal, id uuid.UUID) (*domain.Card, error) {
	return l.cardTransition(ctx, "cancel_card", caller, id, func(s domain.CardStatus) (domain.CardStatus, error) {
		if s == domain.CardCancelled {
			return "", fmt.Errorf("%w: card is already cancelled", domain.ErrInvalidState)
		}
		return domain.CardCancelled, nil
	})
}

func (l *Ledger) cardTransition(ctx context.Context, op string, caller domain.Principal, id uuid.UUID,
	next func(domain.CardStatus) (domain.CardStatus, error)) (*domain.Card, error) {
	var card *domain.Card
	err := l.run(ctx, op, func(ctx context.Context, u store.Unit) error {
		c, err := l.ownedCard(ctx, u, caller, id)
		if err != nil {
			return err
		}
		status, err := next(c.Status)
		if err != nil {
			return err
		}
		if err := u.SetCardStatus(ctx, id, status); err != nil {
			return err
		}
		c.Status = status
		card = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

// Card returns one of the caller's cards.
func (l *Ledger) Card(ctx context.Context, caller domain.Principal, id uuid.UUID) (*domain.Card, error) {
	c, err := l.store.GetCard(ctx, id)
	if err != nil {
		return nil, err
	}
	a, err := l.store.GetAccount(ctx, c.AccountID)
	if err != nil {
		return nil, err
	}
	if !caller.Owns(*a) {
		return nil, fmt.Errorf("%w: card %s", domain.ErrNotFound, id)
	}
	return c, nil
}

func (l *Ledger) Cards(ctx context.Context, caller domain.Principal) ([]domain.Card, error) {
	return l.store.ListCards(ctx, caller.UserID)
}
