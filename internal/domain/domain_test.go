package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{nil, ""},
		{ErrNotFound, CodeNotFound},
		{fmt.Errorf("%w: account 1", ErrForbidden), CodeForbidden},
		{fmt.Errorf("outer: %w", fmt.Errorf("%w: x", ErrInsufficientFunds)), CodeInsufficientFunds},
		{ErrLimitExceeded, CodeLimitExceeded},
		{ErrBusy, CodeBusy},
		{ErrConflict, CodeConflict},
		{context.DeadlineExceeded, CodeBusy},
		{errors.New("disk on fire"), CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CodeOf(tt.err), "CodeOf(%v)", tt.err)
	}
}

func TestOnlyBusyIsRetryable(t *testing.T) {
	for _, c := range []Code{CodeNotFound, CodeForbidden, CodeInvalidArgument, CodeInvalidState,
		CodeInsufficientFunds, CodeLimitExceeded, CodeConflict, CodeInternal} {
		assert.False(t, c.Retryable(), string(c))
	}
	assert.True(t, CodeBusy.Retryable())
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount("10.5")
	require.NoError(t, err)
	assert.Equal(t, "10.50", FormatAmount(d))

	d, err = ParseAmount("0.01")
	require.NoError(t, err)
	assert.Equal(t, "0.01", FormatAmount(d))

	d, err = ParseAmount("999999999999.99")
	require.NoError(t, err)
	assert.True(t, d.Equal(MaxAmount))

	for _, in := range []string{"", "abc", "0", "0.00", "-1.00", "1.001", "1e-3",
		"1e15", "1000000000000.00", "99999999999999999999.99"} {
		_, err := ParseAmount(in)
		assert.ErrorIs(t, err, ErrInvalidArgument, "ParseAmount(%q)", in)
	}
}

func TestAvailableIncludesOverdraft(t *testing.T) {
	a := Account{Balance: decimal.RequireFromString("-20.00"), OverdraftLimit: decimal.RequireFromString("50.00")}
	assert.Equal(t, "30.00", FormatAmount(a.Available()))
}

func TestSignedAmount(t *testing.T) {
	amt := decimal.RequireFromString("4.25")
	assert.True(t, Transaction{Direction: Credit, Amount: amt}.Signed().Equal(amt))
	assert.True(t, Transaction{Direction: Debit, Amount: amt}.Signed().Equal(amt.Neg()))
}

func TestCardExpiry(t *testing.T) {
	exp := time.Date(2029, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Card{ExpiresAt: exp, Number: "4000123412349876"}
	assert.False(t, c.Expired(exp.Add(-time.Second)))
	assert.False(t, c.Expired(exp))
	assert.True(t, c.Expired(exp.Add(time.Second)))
	assert.Equal(t, "9876", c.Last4())
}

func TestPrincipalOwns(t *testing.T) {
	owner := uuid.New()
	a := Account{OwnerID: owner}
	assert.True(t, Principal{UserID: owner}.Owns(a))
	assert.False(t, Principal{UserID: uuid.New()}.Owns(a))
	assert.False(t, Principal{}.Owns(Account{}))
}
