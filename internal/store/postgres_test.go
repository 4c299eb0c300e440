package store

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/punchamoorthee/bankledger/internal/domain"
)

func TestMapErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.Code
	}{
		{"no rows", pgx.ErrNoRows, domain.CodeNotFound},
		{"lock timeout", &pgconn.PgError{Code: pgLockNotAvailable}, domain.CodeBusy},
		{"deadlock", &pgconn.PgError{Code: pgDeadlockDetected}, domain.CodeBusy},
		{"serialization", &pgconn.PgError{Code: pgSerializationFailure}, domain.CodeBusy},
		{"unique", &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "cards_card_number_key"}, domain.CodeConflict},
		{"foreign key", &pgconn.PgError{Code: pgForeignKeyViolation}, domain.CodeNotFound},
		{"check", &pgconn.PgError{Code: pgCheckViolation}, domain.CodeInvalidState},
		{"numeric overflow", &pgconn.PgError{Code: pgNumericOutOfRange}, domain.CodeInvalidArgument},
		{"other pg error", &pgconn.PgError{Code: "42P01"}, domain.CodeInternal},
		{"plain error", errors.New("connection reset"), domain.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapErr(tt.err, "op")
			assert.Equal(t, tt.want, domain.CodeOf(err))
		})
	}
	assert.NoError(t, mapErr(nil, "op"))
}
