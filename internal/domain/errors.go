package domain

import (
	"context"
	"errors"
)

// Ledger failures. Callers wrap these with fmt.Errorf("%w: ...") and
// classify them with CodeOf.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrLimitExceeded     = errors.New("limit exceeded")
	ErrBusy              = errors.New("resource busy")
	ErrConflict          = errors.New("conflict")
)

// Code is the stable, machine-readable form of a ledger failure.
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeForbidden         Code = "FORBIDDEN"
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeInvalidState      Code = "INVALID_STATE"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeLimitExceeded     Code = "LIMIT_EXCEEDED"
	CodeBusy              Code = "BUSY"
	CodeConflict          Code = "CONFLICT"
	CodeInternal          Code = "INTERNAL"
)

var codes = []struct {
	err  error
	code Code
}{
	{ErrNotFound, CodeNotFound},
	{ErrForbidden, CodeForbidden},
	{ErrInvalidArgument, CodeInvalidArgument},
	{ErrInvalidState, CodeInvalidState},
	{ErrInsufficientFunds, CodeInsufficientFunds},
	{ErrLimitExceeded, CodeLimitExceeded},
	{ErrBusy, CodeBusy},
	{ErrConflict, CodeConflict},
}

// CodeOf classifies err. Unknown errors are Internal; nil has no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeBusy
	}
	return CodeInternal
}

// Retryable reports whether the same request may succeed if resubmitted.
func (c Code) Retryable() bool {
	return c == CodeBusy
}
