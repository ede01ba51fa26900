package apperr

import (
	"errors"
	"fmt"
)

// Error kinds returned by the ledger, payment, OTP and token components.
// Callers match them with errors.Is; details are wrapped around them.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrInactiveAccount   = errors.New("account is inactive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrExpired           = errors.New("expired")
	ErrAuth              = errors.New("authentication failed")
	ErrConflict          = errors.New("conflict")
	ErrService           = errors.New("service unavailable")
)

// Refined kinds. Each one also matches its parent kind.
var (
	ErrOtpExpired     error = &refined{msg: "otp expired", parent: ErrExpired}
	ErrOtpInvalid     error = &refined{msg: "otp invalid", parent: ErrAuth}
	ErrSessionExpired error = &refined{msg: "session expired", parent: ErrExpired}
)

type refined struct {
	msg    string
	parent error
}

func (e *refined) Error() string { return e.msg }

func (e *refined) Unwrap() error { return e.parent }

// Wrap attaches a formatted detail message to kind.
func Wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Service wraps an unexpected storage failure so callers can tell it apart
// from a rejected request.
func Service(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrService, op, err)
}

// IsLogical reports whether err is one of the request-level kinds, i.e.
// anything except ErrService and unclassified errors.
func IsLogical(err error) bool {
	for _, kind := range []error{
		ErrValidation, ErrNotFound, ErrInactiveAccount, ErrInsufficientFunds,
		ErrExpired, ErrAuth, ErrConflict,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
