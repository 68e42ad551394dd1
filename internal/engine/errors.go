package engine

import (
	"errors"
	"fmt"
)

// ErrorKind identifies why a purchase was rejected. Every kind is
// recoverable at the caller boundary; the UI renders Detail verbatim.
type ErrorKind string

const (
	KindInvalidAddress         ErrorKind = "InvalidAddress"
	KindInvalidCurrency        ErrorKind = "InvalidCurrency"
	KindBlacklisted            ErrorKind = "Blacklisted"
	KindBelowMinimum           ErrorKind = "BelowMinimum"
	KindAboveMaximum           ErrorKind = "AboveMaximum"
	KindExceedsWalletLimit     ErrorKind = "ExceedsWalletLimit"
	KindNotWhitelisted         ErrorKind = "NotWhitelisted"
	KindKYCRequired            ErrorKind = "KYCRequired"
	KindExceedsRoundAllocation ErrorKind = "ExceedsRoundAllocation"
	KindRateLimitExceeded      ErrorKind = "RateLimitExceeded"
)

// ValidationError is a structured purchase rejection. No ledger state
// changes when one is returned.
type ValidationError struct {
	Kind   ErrorKind
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// ErrUnauthorized is returned by admin operations when the key does not
// match.
var ErrUnauthorized = errors.New("unauthorized")
