// Package ledger defines the typed error kinds surfaced by the trading,
// staking and reward components.
package ledger

import (
	"errors"
	"fmt"

	"launchpad-ledger/internal/storage"
)

// Kind classifies a ledger failure for callers.
type Kind string

// Error kinds
const (
	KindNotFound            Kind = "NOT_FOUND"
	KindInvalidArgument     Kind = "INVALID_ARGUMENT"
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindInsufficientStake   Kind = "INSUFFICIENT_STAKE"
	KindPoolDepleted        Kind = "POOL_DEPLETED"
	KindConflict            Kind = "CONFLICT"
	KindStoreUnavailable    Kind = "STORE_UNAVAILABLE"
	KindOracleUnavailable   Kind = "ORACLE_UNAVAILABLE"
	KindConfiguration       Kind = "CONFIGURATION"
	KindInternal            Kind = "INTERNAL"
)

var kindMessages = map[Kind]string{
	KindNotFound:            "The requested token or account does not exist.",
	KindInvalidArgument:     "The request contains an invalid amount or direction.",
	KindInsufficientBalance: "Your balance is too low for this operation.",
	KindInsufficientStake:   "You cannot unstake more than you have staked.",
	KindPoolDepleted:        "The reward pool cannot cover this distribution.",
	KindConflict:            "The ledger was busy, please retry.",
	KindStoreUnavailable:    "The ledger is temporarily unavailable.",
	KindOracleUnavailable:   "Wallet balance could not be verified, please retry.",
	KindConfiguration:       "The token is misconfigured.",
	KindInternal:            "Something went wrong.",
}

// Message returns the human-readable message for the kind. It never
// includes storage detail.
func (k Kind) Message() string {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return kindMessages[KindInternal]
}

// Error is a typed ledger failure.
type Error struct {
	Kind Kind
	Op   string // operation, e.g. "trading.Buy"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, ledger.ErrPoolDepleted) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInvalidArgument     = &Error{Kind: KindInvalidArgument}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrInsufficientStake   = &Error{Kind: KindInsufficientStake}
	ErrPoolDepleted        = &Error{Kind: KindPoolDepleted}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrStoreUnavailable    = &Error{Kind: KindStoreUnavailable}
	ErrOracleUnavailable   = &Error{Kind: KindOracleUnavailable}
	ErrConfiguration       = &Error{Kind: KindConfiguration}
)

// E builds a typed error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a typed error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind of err. Untyped errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// FromStorage translates storage sentinel errors into typed ledger errors.
// Errors that are already typed pass through unchanged.
func FromStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return E(KindNotFound, op, err)
	case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrDuplicateKey):
		return E(KindConflict, op, err)
	case errors.Is(err, storage.ErrInvalidInput):
		return E(KindInvalidArgument, op, err)
	default:
		return E(KindStoreUnavailable, op, err)
	}
}
