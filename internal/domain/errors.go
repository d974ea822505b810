package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can decide whether and how to recover.
type Kind string

const (
	KindInvalidParameters    Kind = "INVALID_PARAMETERS"
	KindSignerRejected       Kind = "SIGNER_REJECTED"
	KindSignerNotConnected   Kind = "SIGNER_NOT_CONNECTED"
	KindLedgerUnavailable    Kind = "LEDGER_UNAVAILABLE"
	KindLedgerRejected       Kind = "LEDGER_REJECTED"
	KindPartiallyIssued      Kind = "PARTIALLY_ISSUED"
	KindPartiallyExecuted    Kind = "PARTIALLY_EXECUTED"
	KindInsufficientReserves Kind = "INSUFFICIENT_RESERVES"
	KindPoolInert            Kind = "POOL_INERT"
	KindAssetNotFound        Kind = "ASSET_NOT_FOUND"
	KindPoolNotFound         Kind = "POOL_NOT_FOUND"
	KindAuthorityRevoked     Kind = "AUTHORITY_REVOKED"
	KindStorageUnavailable   Kind = "STORAGE_UNAVAILABLE"
	KindUnknown              Kind = "UNKNOWN"
)

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrInvalidParameters    = &Error{Kind: KindInvalidParameters}
	ErrSignerRejected       = &Error{Kind: KindSignerRejected}
	ErrSignerNotConnected   = &Error{Kind: KindSignerNotConnected}
	ErrLedgerUnavailable    = &Error{Kind: KindLedgerUnavailable}
	ErrLedgerRejected       = &Error{Kind: KindLedgerRejected}
	ErrPartiallyIssued      = &Error{Kind: KindPartiallyIssued}
	ErrPartiallyExecuted    = &Error{Kind: KindPartiallyExecuted}
	ErrInsufficientReserves = &Error{Kind: KindInsufficientReserves}
	ErrPoolInert            = &Error{Kind: KindPoolInert}
	ErrAssetNotFound        = &Error{Kind: KindAssetNotFound}
	ErrPoolNotFound         = &Error{Kind: KindPoolNotFound}
	ErrAuthorityRevoked     = &Error{Kind: KindAuthorityRevoked}
	ErrStorageUnavailable   = &Error{Kind: KindStorageUnavailable}
	ErrUnknown              = &Error{Kind: KindUnknown}
)

// Error is the classified failure returned by the launchpad services.
//
// Step names the failed stage of a multi-step sequence and Address carries the
// ledger entity that already exists when a sequence stopped halfway.
type Error struct {
	Kind    Kind
	Op      string
	Step    string
	Address string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(strings.ToLower(strings.ReplaceAll(string(e.Kind), "_", " ")))
	if e.Step != "" {
		fmt.Fprintf(&b, " at step %s", e.Step)
	}
	if e.Address != "" {
		fmt.Fprintf(&b, " (address %s)", e.Address)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Kind so that errors.Is(err, ErrPoolInert) works for any pool-inert failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// E builds a classified error.
func E(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Invalid returns an InvalidParameters error with a formatted message as cause.
func Invalid(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidParameters, Op: op, Cause: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind of err, or KindUnknown when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StepOf returns the failed step recorded on err, if any.
func StepOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Step
	}
	return ""
}

// AddressOf returns the already-allocated entity address recorded on err, if any.
func AddressOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Address
	}
	return ""
}

// Retryable reports whether the whole operation may be repeated as is.
// Only a ledger outage with no partial state qualifies.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindLedgerUnavailable && e.Address == ""
}
