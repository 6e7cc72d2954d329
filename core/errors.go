package core

import "errors"

// Error kinds. Every error surfaced to a client wraps exactly one of them.
var (
	ErrValidation       = errors.New("validation failed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrSettlementFailed = errors.New("settlement failed")
	ErrUnavailable      = errors.New("unavailable")
)

// Store-level sentinels, translated into kinds by the services.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrUserExists          = errors.New("user already exists")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrNotPending          = errors.New("transaction is not pending")
	ErrNotClaimed          = errors.New("transaction is not being processed")
)

// Error pairs an error kind with a message that is safe to show to a client.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

// Unwrap lets errors.Is match the kind.
func (e *Error) Unwrap() error {
	return e.Kind
}

func Validation(msg string) error   { return &Error{Kind: ErrValidation, Msg: msg} }
func Unauthorized(msg string) error { return &Error{Kind: ErrUnauthorized, Msg: msg} }
func Forbidden(msg string) error    { return &Error{Kind: ErrForbidden, Msg: msg} }
func NotFound(msg string) error     { return &Error{Kind: ErrNotFound, Msg: msg} }
func Conflict(msg string) error     { return &Error{Kind: ErrConflict, Msg: msg} }
func Unavailable(msg string) error  { return &Error{Kind: ErrUnavailable, Msg: msg} }

// SettlementFailure never carries the chain-level cause.
func SettlementFailure() error {
	return &Error{Kind: ErrSettlementFailed, Msg: "Transaction failed"}
}
