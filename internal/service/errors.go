package service

import (
	"fmt"

	"payflow/internal/model"
)

// Kind classifies engine failures. Only KindPersistence aborts a unit of work;
// the others are expected business outcomes.
type Kind string

const (
	KindConfiguration   Kind = "configuration"
	KindValidation      Kind = "validation"
	KindConflict        Kind = "conflict"
	KindProviderFailure Kind = "provider_failure"
	KindPersistence     Kind = "persistence"
)

const (
	CodeNoProvider          = "NoProvider"
	CodeUnknownProvider     = "UnknownProvider"
	CodeInvalidAmount       = "InvalidAmount"
	CodeAmountTooLow        = "AmountTooLow"
	CodeAccountNotFound     = "AccountNotFound"
	CodeAccountDeactivated  = "AccountDeactivated"
	CodeBalanceBelowMinimum = "BalanceBelowMinimum"
	CodeAccountNotVerified  = "AccountNotVerified"
	CodeInsufficientFunds   = "InsufficientFunds"
	CodeAlreadyProcessing   = "AlreadyProcessing"
	CodeRequestInProgress   = "RequestInProgress"
	CodePaymentFailed       = "PaymentFailed"
	CodeUnknown             = "Unknown"
)

// unknownErrorMessage is all a caller learns about a persistence failure.
const unknownErrorMessage = "Unknown error"

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, and by code unless the target leaves it empty.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

var (
	ErrConfiguration   = &Error{Kind: KindConfiguration}
	ErrValidation      = &Error{Kind: KindValidation}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrProviderFailure = &Error{Kind: KindProviderFailure}
	ErrPersistence     = &Error{Kind: KindPersistence}

	ErrNoProvider          = &Error{Kind: KindConfiguration, Code: CodeNoProvider}
	ErrUnknownProvider     = &Error{Kind: KindConfiguration, Code: CodeUnknownProvider}
	ErrInvalidAmount       = &Error{Kind: KindValidation, Code: CodeInvalidAmount}
	ErrAmountTooLow        = &Error{Kind: KindValidation, Code: CodeAmountTooLow}
	ErrAccountNotFound     = &Error{Kind: KindValidation, Code: CodeAccountNotFound}
	ErrAccountDeactivated  = &Error{Kind: KindValidation, Code: CodeAccountDeactivated}
	ErrBalanceBelowMinimum = &Error{Kind: KindValidation, Code: CodeBalanceBelowMinimum}
	ErrAccountNotVerified  = &Error{Kind: KindValidation, Code: CodeAccountNotVerified}
	ErrInsufficientFunds   = &Error{Kind: KindValidation, Code: CodeInsufficientFunds}
	ErrAlreadyProcessing   = &Error{Kind: KindConflict, Code: CodeAlreadyProcessing}
	ErrRequestInProgress   = &Error{Kind: KindConflict, Code: CodeRequestInProgress}
)

func newError(kind Kind, code string, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Code: CodeUnknown, Message: op, Err: err}
}

func failure(err *Error) model.Result {
	msg := err.Error()
	if err.Kind == KindPersistence {
		msg = unknownErrorMessage
	}
	return model.Result{
		Success: false,
		Error:   msg,
		Code:    err.Code,
		Kind:    string(err.Kind),
		Err:     err,
	}
}

// restoreError rebuilds the typed error of a result decoded from storage.
func restoreError(res model.Result) error {
	if res.Success {
		return nil
	}
	return &Error{Kind: Kind(res.Kind), Code: res.Code, Message: res.Error}
}
