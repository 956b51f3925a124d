package pipeline

import (
	"errors"
	"fmt"

	"market-pipeline/pkg/approval"
	"market-pipeline/pkg/balance"
	"market-pipeline/pkg/gas"
	"market-pipeline/pkg/market"
	"market-pipeline/pkg/provider"
	"market-pipeline/pkg/types"
)

// Error is a classified pipeline failure
type Error struct {
	Kind types.ErrorKind
	Err  error
}

// Sentinels for errors.Is checks against a kind
var (
	ErrValidation           = &Error{Kind: types.ErrorValidation}
	ErrEstimationFailed     = &Error{Kind: types.ErrorEstimationFailed}
	ErrInsufficientBalance  = &Error{Kind: types.ErrorInsufficientBalance}
	ErrUserRejected         = &Error{Kind: types.ErrorUserRejected}
	ErrStaleApproval        = &Error{Kind: types.ErrorStaleApproval}
	ErrProviderSubmitFailed = &Error{Kind: types.ErrorProviderSubmitFailed}
	ErrProviderReadFailed   = &Error{Kind: types.ErrorProviderReadFailed}
	ErrSubmissionInFlight   = &Error{Kind: types.ErrorSubmissionInFlight}
	ErrInternal             = &Error{Kind: types.ErrorInternal}
)

func newError(kind types.ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the error kind of err, INTERNAL for unclassified errors
func KindOf(err error) types.ErrorKind {
	if err == nil {
		return ""
	}
	return classify(err).Kind
}

// IsSilent returns true for errors that must not be surfaced to the user
func IsSilent(err error) bool {
	return errors.Is(err, ErrStaleApproval)
}

func classify(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	switch {
	case errors.Is(err, gas.ErrStartTimeInvalid),
		errors.Is(err, gas.ErrWindowInvalid),
		errors.Is(err, gas.ErrInvalidRequest),
		errors.Is(err, market.ErrInvalidCall):
		return newError(types.ErrorValidation, err)
	case errors.Is(err, gas.ErrEstimationFailed):
		return newError(types.ErrorEstimationFailed, err)
	case errors.Is(err, balance.ErrRetrievalFailed):
		return newError(types.ErrorProviderReadFailed, err)
	case errors.Is(err, approval.ErrStaleApproval):
		return newError(types.ErrorStaleApproval, err)
	case errors.Is(err, approval.ErrSubmissionInFlight):
		return newError(types.ErrorSubmissionInFlight, err)
	case errors.Is(err, provider.ErrUserDenied):
		return newError(types.ErrorUserRejected, err)
	case errors.Is(err, provider.ErrReverted):
		return newError(types.ErrorProviderSubmitFailed, err)
	default:
		return newError(types.ErrorInternal, err)
	}
}

// userMessage is the short message shown for a failure
func userMessage(kind types.ErrorKind, err error) string {
	switch kind {
	case types.ErrorValidation:
		var pe *Error
		if errors.As(err, &pe) && pe.Err != nil {
			return fmt.Sprintf("Invalid request: %v", pe.Err)
		}
		return fmt.Sprintf("Invalid request: %v", err)
	case types.ErrorEstimationFailed:
		return "Could not estimate the network fee, please try again"
	case types.ErrorInsufficientBalance:
		return "Insufficient balance to cover this transaction"
	case types.ErrorUserRejected:
		return "Transaction cancelled"
	case types.ErrorProviderSubmitFailed:
		return "Transaction failed"
	case types.ErrorProviderReadFailed:
		return "Could not reach the network, please try again"
	case types.ErrorSubmissionInFlight:
		return "A transaction for this item is already being submitted"
	default:
		return "Something went wrong, please try again"
	}
}
