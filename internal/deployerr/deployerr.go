// Package deployerr classifies deployment flow failures so callers can decide
// whether to reset, keep the cost breakdown, or warn that funds moved.
package deployerr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindInputValidation
	KindUpstreamRejection
	KindWalletRejection
	KindNetwork
	KindInsufficientFunds
	KindBlockhashExpired
	KindConfirmationTimeout
	KindPartialFailure
	KindSimulationFailed
	KindMalformedIntent
)

func (k Kind) String() string {
	switch k {
	case KindInputValidation:
		return "input_validation"
	case KindUpstreamRejection:
		return "upstream_rejection"
	case KindWalletRejection:
		return "wallet_rejection"
	case KindNetwork:
		return "network"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindBlockhashExpired:
		return "blockhash_expired"
	case KindConfirmationTimeout:
		return "confirmation_timeout"
	case KindPartialFailure:
		return "partial_failure"
	case KindSimulationFailed:
		return "simulation_failed"
	case KindMalformedIntent:
		return "malformed_intent"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. A *Error matches the sentinel of its Kind.
var (
	ErrUnknown             = errors.New("unknown failure")
	ErrInputValidation     = errors.New("invalid input")
	ErrUpstreamRejection   = errors.New("rejected by backend")
	ErrWalletRejection     = errors.New("wallet rejected signing")
	ErrNetwork             = errors.New("network or rpc error")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrBlockhashExpired    = errors.New("blockhash expired")
	ErrConfirmationTimeout = errors.New("confirmation timed out")
	ErrPartialFailure      = errors.New("payment succeeded but job creation failed")
	ErrSimulationFailed    = errors.New("simulation failed")
	ErrMalformedIntent     = errors.New("malformed payment intent")
)

func (k Kind) sentinel() error {
	switch k {
	case KindInputValidation:
		return ErrInputValidation
	case KindUpstreamRejection:
		return ErrUpstreamRejection
	case KindWalletRejection:
		return ErrWalletRejection
	case KindNetwork:
		return ErrNetwork
	case KindInsufficientFunds:
		return ErrInsufficientFunds
	case KindBlockhashExpired:
		return ErrBlockhashExpired
	case KindConfirmationTimeout:
		return ErrConfirmationTimeout
	case KindPartialFailure:
		return ErrPartialFailure
	case KindSimulationFailed:
		return ErrSimulationFailed
	case KindMalformedIntent:
		return ErrMalformedIntent
	default:
		return ErrUnknown
	}
}

// Error is a classified failure. Message is the short user-facing line;
// Detail and Logs feed the optional detail panel.
type Error struct {
	Kind      Kind
	Message   string
	Detail    string
	Signature string
	Logs      []string
	Cause     error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.sentinel().Error()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Indeterminate reports whether the payment may still land. Such failures
// must not be retried automatically.
func (e *Error) Indeterminate() bool {
	return e.Kind == KindConfirmationTimeout
}

// FundsMoved reports whether the user has already paid.
func (e *Error) FundsMoved() bool {
	return e.Kind == KindPartialFailure
}

// DetailText renders the detail panel body.
func (e *Error) DetailText() string {
	var b strings.Builder
	if e.Detail != "" {
		b.WriteString(e.Detail)
	}
	if e.Signature != "" {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "signature: %s", e.Signature)
	}
	for _, l := range e.Logs {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l)
	}
	return b.String()
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var de *Error
	ok := errors.As(err, &de)
	return de, ok
}
