package model

import (
	"errors"
	"fmt"
)

var (
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrEmptyPrompt       = errors.New("prompt is empty")
)

// GatewayError is returned by the AI gateway for every failed completion.
type GatewayError struct {
	Reason FailureReason
	Err    error
}

func (e *GatewayError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gateway: %s", e.Reason)
	}
	return fmt.Sprintf("gateway: %s: %v", e.Reason, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// GatewayReason extracts the failure reason from err, falling back to unknown.
func GatewayReason(err error) FailureReason {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Reason
	}
	return ReasonUnknown
}
