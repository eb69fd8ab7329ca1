package model

type OutcomeKind string

const (
	OutcomeFulfilled           OutcomeKind = "fulfilled"
	OutcomeInsufficientBalance OutcomeKind = "insufficient_balance"
	OutcomeGatewayFailure      OutcomeKind = "gateway_failure"
	OutcomeSystemFailure       OutcomeKind = "system_failure"
)

// FailureReason qualifies gateway_failure and system_failure outcomes.
type FailureReason string

const (
	ReasonAuthFailure         FailureReason = "auth_failure"
	ReasonRateLimited         FailureReason = "rate_limited"
	ReasonProviderUnavailable FailureReason = "provider_unavailable"
	ReasonEmptyResponse       FailureReason = "empty_response"
	ReasonUnknown             FailureReason = "unknown"

	ReasonLedgerUnavailable  FailureReason = "ledger_unavailable"
	ReasonDebitInconsistency FailureReason = "debit_inconsistency"
)

// Outcome is the single terminal result of one user request.
//
// Balance holds the remaining balance for fulfilled outcomes and the current
// balance for insufficient_balance outcomes. It is zero otherwise.
type Outcome struct {
	RequestID string        `json:"request_id"`
	UserID    int64         `json:"user_id"`
	Kind      OutcomeKind   `json:"kind"`
	Response  string        `json:"response,omitempty"`
	Balance   int64         `json:"balance"`
	Reason    FailureReason `json:"reason,omitempty"`
}

func Fulfilled(response string, balanceAfter int64) Outcome {
	return Outcome{Kind: OutcomeFulfilled, Response: response, Balance: balanceAfter}
}

func InsufficientBalance(balance int64) Outcome {
	return Outcome{Kind: OutcomeInsufficientBalance, Balance: balance}
}

func GatewayFailure(reason FailureReason) Outcome {
	return Outcome{Kind: OutcomeGatewayFailure, Reason: reason}
}

func SystemFailure(reason FailureReason) Outcome {
	return Outcome{Kind: OutcomeSystemFailure, Reason: reason}
}
