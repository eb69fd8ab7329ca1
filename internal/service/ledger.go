package service

import (
	"context"
	"time"

	"promptmeter/internal/model"
)

// LedgerStore owns every balance mutation. Implementations must apply
// TryDebit as one atomic conditional update and wrap persistence faults in
// model.ErrLedgerUnavailable.
type LedgerStore interface {
	Get(ctx context.Context, userID int64) (*model.UserAccount, error)
	GetOrCreate(ctx context.Context, userID int64, profile model.Profile) (*model.UserAccount, error)
	TryDebit(ctx context.Context, userID int64, amount int64) (balanceAfter int64, applied bool, err error)
	Credit(ctx context.Context, userID int64, amount int64) (balanceAfter int64, err error)
}

// Gateway is the AI completion capability. Failures are *model.GatewayError.
type Gateway interface {
	Complete(ctx context.Context, prompt string, maxOutputTokens int, timeout time.Duration) (string, error)
}

// Escalator is told about failures that need an operator, not just a log line.
type Escalator interface {
	Escalate(ctx context.Context, reason model.FailureReason, err error)
}

// FulfillmentService is what the transports (Telegram, HTTP, NATS) depend on.
type FulfillmentService interface {
	HandleRequest(ctx context.Context, userID int64, profile model.Profile, text string) model.Outcome
	Account(ctx context.Context, userID int64, profile model.Profile) (*model.UserAccount, error)
	Lookup(ctx context.Context, userID int64) (*model.UserAccount, error)
	Credit(ctx context.Context, req model.CreditRequest) (*model.CreditResult, error)
}
