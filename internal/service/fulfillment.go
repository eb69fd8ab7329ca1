package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"promptmeter/internal/metrics"
	"promptmeter/internal/model"
)

type stage string

const (
	stageReceived           stage = "received"
	stageBalanceChecked     stage = "balance_checked"
	stageAwaitingCompletion stage = "awaiting_completion"
	stageCompleted          stage = "completed"
	stageAIFailed           stage = "ai_failed"
	stageDebited            stage = "debited"
	stageDebitFailed        stage = "debit_failed"
)

type Options struct {
	CostPerRequest  int64
	MaxOutputTokens int
	Timeout         time.Duration
}

// Orchestrator turns one inbound request into exactly one model.Outcome.
//
// The debit is attempted only after the gateway has returned a usable
// completion, so a failed completion never costs the user anything. Requests
// are not serialized per user; the store's conditional debit decides races.
type Orchestrator struct {
	ledger    LedgerStore
	gateway   Gateway
	escalator Escalator
	opts      Options
}

func NewOrchestrator(ledger LedgerStore, gateway Gateway, escalator Escalator, opts Options) *Orchestrator {
	if opts.CostPerRequest <= 0 {
		opts.CostPerRequest = 1
	}
	if escalator == nil {
		escalator = logEscalator{}
	}
	return &Orchestrator{
		ledger:    ledger,
		gateway:   gateway,
		escalator: escalator,
		opts:      opts,
	}
}

func (o *Orchestrator) HandleRequest(ctx context.Context, userID int64, profile model.Profile, text string) (out model.Outcome) {
	requestID := uuid.NewString()
	log := slog.With("request_id", requestID, "user_id", userID)

	metrics.RequestsInFlight.Inc()
	defer func() {
		if r := recover(); r != nil {
			log.Error("orchestrator: panic while handling request", "panic", r)
			out = model.SystemFailure(model.ReasonUnknown)
		}
		out.RequestID = requestID
		out.UserID = userID
		metrics.RequestsInFlight.Dec()
		metrics.OutcomesTotal.WithLabelValues(string(out.Kind), string(out.Reason)).Inc()
	}()

	return o.fulfill(ctx, log, userID, profile, text)
}

func (o *Orchestrator) fulfill(ctx context.Context, log *slog.Logger, userID int64, profile model.Profile, text string) model.Outcome {
	log.Debug("orchestrator: transition", "stage", stageReceived)

	acc, err := o.ledger.GetOrCreate(ctx, userID, profile)
	if err != nil {
		metrics.LedgerOperationsTotal.WithLabelValues("get_or_create", "error").Inc()
		log.Error("orchestrator: failed to resolve account", "error", err)
		return model.SystemFailure(model.ReasonLedgerUnavailable)
	}
	metrics.LedgerOperationsTotal.WithLabelValues("get_or_create", "ok").Inc()

	if acc.Balance <= 0 || acc.Balance < o.opts.CostPerRequest {
		log.Info("orchestrator: insufficient balance", "balance", acc.Balance)
		return model.InsufficientBalance(acc.Balance)
	}
	log.Debug("orchestrator: transition", "stage", stageBalanceChecked, "balance", acc.Balance)

	log.Debug("orchestrator: transition", "stage", stageAwaitingCompletion)
	response, err := o.gateway.Complete(ctx, text, o.opts.MaxOutputTokens, o.opts.Timeout)
	if err != nil {
		reason := model.GatewayReason(err)
		log.Error("orchestrator: completion failed", "stage", stageAIFailed, "reason", reason, "error", err)
		if reason == model.ReasonAuthFailure {
			o.escalator.Escalate(ctx, reason, err)
		}
		return model.GatewayFailure(reason)
	}
	log.Debug("orchestrator: transition", "stage", stageCompleted)

	balance, applied, err := o.ledger.TryDebit(ctx, userID, o.opts.CostPerRequest)
	if err != nil {
		metrics.LedgerOperationsTotal.WithLabelValues("debit", "error").Inc()
		log.Error("orchestrator: debit failed, discarding response", "stage", stageDebitFailed, "error", err)
		return model.SystemFailure(model.ReasonLedgerUnavailable)
	}
	if !applied {
		// A concurrent request spent the remaining balance after our check.
		metrics.LedgerOperationsTotal.WithLabelValues("debit", "rejected").Inc()
		log.Warn("orchestrator: debit rejected, discarding response", "stage", stageDebitFailed)
		return model.SystemFailure(model.ReasonDebitInconsistency)
	}
	metrics.LedgerOperationsTotal.WithLabelValues("debit", "ok").Inc()

	log.Info("orchestrator: request fulfilled", "stage", stageDebited, "balance", balance)
	return model.Fulfilled(response, balance)
}

// Account resolves (and registers on first contact) the caller's account.
func (o *Orchestrator) Account(ctx context.Context, userID int64, profile model.Profile) (*model.UserAccount, error) {
	return o.ledger.GetOrCreate(ctx, userID, profile)
}

// Lookup reads an account without registering it; unknown users yield model.ErrAccountNotFound.
func (o *Orchestrator) Lookup(ctx context.Context, userID int64) (*model.UserAccount, error) {
	return o.ledger.Get(ctx, userID)
}

// Credit tops up an existing account. It serves the top-up and promo
// collaborators, which live outside this service.
func (o *Orchestrator) Credit(ctx context.Context, req model.CreditRequest) (*model.CreditResult, error) {
	balance, err := o.ledger.Credit(ctx, req.UserID, req.Amount)
	if err != nil {
		metrics.LedgerOperationsTotal.WithLabelValues("credit", "error").Inc()
		return nil, fmt.Errorf("credit user %d: %w", req.UserID, err)
	}
	metrics.LedgerOperationsTotal.WithLabelValues("credit", "ok").Inc()
	return &model.CreditResult{NewBalance: balance, Status: "SUCCESS"}, nil
}

type logEscalator struct{}

func (logEscalator) Escalate(_ context.Context, reason model.FailureReason, err error) {
	slog.Error("ESCALATION: operator action required", "reason", reason, "error", err)
}

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, model.ErrInvalidAmount) || errors.Is(err, model.ErrAccountNotFound)
}

// ErrorCode maps a ledger error to the code transports show callers. Internal
// details stay in the logs.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, model.ErrAccountNotFound):
		return "account_not_found"
	default:
		return string(model.ReasonLedgerUnavailable)
	}
}
