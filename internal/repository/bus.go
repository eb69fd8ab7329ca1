package repository

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"promptmeter/internal/model"
)

// TopicLedgerEntries carries a model.LedgerEntry for every applied mutation.
const TopicLedgerEntries = "ledger.entries"

type MessageBus interface {
	Publish(topic string, data []byte) error
}

// NopBus drops every message. Used when no bus provider is configured.
type NopBus struct{}

func (NopBus) Publish(string, []byte) error { return nil }

// publishEntry is best effort: the balance mutation is already committed.
func publishEntry(bus MessageBus, userID int64, kind model.EntryKind, amount, balanceAfter int64) {
	entry := model.LedgerEntry{
		EntryID:      uuid.NewString(),
		UserID:       userID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		CreatedAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		slog.Error("ledger: failed to marshal entry", "user_id", userID, "error", err)
		return
	}
	if err := bus.Publish(TopicLedgerEntries, data); err != nil {
		slog.Warn("ledger: failed to publish entry",
			"user_id", userID,
			"entry_id", entry.EntryID,
			"error", err,
		)
	}
}
