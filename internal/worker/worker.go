package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"promptmeter/internal/metrics"
	"promptmeter/internal/model"
	"promptmeter/internal/repository"
)

const (
	recordTimeout = 5 * time.Second
	flushTimeout  = 2 * time.Second
	drainTimeout  = 30 * time.Second
)

type Journal interface {
	Record(ctx context.Context, entry model.LedgerEntry) error
}

// JournalWorker listens on the ledger entries topic and appends every entry
// to the Postgres ledger_entries table.
type JournalWorker struct {
	journal  Journal
	natsConn *nats.Conn
}

func NewJournalWorker(journal Journal, nc *nats.Conn) *JournalWorker {
	return &JournalWorker{
		journal:  journal,
		natsConn: nc,
	}
}

// Run subscribes to the entries topic and blocks until ctx is cancelled, then
// drains: entries already published are recorded before Run returns.
func (w *JournalWorker) Run(ctx context.Context) error {
	// QueueSubscribe: with several replicas each entry is handled by one worker only.
	sub, err := w.natsConn.QueueSubscribe(repository.TopicLedgerEntries, "journal_group", func(m *nats.Msg) {
		w.Handle(ctx, m.Data)
	})
	if err != nil {
		return fmt.Errorf("worker: failed to subscribe to NATS: %w", err)
	}

	slog.Info("Journal worker is running")

	<-ctx.Done()

	slog.Info("Worker received shutdown signal, draining subscription...")

	// Entries published on this connection must reach the server before the drain starts.
	if err := w.natsConn.FlushTimeout(flushTimeout); err != nil {
		slog.Warn("worker: flush before drain failed", "error", err)
	}
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("worker: drain: %w", err)
	}

	deadline := time.Now().Add(drainTimeout)
	for sub.IsValid() {
		if time.Now().After(deadline) {
			_ = sub.Unsubscribe()
			return fmt.Errorf("worker: drain did not finish within %s", drainTimeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// Handle decodes and persists a single entry. Failures are logged and dropped.
func (w *JournalWorker) Handle(ctx context.Context, data []byte) {
	var entry model.LedgerEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		metrics.JournalEntriesTotal.WithLabelValues("unknown", "invalid").Inc()
		slog.Error("worker: failed to unmarshal nats message", "error", err)
		return
	}

	// The entry describes a debit that already happened; shutdown must not drop it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := w.journal.Record(ctx, entry); err != nil {
		metrics.JournalEntriesTotal.WithLabelValues(string(entry.Kind), "error").Inc()
		slog.Error("worker: failed to record ledger entry",
			"user_id", entry.UserID,
			"entry_id", entry.EntryID,
			"error", err,
		)
		return
	}

	metrics.JournalEntriesTotal.WithLabelValues(string(entry.Kind), "ok").Inc()
	slog.Debug("worker: ledger entry recorded",
		"user_id", entry.UserID,
		"entry_id", entry.EntryID,
	)
}

// Start implements the infrastructure.Server interface.
func (w *JournalWorker) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop implements the infrastructure.Server interface (no-op, shutdown is via ctx).
func (w *JournalWorker) Stop(ctx context.Context) error {
	return nil
}
