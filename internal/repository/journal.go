package repository

import (
	"context"
	"fmt"

	"promptmeter/internal/model"
)

const insertEntryQuery = `
	INSERT INTO ledger_entries (entry_id, user_id, kind, amount, balance_after, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (entry_id) DO NOTHING`

// JournalRepo persists ledger entries received from the bus.
type JournalRepo struct {
	db DBTX
}

func NewJournalRepo(db DBTX) *JournalRepo {
	return &JournalRepo{db: db}
}

// Record stores entry once; redelivered entries are ignored.
func (r *JournalRepo) Record(ctx context.Context, entry model.LedgerEntry) error {
	_, err := r.db.Exec(ctx, insertEntryQuery,
		entry.EntryID,
		entry.UserID,
		string(entry.Kind),
		entry.Amount,
		entry.BalanceAfter,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save ledger entry %s: %w", entry.EntryID, err)
	}
	return nil
}
