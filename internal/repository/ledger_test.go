package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptmeter/internal/model"
)

type mockBus struct {
	mu      sync.Mutex
	entries []model.LedgerEntry
	err     error
}

func (m *mockBus) Publish(topic string, data []byte) error {
	if topic != TopicLedgerEntries {
		return errors.New("unexpected topic " + topic)
	}
	var entry model.LedgerEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return err
	}
	m.mu.Lock()
	m.entries = append(m.entries, entry)
	m.mu.Unlock()
	return m.err
}

func (m *mockBus) published() []model.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.LedgerEntry(nil), m.entries...)
}

var userColumns = []string{"user_id", "username", "first_name", "last_name", "balance", "total_requests", "created_at", "updated_at"}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *LedgerRepo, *mockBus) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	bus := &mockBus{}
	return mock, NewLedgerRepo(mock, bus, 3), bus
}

func TestGetOrCreate_Existing(t *testing.T) {
	mock, repo, _ := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery("SELECT user_id").
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows(userColumns).AddRow(int64(42), "neo", "Thomas", "Anderson", int64(7), int64(2), now, now))

	acc, err := repo.GetOrCreate(context.Background(), 42, model.Profile{Username: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), acc.Balance)
	assert.Equal(t, int64(2), acc.TotalRequests)
	assert.Equal(t, "neo", acc.Username)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreate_InsertsWithStartingBalance(t *testing.T) {
	mock, repo, _ := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery("SELECT user_id").
		WithArgs(int64(42)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO users").
		WithArgs(int64(42), "neo", "Thomas", "", int64(3)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT user_id").
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows(userColumns).AddRow(int64(42), "neo", "Thomas", "", int64(3), int64(0), now, now))

	acc, err := repo.GetOrCreate(context.Background(), 42, model.Profile{Username: "neo", FirstName: "Thomas"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), acc.Balance)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreate_LostInsertRaceReadsWinner(t *testing.T) {
	mock, repo, _ := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery("SELECT user_id").
		WithArgs(int64(42)).
		WillReturnError(pgx.ErrNoRows)
	// A concurrent caller inserted first: ON CONFLICT turns ours into a no-op.
	mock.ExpectExec("INSERT INTO users").
		WithArgs(int64(42), "", "", "", int64(3)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT user_id").
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows(userColumns).AddRow(int64(42), "", "", "", int64(2), int64(1), now, now))

	acc, err := repo.GetOrCreate(context.Background(), 42, model.Profile{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), acc.Balance)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreate_DatabaseDown(t *testing.T) {
	mock, repo, _ := newMockRepo(t)

	mock.ExpectQuery("SELECT user_id").
		WithArgs(int64(42)).
		WillReturnError(errors.New("connection refused"))

	_, err := repo.GetOrCreate(context.Background(), 42, model.Profile{})
	require.ErrorIs(t, err, model.ErrLedgerUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_DoesNotInsert(t *testing.T) {
	mock, repo, _ := newMockRepo(t)

	mock.ExpectQuery("SELECT user_id").
		WithArgs(int64(42)).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), 42)
	require.ErrorIs(t, err, model.ErrAccountNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTryDebit_Applied(t *testing.T) {
	mock, repo, bus := newMockRepo(t)

	mock.ExpectQuery("UPDATE users").
		WithArgs(int64(42), int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(0)))

	balance, applied, err := repo.TryDebit(context.Background(), 42, 1)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(0), balance)

	entries := bus.published()
	require.Len(t, entries, 1)
	assert.Equal(t, model.EntryDebit, entries[0].Kind)
	assert.Equal(t, int64(0), entries[0].BalanceAfter)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTryDebit_InsufficientFunds(t *testing.T) {
	mock, repo, bus := newMockRepo(t)

	mock.ExpectQuery("UPDATE users").
		WithArgs(int64(42), int64(1)).
		WillReturnError(pgx.ErrNoRows)

	_, applied, err := repo.TryDebit(context.Background(), 42, 1)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Empty(t, bus.published())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTryDebit_DatabaseDown(t *testing.T) {
	mock, repo, bus := newMockRepo(t)

	mock.ExpectQuery("UPDATE users").
		WithArgs(int64(42), int64(1)).
		WillReturnError(errors.New("broken pipe"))

	_, applied, err := repo.TryDebit(context.Background(), 42, 1)
	require.ErrorIs(t, err, model.ErrLedgerUnavailable)
	assert.False(t, applied)
	assert.Empty(t, bus.published())
}

func TestTryDebit_RejectsNonPositiveAmount(t *testing.T) {
	_, repo, _ := newMockRepo(t)

	_, _, err := repo.TryDebit(context.Background(), 42, 0)
	require.ErrorIs(t, err, model.ErrInvalidAmount)
}

func TestCredit_NotFound(t *testing.T) {
	mock, repo, _ := newMockRepo(t)

	mock.ExpectQuery("UPDATE users").
		WithArgs(int64(42), int64(10)).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Credit(context.Background(), 42, 10)
	require.ErrorIs(t, err, model.ErrAccountNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredit_Applied(t *testing.T) {
	mock, repo, bus := newMockRepo(t)

	mock.ExpectQuery("UPDATE users").
		WithArgs(int64(42), int64(10)).
		WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(13)))

	balance, err := repo.Credit(context.Background(), 42, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(13), balance)

	entries := bus.published()
	require.Len(t, entries, 1)
	assert.Equal(t, model.EntryCredit, entries[0].Kind)
	assert.Equal(t, int64(10), entries[0].Amount)
}

func TestCredit_PublishFailureDoesNotFail(t *testing.T) {
	mock, repo, bus := newMockRepo(t)
	bus.err = errors.New("nats: connection closed")

	mock.ExpectQuery("UPDATE users").
		WithArgs(int64(42), int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(5)))

	balance, err := repo.Credit(context.Background(), 42, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)
}

func TestJournalRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	entry := model.LedgerEntry{
		EntryID:      "8f14e45f-ceea-467f-a0e6-3b0c1f2a7d10",
		UserID:       42,
		Kind:         model.EntryDebit,
		Amount:       1,
		BalanceAfter: 2,
		CreatedAt:    time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(entry.EntryID, entry.UserID, "debit", entry.Amount, entry.BalanceAfter, entry.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewJournalRepo(mock).Record(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}
