package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"promptmeter/internal/model"
)

// DBTX is the subset of *pgxpool.Pool the repositories need.
// Every call runs as its own autocommit statement on a pooled connection.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	selectUserQuery = `
		SELECT user_id, username, first_name, last_name, balance, total_requests, created_at, updated_at
		FROM users WHERE user_id = $1`

	insertUserQuery = `
		INSERT INTO users (user_id, username, first_name, last_name, balance)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO NOTHING`

	// The WHERE clause is the whole non-negativity guarantee: the row is only
	// touched if the debit leaves balance >= 0.
	debitQuery = `
		UPDATE users
		SET balance = balance - $2, total_requests = total_requests + 1, updated_at = now()
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance`

	creditQuery = `
		UPDATE users
		SET balance = balance + $2, updated_at = now()
		WHERE user_id = $1
		RETURNING balance`
)

// LedgerRepo is the Postgres ledger store.
type LedgerRepo struct {
	db             DBTX
	bus            MessageBus
	defaultBalance int64
}

func NewLedgerRepo(db DBTX, bus MessageBus, defaultBalance int64) *LedgerRepo {
	if bus == nil {
		bus = NopBus{}
	}
	return &LedgerRepo{
		db:             db,
		bus:            bus,
		defaultBalance: defaultBalance,
	}
}

// GetOrCreate returns the account, inserting it with the starting balance if absent.
// Concurrent first contacts race on the primary key; ON CONFLICT makes the losers no-ops.
func (r *LedgerRepo) GetOrCreate(ctx context.Context, userID int64, profile model.Profile) (*model.UserAccount, error) {
	acc, err := r.get(ctx, userID)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, unavailable("select user", err)
	}

	_, err = r.db.Exec(ctx, insertUserQuery,
		userID, profile.Username, profile.FirstName, profile.LastName, r.defaultBalance)
	if err != nil {
		return nil, unavailable("insert user", err)
	}

	acc, err = r.get(ctx, userID)
	if err != nil {
		return nil, unavailable("select user after insert", err)
	}

	slog.Info("ledger: account created", "user_id", userID, "balance", acc.Balance)
	return acc, nil
}

// Get returns the account without registering it.
func (r *LedgerRepo) Get(ctx context.Context, userID int64) (*model.UserAccount, error) {
	acc, err := r.get(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrAccountNotFound
	}
	if err != nil {
		return nil, unavailable("select user", err)
	}
	return acc, nil
}

func (r *LedgerRepo) get(ctx context.Context, userID int64) (*model.UserAccount, error) {
	var acc model.UserAccount
	err := r.db.QueryRow(ctx, selectUserQuery, userID).Scan(
		&acc.UserID,
		&acc.Username,
		&acc.FirstName,
		&acc.LastName,
		&acc.Balance,
		&acc.TotalRequests,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// TryDebit subtracts amount only if the balance stays non-negative.
// applied is false when the balance is too low or the account does not exist.
func (r *LedgerRepo) TryDebit(ctx context.Context, userID int64, amount int64) (int64, bool, error) {
	if amount <= 0 {
		return 0, false, model.ErrInvalidAmount
	}

	var balance int64
	err := r.db.QueryRow(ctx, debitQuery, userID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable("debit", err)
	}

	publishEntry(r.bus, userID, model.EntryDebit, amount, balance)
	return balance, true, nil
}

func (r *LedgerRepo) Credit(ctx context.Context, userID int64, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, model.ErrInvalidAmount
	}

	var balance int64
	err := r.db.QueryRow(ctx, creditQuery, userID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, model.ErrAccountNotFound
	}
	if err != nil {
		return 0, unavailable("credit", err)
	}

	publishEntry(r.bus, userID, model.EntryCredit, amount, balance)
	return balance, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", model.ErrLedgerUnavailable, op, err)
}
