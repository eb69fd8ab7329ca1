package repository

import (
	"context"
	"sync"
	"time"

	"promptmeter/internal/model"
)

// MemoryLedgerRepo is a process-local ledger store for development and tests.
// A single mutex serializes every operation.
type MemoryLedgerRepo struct {
	mu             sync.Mutex
	accounts       map[int64]*model.UserAccount
	bus            MessageBus
	defaultBalance int64
}

func NewMemoryLedgerRepo(bus MessageBus, defaultBalance int64) *MemoryLedgerRepo {
	if bus == nil {
		bus = NopBus{}
	}
	return &MemoryLedgerRepo{
		accounts:       make(map[int64]*model.UserAccount),
		bus:            bus,
		defaultBalance: defaultBalance,
	}
}

func (r *MemoryLedgerRepo) GetOrCreate(_ context.Context, userID int64, profile model.Profile) (*model.UserAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[userID]
	if !ok {
		now := time.Now().UTC()
		acc = &model.UserAccount{
			UserID:    userID,
			Username:  profile.Username,
			FirstName: profile.FirstName,
			LastName:  profile.LastName,
			Balance:   r.defaultBalance,
			CreatedAt: now,
			UpdatedAt: now,
		}
		r.accounts[userID] = acc
	}

	cp := *acc
	return &cp, nil
}

func (r *MemoryLedgerRepo) Get(_ context.Context, userID int64) (*model.UserAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[userID]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (r *MemoryLedgerRepo) TryDebit(_ context.Context, userID int64, amount int64) (int64, bool, error) {
	if amount <= 0 {
		return 0, false, model.ErrInvalidAmount
	}

	r.mu.Lock()
	acc, ok := r.accounts[userID]
	if !ok || acc.Balance-amount < 0 {
		r.mu.Unlock()
		return 0, false, nil
	}
	acc.Balance -= amount
	acc.TotalRequests++
	acc.UpdatedAt = time.Now().UTC()
	balance := acc.Balance
	r.mu.Unlock()

	publishEntry(r.bus, userID, model.EntryDebit, amount, balance)
	return balance, true, nil
}

func (r *MemoryLedgerRepo) Credit(_ context.Context, userID int64, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, model.ErrInvalidAmount
	}

	r.mu.Lock()
	acc, ok := r.accounts[userID]
	if !ok {
		r.mu.Unlock()
		return 0, model.ErrAccountNotFound
	}
	acc.Balance += amount
	acc.UpdatedAt = time.Now().UTC()
	balance := acc.Balance
	r.mu.Unlock()

	publishEntry(r.bus, userID, model.EntryCredit, amount, balance)
	return balance, nil
}
