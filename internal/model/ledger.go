package model

import "time"

// UserAccount is one row of the users table.
type UserAccount struct {
	UserID        int64     `json:"user_id"`
	Username      string    `json:"username,omitempty"`
	FirstName     string    `json:"first_name,omitempty"`
	LastName      string    `json:"last_name,omitempty"`
	Balance       int64     `json:"balance"`
	TotalRequests int64     `json:"total_requests"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Profile carries the display fields stored when an account is first created.
type Profile struct {
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

type EntryKind string

const (
	EntryDebit  EntryKind = "debit"
	EntryCredit EntryKind = "credit"
)

// LedgerEntry is published on the bus after every applied balance mutation.
type LedgerEntry struct {
	EntryID      string    `json:"entry_id"`
	UserID       int64     `json:"user_id"`
	Kind         EntryKind `json:"kind"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

type CreditRequest struct {
	UserID int64 `json:"user_id"`
	Amount int64 `json:"amount"`
}

type CreditResult struct {
	NewBalance int64  `json:"new_balance"`
	Status     string `json:"status"`
}

// FulfillRequest is the inbound payload accepted by the HTTP and NATS transports.
type FulfillRequest struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Text      string `json:"text"`
}

func (r FulfillRequest) Profile() Profile {
	return Profile{Username: r.Username, FirstName: r.FirstName, LastName: r.LastName}
}
