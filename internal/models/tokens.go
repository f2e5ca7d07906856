package models

import "time"

// TokenTransactionKind classifies a ledger movement.
type TokenTransactionKind string

const (
	TokenSpend    TokenTransactionKind = "spend"
	TokenPurchase TokenTransactionKind = "purchase"
	TokenGrant    TokenTransactionKind = "grant"
	TokenProrate  TokenTransactionKind = "proration"
)

// TokenBalance is a user's spendable token count.
type TokenBalance struct {
	UserID    string    `json:"user_id"`
	Balance   int       `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TokenTransaction records one change to a balance. Reference is unique when
// set and makes credits idempotent.
type TokenTransaction struct {
	ID        string               `json:"id"`
	UserID    string               `json:"user_id"`
	Kind      TokenTransactionKind `json:"kind"`
	Amount    int                  `json:"amount"`
	Channel   *string              `json:"channel,omitempty"`
	Reference *string              `json:"reference,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

// UsageCounts are the quota-relevant counts for a user.
type UsageCounts struct {
	Contacts int `json:"contacts"`
	Events   int `json:"events"`
}
