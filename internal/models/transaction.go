package models

import "time"

// TransactionType tags a ledger entry with the balance change it records.
type TransactionType string

const (
	TransactionDeploymentFee     TransactionType = "deployment_fee"
	TransactionDeploymentRefund  TransactionType = "deployment_refund"
	TransactionDeploymentCharge  TransactionType = "deployment_charge"
	TransactionDeploymentDeleted TransactionType = "deployment_deleted"
)

// Transaction is an immutable, append-only ledger entry. Amount is signed:
// debits are negative, credits positive. A zero amount records an event that
// touched no funds (e.g. a deletion for insufficient balance).
type Transaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Amount      int64           `json:"amount"`
	Type        TransactionType `json:"type"`
	Description string          `json:"description"`
	RelatedID   string          `json:"related_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Wallet tracks a user's coin balance. The balance never goes negative;
// debits that would cross zero are rejected.
type Wallet struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}
