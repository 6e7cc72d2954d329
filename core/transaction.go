package core

import "time"

// Transaction lifecycle event names.
const (
	EventTransactionCreated   = "transaction.created"
	EventTransactionCompleted = "transaction.completed"
	EventTransactionFailed    = "transaction.failed"
)

// Status is the settlement state of a transaction.
type Status string

const (
	StatusPending Status = "PENDING"
	// StatusProcessing marks a transaction claimed by one Execute call; it is
	// never exposed as a settlement outcome.
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transaction is a USDC transfer between two users.
type Transaction struct {
	ID               string
	SenderID         string
	RecipientID      string
	RecipientAddress string
	Amount           string // smallest USDC unit, decimal integer
	Status           Status
	TxHash           *string // set only when Status is COMPLETED
	Note             *string
	CreatedAt        time.Time
	UpdatedAt        time.Time

	// SubmittedHash is the hash of the broadcast transfer, kept for
	// reconciliation whatever the outcome. Never shown to clients.
	SubmittedHash *string
}

// NewTransaction holds the fields needed to persist a PENDING transaction.
type NewTransaction struct {
	SenderID         string
	RecipientID      string
	RecipientAddress string
	Amount           string
	Note             *string
}

// Balance is an on-chain USDC balance.
type Balance struct {
	Address   string
	Raw       string // smallest unit
	Formatted string // 6-decimal fixed point
}
