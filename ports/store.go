package ports

import (
	"context"
	"time"

	"github.com/layer-3/usdcpay/core"
)

// UserStore persists users keyed by id and by lower-cased wallet address.
type UserStore interface {
	// FindOrCreate returns the user owning walletAddress, inserting one if absent.
	// Concurrent calls for the same address return the same user.
	FindOrCreate(ctx context.Context, walletAddress string) (*core.User, error)
	// Create inserts a user and fails with core.ErrUserExists on a unique violation.
	Create(ctx context.Context, walletAddress string, username, email *string) (*core.User, error)
	GetByID(ctx context.Context, id string) (*core.User, error)
	GetByWallet(ctx context.Context, walletAddress string) (*core.User, error)
	UpdateProfile(ctx context.Context, id string, update core.ProfileUpdate) (*core.User, error)
	Search(ctx context.Context, query string, limit int) ([]*core.User, error)
}

// TransactionStore owns transaction records and their status column.
type TransactionStore interface {
	Create(ctx context.Context, tx core.NewTransaction) (*core.Transaction, error)
	GetByID(ctx context.Context, id string) (*core.Transaction, error)
	// ListForUser returns transactions sent or received by userID, newest first.
	ListForUser(ctx context.Context, userID string, limit int) ([]*core.Transaction, error)
	// Claim moves a PENDING transaction to PROCESSING, or fails with core.ErrNotPending.
	Claim(ctx context.Context, id string) (*core.Transaction, error)
	// RecordSubmission stores the broadcast hash on a PROCESSING transaction, or fails with core.ErrNotClaimed.
	RecordSubmission(ctx context.Context, id, hash string) error
	// Finalize moves a PROCESSING transaction to a terminal status, or fails with core.ErrNotClaimed.
	Finalize(ctx context.Context, id string, status core.Status, txHash *string) (*core.Transaction, error)
	// ListProcessing returns PROCESSING transactions last updated before the cutoff, oldest first.
	ListProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]*core.Transaction, error)
}

// Transactor runs fn inside one database transaction. Stores called with the
// context passed to fn take part in that transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NonceStore keeps issued login nonces until they are used or expire.
type NonceStore interface {
	Save(ctx context.Context, nonce string, ttl time.Duration) error
	// Consume deletes the nonce and reports whether it was live.
	Consume(ctx context.Context, nonce string) (bool, error)
}
