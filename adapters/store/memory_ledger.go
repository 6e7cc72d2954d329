package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/usdcpay/core"
	"github.com/layer-3/usdcpay/ports"
)

// MemoryLedger keeps users and transactions in process memory. It implements
// UserStore, TransactionStore and Transactor, and is meant for tests and
// local runs without Postgres.
type MemoryLedger struct {
	mu     sync.Mutex
	users  map[string]*core.User
	wallet map[string]string // wallet address -> user id
	txs    map[string]*core.Transaction
	seq    map[string]int64 // insertion order, breaks created_at ties
	next   int64
	now    func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		users:  make(map[string]*core.User),
		wallet: make(map[string]string),
		txs:    make(map[string]*core.Transaction),
		seq:    make(map[string]int64),
		now:    time.Now,
	}
}

var (
	_ ports.UserStore        = (*MemoryLedger)(nil)
	_ ports.TransactionStore = (*memoryTransactions)(nil)
	_ ports.Transactor       = (*MemoryLedger)(nil)
)

// Transactions returns the TransactionStore view of the ledger.
func (m *MemoryLedger) Transactions() ports.TransactionStore {
	return (*memoryTransactions)(m)
}

// InTx runs fn directly; every single store call is already atomic.
func (m *MemoryLedger) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *MemoryLedger) FindOrCreate(ctx context.Context, walletAddress string) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.wallet[walletAddress]; ok {
		return copyUser(m.users[id]), nil
	}
	return copyUser(m.insertUser(walletAddress, nil, nil)), nil
}

func (m *MemoryLedger) Create(ctx context.Context, walletAddress string, username, email *string) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.wallet[walletAddress]; ok {
		return nil, core.ErrUserExists
	}
	if username != nil && m.usernameTaken(*username, "") {
		return nil, core.ErrUserExists
	}
	return copyUser(m.insertUser(walletAddress, username, email)), nil
}

func (m *MemoryLedger) GetByID(ctx context.Context, id string) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	return copyUser(u), nil
}

func (m *MemoryLedger) GetByWallet(ctx context.Context, walletAddress string) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.wallet[walletAddress]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	return copyUser(m.users[id]), nil
}

func (m *MemoryLedger) UpdateProfile(ctx context.Context, id string, update core.ProfileUpdate) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	if update.Username != nil && m.usernameTaken(*update.Username, id) {
		return nil, core.ErrUserExists
	}
	if update.Username != nil {
		u.Username = strPtr(*update.Username)
	}
	if update.Email != nil {
		u.Email = strPtr(*update.Email)
	}
	u.UpdatedAt = m.now()
	return copyUser(u), nil
}

func (m *MemoryLedger) Search(ctx context.Context, query string, limit int) ([]*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := strings.ToLower(query)
	matches := make([]*core.User, 0)
	for _, u := range m.users {
		name := ""
		if u.Username != nil {
			name = strings.ToLower(*u.Username)
		}
		if strings.Contains(name, q) || strings.Contains(u.WalletAddress, q) {
			matches = append(matches, copyUser(u))
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return m.seq[matches[i].ID] > m.seq[matches[j].ID]
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (m *MemoryLedger) insertUser(walletAddress string, username, email *string) *core.User {
	now := m.now()
	u := &core.User{
		ID:            uuid.NewString(),
		WalletAddress: walletAddress,
		Username:      username,
		Email:         email,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.users[u.ID] = u
	m.wallet[walletAddress] = u.ID
	m.bump(u.ID)
	return u
}

func (m *MemoryLedger) usernameTaken(username, exceptID string) bool {
	for id, u := range m.users {
		if id != exceptID && u.Username != nil && *u.Username == username {
			return true
		}
	}
	return false
}

func (m *MemoryLedger) bump(id string) {
	m.next++
	m.seq[id] = m.next
}

type memoryTransactions MemoryLedger

func (t *memoryTransactions) ledger() *MemoryLedger { return (*MemoryLedger)(t) }

func (t *memoryTransactions) Create(ctx context.Context, nt core.NewTransaction) (*core.Transaction, error) {
	m := t.ledger()
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[nt.SenderID]; !ok {
		return nil, core.ErrUserNotFound
	}
	if _, ok := m.users[nt.RecipientID]; !ok {
		return nil, core.ErrUserNotFound
	}

	now := m.now()
	tx := &core.Transaction{
		ID:               uuid.NewString(),
		SenderID:         nt.SenderID,
		RecipientID:      nt.RecipientID,
		RecipientAddress: nt.RecipientAddress,
		Amount:           nt.Amount,
		Status:           core.StatusPending,
		Note:             nt.Note,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.txs[tx.ID] = tx
	m.bump(tx.ID)
	return copyTransaction(tx), nil
}

func (t *memoryTransactions) GetByID(ctx context.Context, id string) (*core.Transaction, error) {
	m := t.ledger()
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[id]
	if !ok {
		return nil, core.ErrTransactionNotFound
	}
	return copyTransaction(tx), nil
}

func (t *memoryTransactions) ListForUser(ctx context.Context, userID string, limit int) ([]*core.Transaction, error) {
	m := t.ledger()
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*core.Transaction, 0)
	for _, tx := range m.txs {
		if tx.SenderID == userID || tx.RecipientID == userID {
			out = append(out, copyTransaction(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return m.seq[out[i].ID] > m.seq[out[j].ID]
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memoryTransactions) Claim(ctx context.Context, id string) (*core.Transaction, error) {
	m := t.ledger()
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[id]
	if !ok || tx.Status != core.StatusPending {
		return nil, core.ErrNotPending
	}
	tx.Status = core.StatusProcessing
	tx.UpdatedAt = m.now()
	return copyTransaction(tx), nil
}

func (t *memoryTransactions) Finalize(ctx context.Context, id string, status core.Status, txHash *string) (*core.Transaction, error) {
	m := t.ledger()
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[id]
	if !ok || tx.Status != core.StatusProcessing || !status.Terminal() {
		return nil, core.ErrNotClaimed
	}
	tx.Status = status
	tx.TxHash = nil
	if txHash != nil {
		tx.TxHash = strPtr(*txHash)
	}
	tx.UpdatedAt = m.now()
	return copyTransaction(tx), nil
}

func (t *memoryTransactions) RecordSubmission(ctx context.Context, id, hash string) error {
	m := t.ledger()
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[id]
	if !ok || tx.Status != core.StatusProcessing {
		return core.ErrNotClaimed
	}
	tx.SubmittedHash = strPtr(hash)
	tx.UpdatedAt = m.now()
	return nil
}

func (t *memoryTransactions) ListProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]*core.Transaction, error) {
	m := t.ledger()
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*core.Transaction, 0)
	for _, tx := range m.txs {
		if tx.Status == core.StatusProcessing && tx.UpdatedAt.Before(updatedBefore) {
			out = append(out, copyTransaction(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyUser(u *core.User) *core.User {
	c := *u
	if u.Username != nil {
		c.Username = strPtr(*u.Username)
	}
	if u.Email != nil {
		c.Email = strPtr(*u.Email)
	}
	return &c
}

func copyTransaction(t *core.Transaction) *core.Transaction {
	c := *t
	if t.TxHash != nil {
		c.TxHash = strPtr(*t.TxHash)
	}
	if t.SubmittedHash != nil {
		c.SubmittedHash = strPtr(*t.SubmittedHash)
	}
	if t.Note != nil {
		c.Note = strPtr(*t.Note)
	}
	return &c
}

func strPtr(s string) *string { return &s }
