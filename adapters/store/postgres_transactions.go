package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/layer-3/usdcpay/core"
	"github.com/layer-3/usdcpay/ports"
)

const transactionColumns = `id, sender_id, recipient_id, recipient_address, amount::text,
	status, tx_hash, submitted_tx_hash, note, created_at, updated_at`

type PostgresTransactionStore struct {
	pool *pgxpool.Pool
}

func NewPostgresTransactionStore(pool *pgxpool.Pool) ports.TransactionStore {
	return &PostgresTransactionStore{pool: pool}
}

func (s *PostgresTransactionStore) Create(ctx context.Context, tx core.NewTransaction) (*core.Transaction, error) {
	row := conn(ctx, s.pool).QueryRow(ctx,
		`INSERT INTO transactions (sender_id, recipient_id, recipient_address, amount, status, note)
		VALUES ($1, $2, $3, $4::numeric, 'PENDING', $5)
		RETURNING `+transactionColumns,
		tx.SenderID, tx.RecipientID, tx.RecipientAddress, tx.Amount, tx.Note,
	)

	created, err := scanTransaction(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	return created, nil
}

func (s *PostgresTransactionStore) GetByID(ctx context.Context, id string) (*core.Transaction, error) {
	if uuid.Validate(id) != nil {
		return nil, core.ErrTransactionNotFound
	}
	return scanTransaction(conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

func (s *PostgresTransactionStore) ListForUser(ctx context.Context, userID string, limit int) ([]*core.Transaction, error) {
	rows, err := conn(ctx, s.pool).Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE  sender_id = $1 OR recipient_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]*core.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

func (s *PostgresTransactionStore) Claim(ctx context.Context, id string) (*core.Transaction, error) {
	if uuid.Validate(id) != nil {
		return nil, core.ErrNotPending
	}

	// Conditional update: at most one caller observes the PENDING row.
	row := conn(ctx, s.pool).QueryRow(ctx,
		`UPDATE transactions
		SET    status = 'PROCESSING', updated_at = NOW()
		WHERE  id = $1 AND status = 'PENDING'
		RETURNING `+transactionColumns,
		id,
	)

	t, err := scanTransaction(row)
	if errors.Is(err, core.ErrTransactionNotFound) {
		return nil, core.ErrNotPending
	}
	return t, err
}

func (s *PostgresTransactionStore) RecordSubmission(ctx context.Context, id, hash string) error {
	tag, err := conn(ctx, s.pool).Exec(ctx,
		`UPDATE transactions
		SET    submitted_tx_hash = $2, updated_at = NOW()
		WHERE  id = $1 AND status = 'PROCESSING'`,
		id, hash,
	)
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotClaimed
	}
	return nil
}

func (s *PostgresTransactionStore) ListProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]*core.Transaction, error) {
	rows, err := conn(ctx, s.pool).Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE  status = 'PROCESSING' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`,
		updatedBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list processing transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]*core.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list processing transactions: %w", err)
	}
	return txs, nil
}

func (s *PostgresTransactionStore) Finalize(ctx context.Context, id string, status core.Status, txHash *string) (*core.Transaction, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("finalize with non-terminal status %q", status)
	}

	row := conn(ctx, s.pool).QueryRow(ctx,
		`UPDATE transactions
		SET    status = $2, tx_hash = $3, updated_at = NOW()
		WHERE  id = $1 AND status = 'PROCESSING'
		RETURNING `+transactionColumns,
		id, string(status), txHash,
	)

	t, err := scanTransaction(row)
	if errors.Is(err, core.ErrTransactionNotFound) {
		return nil, core.ErrNotClaimed
	}
	return t, err
}

func scanTransaction(row pgx.Row) (*core.Transaction, error) {
	var (
		t      core.Transaction
		status string
	)
	err := row.Scan(
		&t.ID, &t.SenderID, &t.RecipientID, &t.RecipientAddress, &t.Amount,
		&status, &t.TxHash, &t.SubmittedHash, &t.Note, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	t.Status = core.Status(status)
	return &t, nil
}
