package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/layer-3/usdcpay/core"
	"github.com/layer-3/usdcpay/ports"
)

const userColumns = `id, wallet_address, username, email, created_at, updated_at`

type PostgresUserStore struct {
	pool *pgxpool.Pool
}

func NewPostgresUserStore(pool *pgxpool.Pool) ports.UserStore {
	return &PostgresUserStore{pool: pool}
}

func (s *PostgresUserStore) FindOrCreate(ctx context.Context, walletAddress string) (*core.User, error) {
	q := conn(ctx, s.pool)

	_, err := q.Exec(ctx,
		`INSERT INTO users (wallet_address) VALUES ($1) ON CONFLICT (wallet_address) DO NOTHING`,
		walletAddress,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	return scanUser(q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE wallet_address = $1`, walletAddress))
}

func (s *PostgresUserStore) Create(ctx context.Context, walletAddress string, username, email *string) (*core.User, error) {
	row := conn(ctx, s.pool).QueryRow(ctx,
		`INSERT INTO users (wallet_address, username, email) VALUES ($1, $2, $3)
		RETURNING `+userColumns,
		walletAddress, username, email,
	)

	u, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, core.ErrUserExists
		}
		return nil, err
	}
	return u, nil
}

func (s *PostgresUserStore) GetByID(ctx context.Context, id string) (*core.User, error) {
	if uuid.Validate(id) != nil {
		return nil, core.ErrUserNotFound
	}
	return scanUser(conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *PostgresUserStore) GetByWallet(ctx context.Context, walletAddress string) (*core.User, error) {
	return scanUser(conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE wallet_address = $1`, walletAddress))
}

func (s *PostgresUserStore) UpdateProfile(ctx context.Context, id string, update core.ProfileUpdate) (*core.User, error) {
	row := conn(ctx, s.pool).QueryRow(ctx,
		`UPDATE users
		SET    username   = COALESCE($2, username),
		       email      = COALESCE($3, email),
		       updated_at = NOW()
		WHERE  id = $1
		RETURNING `+userColumns,
		id, update.Username, update.Email,
	)

	u, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, core.ErrUserExists
		}
		return nil, err
	}
	return u, nil
}

func (s *PostgresUserStore) Search(ctx context.Context, query string, limit int) ([]*core.User, error) {
	pattern := "%" + escapeLike(query) + "%"

	rows, err := conn(ctx, s.pool).Query(ctx,
		`SELECT `+userColumns+` FROM users
		WHERE  username ILIKE $1 OR wallet_address ILIKE $1
		ORDER BY created_at DESC
		LIMIT $2`,
		pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	users := make([]*core.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func scanUser(row pgx.Row) (*core.User, error) {
	var u core.User
	err := row.Scan(&u.ID, &u.WalletAddress, &u.Username, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
