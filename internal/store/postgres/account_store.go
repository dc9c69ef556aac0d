package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	db querier
}

// NewAccountStore creates a new AccountStore backed by the given connection pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{db: pool}
}

const accountSelectCols = `owner, balance_sats::text, last_seen_at`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var (
		a              domain.Account
		owner, balance string
	)
	var lastSeen *time.Time
	if err := row.Scan(&owner, &balance, &lastSeen); err != nil {
		return domain.Account{}, err
	}
	var err error
	if a.Owner, err = parseAddr("owner", owner); err != nil {
		return domain.Account{}, err
	}
	if a.BalanceSats, err = parseU64("balance_sats", balance); err != nil {
		return domain.Account{}, err
	}
	if lastSeen != nil {
		a.LastSeenAt = utc(*lastSeen)
	}
	return a, nil
}

// Upsert inserts or replaces an owner's balance and last activity.
func (s *AccountStore) Upsert(ctx context.Context, a domain.Account) error {
	const query = `
		INSERT INTO accounts (owner, balance_sats, last_seen_at, updated_at)
		VALUES ($1, $2::text::numeric, $3, NOW())
		ON CONFLICT (owner) DO UPDATE SET
			balance_sats = EXCLUDED.balance_sats,
			last_seen_at = EXCLUDED.last_seen_at,
			updated_at   = NOW()`

	var lastSeen *time.Time
	if !a.LastSeenAt.IsZero() {
		t := utc(a.LastSeenAt)
		lastSeen = &t
	}
	if _, err := s.db.Exec(ctx, query, addrParam(a.Owner), u64Param(a.BalanceSats), lastSeen); err != nil {
		return fmt.Errorf("postgres: upsert account %s: %w", a.Owner.Hex(), err)
	}
	return nil
}

// Get returns an owner's account, or domain.ErrNotFound.
func (s *AccountStore) Get(ctx context.Context, owner domain.Address) (domain.Account, error) {
	query := `SELECT ` + accountSelectCols + ` FROM accounts WHERE owner = $1`
	a, err := scanAccount(s.db.QueryRow(ctx, query, addrParam(owner)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", owner.Hex(), err)
	}
	return a, nil
}

// List returns every account ordered by owner.
func (s *AccountStore) List(ctx context.Context) ([]domain.Account, error) {
	query := `SELECT ` + accountSelectCols + ` FROM accounts ORDER BY owner`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list accounts rows: %w", err)
	}
	return out, nil
}
