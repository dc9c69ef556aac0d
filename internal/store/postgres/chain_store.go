package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// ChainStore implements domain.ChainStore using PostgreSQL. Removed chains
// keep a row with supported = false so a restart does not fall back to the
// configured defaults.
type ChainStore struct {
	db querier
}

// NewChainStore creates a new ChainStore backed by the given connection pool.
func NewChainStore(pool *pgxpool.Pool) *ChainStore {
	return &ChainStore{db: pool}
}

// Set records whether chain is on the allow-list.
func (s *ChainStore) Set(ctx context.Context, chain domain.ChainSelector, supported bool) error {
	const query = `
		INSERT INTO chains (selector, supported, updated_at)
		VALUES ($1::text::numeric, $2, NOW())
		ON CONFLICT (selector) DO UPDATE SET
			supported  = EXCLUDED.supported,
			updated_at = NOW()`
	if _, err := s.db.Exec(ctx, query, u64Param(uint64(chain)), supported); err != nil {
		return fmt.Errorf("postgres: set chain %s: %w", chain, err)
	}
	return nil
}

// List returns every recorded chain. An empty result means the allow-list
// was never changed at runtime.
func (s *ChainStore) List(ctx context.Context) (map[domain.ChainSelector]bool, error) {
	rows, err := s.db.Query(ctx, `SELECT selector::text, supported FROM chains`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list chains: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.ChainSelector]bool)
	for rows.Next() {
		var (
			sel       string
			supported bool
		)
		if err := rows.Scan(&sel, &supported); err != nil {
			return nil, fmt.Errorf("postgres: scan chain: %w", err)
		}
		n, err := parseU64("selector", sel)
		if err != nil {
			return nil, err
		}
		out[domain.ChainSelector(n)] = supported
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list chains rows: %w", err)
	}
	return out, nil
}
