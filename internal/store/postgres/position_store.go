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

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	db querier
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{db: pool}
}

const positionSelectCols = `id, owner, collateral_sats::text, principal_usd::text,
	interest_rate_bps, accrued_interest_usd::text, status,
	opened_at, last_accrual_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                                     domain.Position
		owner, collateral, principal, accrued string
		rateBps                               int64
		status                                string
	)
	if err := row.Scan(
		&p.ID, &owner, &collateral, &principal,
		&rateBps, &accrued, &status,
		&p.OpenedAt, &p.LastAccrualAt, &p.ClosedAt,
	); err != nil {
		return domain.Position{}, err
	}

	var err error
	if p.Owner, err = parseAddr("owner", owner); err != nil {
		return domain.Position{}, err
	}
	if p.CollateralSats, err = parseU64("collateral_sats", collateral); err != nil {
		return domain.Position{}, err
	}
	if p.PrincipalUSD, err = parseUSD("principal_usd", principal); err != nil {
		return domain.Position{}, err
	}
	if p.AccruedInterestUSD, err = parseUSD("accrued_interest_usd", accrued); err != nil {
		return domain.Position{}, err
	}
	if rateBps < 0 || rateBps > int64(^uint32(0)) {
		return domain.Position{}, fmt.Errorf("postgres: column interest_rate_bps: out of range %d", rateBps)
	}
	p.InterestRateBps = uint32(rateBps)
	p.Status = domain.PositionStatus(status)
	p.OpenedAt = utc(p.OpenedAt)
	p.LastAccrualAt = utc(p.LastAccrualAt)
	p.ClosedAt = utcPtr(p.ClosedAt)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Upsert inserts a position or replaces all of its mutable fields.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, owner, collateral_sats, principal_usd,
			interest_rate_bps, accrued_interest_usd, status,
			opened_at, last_accrual_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3::text::numeric, $4::text::numeric,
			$5, $6::text::numeric, $7,
			$8, $9, $10, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			collateral_sats      = EXCLUDED.collateral_sats,
			principal_usd        = EXCLUDED.principal_usd,
			accrued_interest_usd = EXCLUDED.accrued_interest_usd,
			status               = EXCLUDED.status,
			last_accrual_at      = EXCLUDED.last_accrual_at,
			closed_at            = EXCLUDED.closed_at,
			updated_at           = NOW()`

	_, err := s.db.Exec(ctx, query,
		p.ID, addrParam(p.Owner), u64Param(p.CollateralSats), usdParam(p.PrincipalUSD),
		int64(p.InterestRateBps), usdParam(p.AccruedInterestUSD), string(p.Status),
		utc(p.OpenedAt), utc(p.LastAccrualAt), utcPtr(p.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID returns a single position, or domain.ErrNotFound.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	p, err := scanPosition(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListByOwner returns an owner's positions, newest first, with pagination and
// optional filtering on opened_at.
func (s *PositionStore) ListByOwner(ctx context.Context, owner domain.Address, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := newListQuery(`SELECT `+positionSelectCols+` FROM positions`).
		where("owner = ?", addrParam(owner)).
		window("opened_at", opts).
		build("opened_at DESC, id", opts)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", owner.Hex(), err)
	}
	out, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions for %s: %w", owner.Hex(), err)
	}
	return out, nil
}

// ListAll returns every position in opening order. Used to restore the engine.
func (s *PositionStore) ListAll(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions ORDER BY opened_at, id`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	out, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return out, nil
}

// ListClosedBefore returns liquidated or repaid positions closed before the
// cutoff, for archival.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions
		WHERE status <> 'open' AND closed_at < $1
		ORDER BY closed_at`
	rows, err := s.db.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	out, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return out, nil
}
