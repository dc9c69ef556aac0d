package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// WillStore implements domain.WillStore using PostgreSQL. Beneficiaries and
// the release distribution are JSONB arrays that keep their order.
type WillStore struct {
	db querier
}

// NewWillStore creates a new WillStore backed by the given connection pool.
func NewWillStore(pool *pgxpool.Pool) *WillStore {
	return &WillStore{db: pool}
}

// shareRow is the JSONB element of will_plans.beneficiaries.
type shareRow struct {
	Address  string `json:"address"`
	ShareBps uint32 `json:"share_bps"`
}

// transferRow is the JSONB element of will_plans.distribution. Sats is a
// string so values above 2^53 survive JSON consumers.
type transferRow struct {
	To   string `json:"to"`
	Sats string `json:"sats"`
}

const willSelectCols = `owner, beneficiaries, executor, require_executor_approval,
	kyc_verifier, status, distribution, created_at, updated_at, released_at`

func encodeBeneficiaries(bs []domain.Beneficiary) ([]byte, error) {
	rows := make([]shareRow, 0, len(bs))
	for _, b := range bs {
		rows = append(rows, shareRow{Address: b.Address.Hex(), ShareBps: b.ShareBps})
	}
	return json.Marshal(rows)
}

func decodeBeneficiaries(data []byte) ([]domain.Beneficiary, error) {
	var rows []shareRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("postgres: column beneficiaries: %w", err)
	}
	var out []domain.Beneficiary
	for _, r := range rows {
		addr, err := parseAddr("beneficiaries", r.Address)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Beneficiary{Address: addr, ShareBps: r.ShareBps})
	}
	return out, nil
}

func encodeDistribution(ts []domain.Transfer) ([]byte, error) {
	rows := make([]transferRow, 0, len(ts))
	for _, t := range ts {
		rows = append(rows, transferRow{To: t.To.Hex(), Sats: u64Param(t.Sats)})
	}
	return json.Marshal(rows)
}

func decodeDistribution(data []byte) ([]domain.Transfer, error) {
	var rows []transferRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("postgres: column distribution: %w", err)
	}
	var out []domain.Transfer
	for _, r := range rows {
		to, err := parseAddr("distribution", r.To)
		if err != nil {
			return nil, err
		}
		sats, err := parseU64("distribution", r.Sats)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Transfer{To: to, Sats: sats})
	}
	return out, nil
}

func scanPlan(row pgx.Row) (domain.WillPlan, error) {
	var (
		p                       domain.WillPlan
		owner, executor, status string
		verifier                *string
		beneficiaries, dist     []byte
	)
	if err := row.Scan(
		&owner, &beneficiaries, &executor, &p.RequireExecutorApproval,
		&verifier, &status, &dist, &p.CreatedAt, &p.UpdatedAt, &p.ReleasedAt,
	); err != nil {
		return domain.WillPlan{}, err
	}

	var err error
	if p.Owner, err = parseAddr("owner", owner); err != nil {
		return domain.WillPlan{}, err
	}
	if p.Executor, err = parseAddr("executor", executor); err != nil {
		return domain.WillPlan{}, err
	}
	if verifier != nil {
		v, err := parseAddr("kyc_verifier", *verifier)
		if err != nil {
			return domain.WillPlan{}, err
		}
		p.KYCVerifier = &v
	}
	if p.Beneficiaries, err = decodeBeneficiaries(beneficiaries); err != nil {
		return domain.WillPlan{}, err
	}
	if p.Distribution, err = decodeDistribution(dist); err != nil {
		return domain.WillPlan{}, err
	}
	p.Status = domain.WillStatus(status)
	p.CreatedAt = utc(p.CreatedAt)
	p.UpdatedAt = utc(p.UpdatedAt)
	p.ReleasedAt = utcPtr(p.ReleasedAt)
	return p, nil
}

func scanPlans(rows pgx.Rows) ([]domain.WillPlan, error) {
	defer rows.Close()
	var out []domain.WillPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces an owner's plan. A replaced terminal plan is
// overwritten; history lives in the audit log and the S3 archive.
func (s *WillStore) Upsert(ctx context.Context, p domain.WillPlan) error {
	const query = `
		INSERT INTO will_plans (
			owner, beneficiaries, executor, require_executor_approval,
			kyc_verifier, status, distribution, created_at, updated_at, released_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (owner) DO UPDATE SET
			beneficiaries             = EXCLUDED.beneficiaries,
			executor                  = EXCLUDED.executor,
			require_executor_approval = EXCLUDED.require_executor_approval,
			kyc_verifier              = EXCLUDED.kyc_verifier,
			status                    = EXCLUDED.status,
			distribution              = EXCLUDED.distribution,
			created_at                = EXCLUDED.created_at,
			updated_at                = EXCLUDED.updated_at,
			released_at               = EXCLUDED.released_at`

	beneficiaries, err := encodeBeneficiaries(p.Beneficiaries)
	if err != nil {
		return fmt.Errorf("postgres: marshal beneficiaries for %s: %w", p.Owner.Hex(), err)
	}
	dist, err := encodeDistribution(p.Distribution)
	if err != nil {
		return fmt.Errorf("postgres: marshal distribution for %s: %w", p.Owner.Hex(), err)
	}
	var verifier *string
	if p.KYCVerifier != nil {
		v := addrParam(*p.KYCVerifier)
		verifier = &v
	}

	_, err = s.db.Exec(ctx, query,
		addrParam(p.Owner), beneficiaries, addrParam(p.Executor), p.RequireExecutorApproval,
		verifier, string(p.Status), dist, utc(p.CreatedAt), utc(p.UpdatedAt), utcPtr(p.ReleasedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert will plan %s: %w", p.Owner.Hex(), err)
	}
	return nil
}

// Get returns an owner's plan, or domain.ErrNotFound.
func (s *WillStore) Get(ctx context.Context, owner domain.Address) (domain.WillPlan, error) {
	query := `SELECT ` + willSelectCols + ` FROM will_plans WHERE owner = $1`
	p, err := scanPlan(s.db.QueryRow(ctx, query, addrParam(owner)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WillPlan{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.WillPlan{}, fmt.Errorf("postgres: get will plan %s: %w", owner.Hex(), err)
	}
	return p, nil
}

// List returns every plan ordered by owner.
func (s *WillStore) List(ctx context.Context) ([]domain.WillPlan, error) {
	query := `SELECT ` + willSelectCols + ` FROM will_plans ORDER BY owner`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list will plans: %w", err)
	}
	out, err := scanPlans(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan will plans: %w", err)
	}
	return out, nil
}

// ListTerminalBefore returns released or revoked plans last changed before
// the cutoff.
func (s *WillStore) ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.WillPlan, error) {
	query := `SELECT ` + willSelectCols + `
		FROM will_plans
		WHERE status IN ('released', 'revoked') AND updated_at < $1
		ORDER BY updated_at`
	rows, err := s.db.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal will plans: %w", err)
	}
	out, err := scanPlans(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan terminal will plans: %w", err)
	}
	return out, nil
}
