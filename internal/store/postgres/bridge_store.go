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

// BridgeStore implements domain.BridgeStore using PostgreSQL.
type BridgeStore struct {
	db querier
}

// NewBridgeStore creates a new BridgeStore backed by the given connection pool.
func NewBridgeStore(pool *pgxpool.Pool) *BridgeStore {
	return &BridgeStore{db: pool}
}

const bridgeSelectCols = `direction, source_chain::text, sender, nonce::text,
	dest_chain::text, recipient, amount_sats::text, status, created_at, updated_at`

func scanMessage(row pgx.Row) (domain.BridgeMessage, error) {
	var (
		m                                        domain.BridgeMessage
		direction, status                        string
		source, sender, nonce, dest, recip, amnt string
	)
	if err := row.Scan(
		&direction, &source, &sender, &nonce,
		&dest, &recip, &amnt, &status, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return domain.BridgeMessage{}, err
	}

	src, err := parseU64("source_chain", source)
	if err != nil {
		return domain.BridgeMessage{}, err
	}
	dst, err := parseU64("dest_chain", dest)
	if err != nil {
		return domain.BridgeMessage{}, err
	}
	m.SourceChain = domain.ChainSelector(src)
	m.DestChain = domain.ChainSelector(dst)
	if m.Sender, err = parseAddr("sender", sender); err != nil {
		return domain.BridgeMessage{}, err
	}
	if m.Recipient, err = parseAddr("recipient", recip); err != nil {
		return domain.BridgeMessage{}, err
	}
	if m.Nonce, err = parseU64("nonce", nonce); err != nil {
		return domain.BridgeMessage{}, err
	}
	if m.AmountSats, err = parseU64("amount_sats", amnt); err != nil {
		return domain.BridgeMessage{}, err
	}
	m.Direction = domain.BridgeDirection(direction)
	m.Status = domain.BridgeStatus(status)
	m.CreatedAt = utc(m.CreatedAt)
	m.UpdatedAt = utc(m.UpdatedAt)
	return m, nil
}

func scanMessages(rows pgx.Rows) ([]domain.BridgeMessage, error) {
	defer rows.Close()
	var out []domain.BridgeMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Upsert inserts a message or updates its status. The key fields and amount
// never change once written.
func (s *BridgeStore) Upsert(ctx context.Context, m domain.BridgeMessage) error {
	const query = `
		INSERT INTO bridge_messages (
			direction, source_chain, sender, nonce,
			dest_chain, recipient, amount_sats, status, created_at, updated_at
		) VALUES (
			$1, $2::text::numeric, $3, $4::text::numeric,
			$5::text::numeric, $6, $7::text::numeric, $8, $9, $10
		)
		ON CONFLICT (direction, source_chain, sender, nonce) DO UPDATE SET
			status     = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.Exec(ctx, query,
		string(m.Direction), u64Param(uint64(m.SourceChain)), addrParam(m.Sender), u64Param(m.Nonce),
		u64Param(uint64(m.DestChain)), addrParam(m.Recipient), u64Param(m.AmountSats),
		string(m.Status), utc(m.CreatedAt), utc(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert %s bridge message %s: %w", m.Direction, m.Key(), err)
	}
	return nil
}

// Get returns one message by direction and key, or domain.ErrNotFound.
func (s *BridgeStore) Get(ctx context.Context, dir domain.BridgeDirection, key domain.MessageKey) (domain.BridgeMessage, error) {
	query := `SELECT ` + bridgeSelectCols + `
		FROM bridge_messages
		WHERE direction = $1 AND source_chain = $2::text::numeric AND sender = $3 AND nonce = $4::text::numeric`
	m, err := scanMessage(s.db.QueryRow(ctx, query,
		string(dir), u64Param(uint64(key.SourceChain)), addrParam(key.Sender), u64Param(key.Nonce)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BridgeMessage{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.BridgeMessage{}, fmt.Errorf("postgres: get bridge message %s: %w", key, err)
	}
	return m, nil
}

// ListOutbox returns outbound messages from sender, newest first. The zero
// address lists every sender.
func (s *BridgeStore) ListOutbox(ctx context.Context, sender domain.Address, opts domain.ListOpts) ([]domain.BridgeMessage, error) {
	q := newListQuery(`SELECT `+bridgeSelectCols+` FROM bridge_messages`).
		where("direction = ?", string(domain.BridgeOutbound))
	if sender != domain.ZeroAddress {
		q.where("sender = ?", addrParam(sender))
	}
	query, args := q.window("created_at", opts).build("created_at DESC, nonce DESC", opts)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outbox: %w", err)
	}
	out, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan outbox: %w", err)
	}
	return out, nil
}

// ListAll returns every message. Used to restore the engine's outbox, replay
// set and nonce counters.
func (s *BridgeStore) ListAll(ctx context.Context) ([]domain.BridgeMessage, error) {
	query := `SELECT ` + bridgeSelectCols + ` FROM bridge_messages ORDER BY created_at, direction`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bridge messages: %w", err)
	}
	out, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bridge messages: %w", err)
	}
	return out, nil
}

// ListSettledBefore returns delivered or rejected messages last changed
// before the cutoff. Settled rows stay in place after archival since the
// inbound ones are the replay set.
func (s *BridgeStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.BridgeMessage, error) {
	query := `SELECT ` + bridgeSelectCols + `
		FROM bridge_messages
		WHERE status <> 'pending' AND updated_at < $1
		ORDER BY updated_at`
	rows, err := s.db.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled bridge messages: %w", err)
	}
	out, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settled bridge messages: %w", err)
	}
	return out, nil
}
