package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL. Every successful
// engine mutation made through the service layer leaves one row.
type AuditStore struct {
	db querier
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{db: pool}
}

// Log appends an entry. The detail map is stored as JSONB, so amounts that
// must survive exactly should already be decimal strings.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: encode detail: %w", event, err)
	}
	if _, err := s.db.Exec(ctx, `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, payload); err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first, filtered by opts.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := newListQuery(`SELECT id, event, detail, created_at FROM audit_log`).
		window("created_at", opts).
		build("created_at DESC, id DESC", opts)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanAuditEntry)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	return entries, nil
}

func scanAuditEntry(row pgx.CollectableRow) (domain.AuditEntry, error) {
	var (
		e       domain.AuditEntry
		payload []byte
	)
	if err := row.Scan(&e.ID, &e.Event, &payload, &e.CreatedAt); err != nil {
		return domain.AuditEntry{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Detail); err != nil {
			return domain.AuditEntry{}, fmt.Errorf("decode detail of entry %d: %w", e.ID, err)
		}
	}
	e.CreatedAt = utc(e.CreatedAt)
	return e, nil
}
