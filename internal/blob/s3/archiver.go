package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/bitpesa/bitpesa/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// Narrow read interfaces over the stores. The Postgres and in-memory stores
// satisfy them directly.
type (
	PositionSource interface {
		ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error)
	}
	PlanSource interface {
		ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.WillPlan, error)
	}
	MessageSource interface {
		ListSettledBefore(ctx context.Context, before time.Time) ([]domain.BridgeMessage, error)
	}
)

// multipartWriter is implemented by Writer; large batches use it.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// ArchiveImpl implements domain.Archiver by serialising settled records to
// JSONL and uploading one object per kind and cutoff. Records stay in the
// primary store: inbound bridge messages double as the replay set.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	positions PositionSource
	plans     PlanSource
	messages  MessageSource
	audit     domain.AuditStore
}

// NewArchiver creates an ArchiveImpl. reader may be nil, in which case an
// existing object for the same cutoff is overwritten.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	positions PositionSource,
	plans PlanSource,
	messages MessageSource,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		reader:    reader,
		positions: positions,
		plans:     plans,
		messages:  messages,
		audit:     audit,
	}
}

// positionRecord is the archived shape of a position. USD8 amounts are
// decimal strings of 1e-8 dollars.
type positionRecord struct {
	ID                 string     `json:"id"`
	Owner              string     `json:"owner"`
	CollateralSats     uint64     `json:"collateral_sats"`
	PrincipalUSD       string     `json:"principal_usd8"`
	InterestRateBps    uint32     `json:"interest_rate_bps"`
	AccruedInterestUSD string     `json:"accrued_interest_usd8"`
	Status             string     `json:"status"`
	OpenedAt           time.Time  `json:"opened_at"`
	LastAccrualAt      time.Time  `json:"last_accrual_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
}

type planRecord struct {
	Owner         string           `json:"owner"`
	Executor      string           `json:"executor"`
	Status        string           `json:"status"`
	Beneficiaries []shareRecord    `json:"beneficiaries"`
	Distribution  []transferRecord `json:"distribution,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
	ReleasedAt    *time.Time       `json:"released_at,omitempty"`
}

type shareRecord struct {
	Address  string `json:"address"`
	ShareBps uint32 `json:"share_bps"`
}

type transferRecord struct {
	To   string `json:"to"`
	Sats uint64 `json:"sats"`
}

type messageRecord struct {
	Direction   string    `json:"direction"`
	SourceChain string    `json:"source_chain"`
	DestChain   string    `json:"dest_chain"`
	Sender      string    `json:"sender"`
	Recipient   string    `json:"recipient"`
	AmountSats  uint64    `json:"amount_sats"`
	Nonce       uint64    `json:"nonce"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ArchivePositions uploads repaid and liquidated positions closed before the
// cutoff.
func (a *ArchiveImpl) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	ps, err := a.positions.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	recs := make([]positionRecord, 0, len(ps))
	for _, p := range ps {
		recs = append(recs, positionRecord{
			ID:                 p.ID,
			Owner:              p.Owner.Hex(),
			CollateralSats:     p.CollateralSats,
			PrincipalUSD:       p.PrincipalUSD.Dec(),
			InterestRateBps:    p.InterestRateBps,
			AccruedInterestUSD: p.AccruedInterestUSD.Dec(),
			Status:             string(p.Status),
			OpenedAt:           p.OpenedAt,
			LastAccrualAt:      p.LastAccrualAt,
			ClosedAt:           p.ClosedAt,
		})
	}
	return upload(ctx, a, "positions", before, recs)
}

// ArchivePlans uploads released and revoked will plans last changed before
// the cutoff.
func (a *ArchiveImpl) ArchivePlans(ctx context.Context, before time.Time) (int64, error) {
	plans, err := a.plans.ListTerminalBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive plans query: %w", err)
	}
	recs := make([]planRecord, 0, len(plans))
	for _, p := range plans {
		rec := planRecord{
			Owner:      p.Owner.Hex(),
			Executor:   p.Executor.Hex(),
			Status:     string(p.Status),
			UpdatedAt:  p.UpdatedAt,
			ReleasedAt: p.ReleasedAt,
		}
		for _, b := range p.Beneficiaries {
			rec.Beneficiaries = append(rec.Beneficiaries, shareRecord{Address: b.Address.Hex(), ShareBps: b.ShareBps})
		}
		for _, t := range p.Distribution {
			rec.Distribution = append(rec.Distribution, transferRecord{To: t.To.Hex(), Sats: t.Sats})
		}
		recs = append(recs, rec)
	}
	return upload(ctx, a, "wills", before, recs)
}

// ArchiveBridgeMessages uploads delivered and rejected messages in both
// directions last changed before the cutoff.
func (a *ArchiveImpl) ArchiveBridgeMessages(ctx context.Context, before time.Time) (int64, error) {
	msgs, err := a.messages.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive bridge messages query: %w", err)
	}
	recs := make([]messageRecord, 0, len(msgs))
	for _, m := range msgs {
		recs = append(recs, messageRecord{
			Direction:   string(m.Direction),
			SourceChain: m.SourceChain.String(),
			DestChain:   m.DestChain.String(),
			Sender:      m.Sender.Hex(),
			Recipient:   m.Recipient.Hex(),
			AmountSats:  m.AmountSats,
			Nonce:       m.Nonce,
			Status:      string(m.Status),
			CreatedAt:   m.CreatedAt,
			UpdatedAt:   m.UpdatedAt,
		})
	}
	return upload(ctx, a, "bridge", before, recs)
}

// upload writes records to archivePath(kind, before) and records the run in
// the audit log. An object already stored for the same cutoff is left alone.
func upload[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	path := archivePath(kind, before)
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if exists {
			return 0, nil
		}
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	if mw, ok := a.writer.(multipartWriter); ok && int64(len(buf)) > minPartSize {
		err = mw.PutMultipart(ctx, path, bytes.NewReader(buf), jsonlContentType, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath partitions archives by month and names them by cutoff:
//
//	archive/positions/2026-01/20260115T030000Z.jsonl
func archivePath(kind string, before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, before.Format("2006-01"), before.Format("20060102T150405Z"))
}

// marshalJSONL encodes one compact JSON value per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
