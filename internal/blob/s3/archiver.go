package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	jsonlContentType = "application/x-ndjson"

	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 64 * 1024 * 1024
	multipartPartSize  = 16 * 1024 * 1024
)

// Narrow read interfaces; the ledger's TradeStore and ResolutionStore satisfy
// them.

// TradeSource lists trades executed in [from, to).
type TradeSource interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]domain.Trade, error)
}

// ResolutionSource lists resolutions recorded in [from, to).
type ResolutionSource interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]domain.ResolutionEvent, error)
}

// ArchiveIndex reports whether an archive object already exists. *Index
// satisfies it.
type ArchiveIndex interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// LedgerArchiver implements domain.Archiver. It copies one calendar month of
// trades and resolution events to JSONL objects. The ledger is never pruned:
// the trade log stays the source of truth for replays.
type LedgerArchiver struct {
	writer      domain.BlobWriter
	index       ArchiveIndex
	trades      TradeSource
	resolutions ResolutionSource
	audit       domain.AuditStore
}

// NewLedgerArchiver creates a LedgerArchiver. index may be nil, in which case
// existing archive objects are overwritten.
func NewLedgerArchiver(
	writer domain.BlobWriter,
	index ArchiveIndex,
	trades TradeSource,
	resolutions ResolutionSource,
	audit domain.AuditStore,
) *LedgerArchiver {
	return &LedgerArchiver{
		writer:      writer,
		index:       index,
		trades:      trades,
		resolutions: resolutions,
		audit:       audit,
	}
}

type tradeRecord struct {
	ID             string          `json:"id"`
	Seq            int64           `json:"seq"`
	AgentID        string          `json:"agent_id"`
	MarketID       string          `json:"market_id"`
	Side           domain.Side     `json:"side"`
	Amount         decimal.Decimal `json:"amount"`
	SharesReceived decimal.Decimal `json:"shares_received"`
	PriceAtTrade   decimal.Decimal `json:"price_at_trade"`
	CreatedAt      time.Time       `json:"created_at"`
}

type resolutionRecord struct {
	MarketID   string         `json:"market_id"`
	Outcome    domain.Outcome `json:"outcome"`
	ResolvedAt time.Time      `json:"resolved_at"`
}

// ArchiveMonth exports the calendar month containing month (UTC).
func (a *LedgerArchiver) ArchiveMonth(ctx context.Context, month time.Time) (domain.ArchiveResult, error) {
	month = month.UTC()
	from := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	res := domain.ArchiveResult{Month: from}

	trades, err := a.trades.ListBetween(ctx, from, to)
	if err != nil {
		return res, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	rows := make([]tradeRecord, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, tradeRecord{
			ID: t.ID, Seq: t.Seq, AgentID: t.AgentID, MarketID: t.MarketID, Side: t.Side,
			Amount: t.Amount, SharesReceived: t.SharesReceived, PriceAtTrade: t.PriceAtTrade,
			CreatedAt: t.CreatedAt,
		})
	}
	written, err := archiveKind(ctx, a, "trades", from, rows)
	if err != nil {
		return res, err
	}
	if written {
		res.Trades = int64(len(rows))
	} else if len(rows) > 0 {
		res.Skipped = append(res.Skipped, archivePath("trades", from))
	}

	resolutions, err := a.resolutions.ListBetween(ctx, from, to)
	if err != nil {
		return res, fmt.Errorf("s3blob: archive resolutions query: %w", err)
	}
	events := make([]resolutionRecord, 0, len(resolutions))
	for _, r := range resolutions {
		events = append(events, resolutionRecord{MarketID: r.MarketID, Outcome: r.Outcome, ResolvedAt: r.ResolvedAt})
	}
	written, err = archiveKind(ctx, a, "resolutions", from, events)
	if err != nil {
		return res, err
	}
	if written {
		res.Resolutions = int64(len(events))
	} else if len(events) > 0 {
		res.Skipped = append(res.Skipped, archivePath("resolutions", from))
	}

	if err := a.audit.Log(ctx, "archive.month", map[string]any{
		"month":       from.Format("2006-01"),
		"trades":      res.Trades,
		"resolutions": res.Resolutions,
		"skipped":     res.Skipped,
	}); err != nil {
		return res, fmt.Errorf("s3blob: archive audit log: %w", err)
	}
	return res, nil
}

// archiveKind uploads records unless there are none or the object already
// exists. It reports whether an upload happened.
func archiveKind[T any](ctx context.Context, a *LedgerArchiver, kind string, month time.Time, records []T) (bool, error) {
	if len(records) == 0 {
		return false, nil
	}
	path := archivePath(kind, month)
	if a.index != nil {
		exists, err := a.index.Exists(ctx, path)
		if err != nil {
			return false, fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if exists {
			return false, nil
		}
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return false, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return false, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}
	return true, nil
}

// archivePath builds the object path for a month of one record kind:
//
//	archive/trades/2026-01.jsonl
//	archive/resolutions/2026-01.jsonl
func archivePath(kind string, month time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
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

var _ domain.Archiver = (*LedgerArchiver)(nil)
