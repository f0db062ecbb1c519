package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/stratexec/internal/domain"
)

// Archiver implements domain.Archiver: aged completed trades and ledger
// records are serialized as JSONL and uploaded to object storage before the
// housekeeping pass prunes them from the primary store. Upload failure leaves
// the rows in place; nothing is discarded until it is safely in cold storage.
type Archiver struct {
	writer  domain.BlobWriter
	trades  domain.CompletedTradeStore
	signals domain.ProcessedSignalStore
	audit   domain.AuditStore
	logger  *slog.Logger
}

// multipartThreshold is the payload size above which archive uploads switch
// from a single PutObject to a multipart upload.
const multipartThreshold = 8 * 1024 * 1024

// NewArchiver creates an Archiver writing through the given blob writer.
func NewArchiver(
	writer domain.BlobWriter,
	trades domain.CompletedTradeStore,
	signals domain.ProcessedSignalStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:  writer,
		trades:  trades,
		signals: signals,
		audit:   audit,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)

// ArchiveTrades uploads all trades closed before the cutoff as one JSONL
// object and returns the number archived.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list trades for archive: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, t := range trades {
		if err := enc.Encode(t); err != nil {
			return 0, fmt.Errorf("s3blob: encode trade %s: %w", t.ClientOrderID, err)
		}
	}

	path := archivePath("trades", before)
	if err := a.upload(ctx, path, &buf); err != nil {
		return 0, err
	}

	a.logger.Info("trades archived",
		slog.Int("count", len(trades)),
		slog.String("path", path),
	)
	if err := a.audit.Log(ctx, "trades_archived", map[string]any{
		"count": len(trades),
		"path":  path,
	}); err != nil {
		a.logger.Warn("archive audit failed", slog.String("error", err.Error()))
	}
	return int64(len(trades)), nil
}

// ArchiveProcessedSignals uploads ledger records processed before the cutoff
// as one JSONL object and returns the number archived.
func (a *Archiver) ArchiveProcessedSignals(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.signals.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list processed signals for archive: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return 0, fmt.Errorf("s3blob: encode processed signal %s: %w", rec.Fingerprint, err)
		}
	}

	path := archivePath("processed_signals", before)
	if err := a.upload(ctx, path, &buf); err != nil {
		return 0, err
	}

	a.logger.Info("processed signals archived",
		slog.Int("count", len(recs)),
		slog.String("path", path),
	)
	return int64(len(recs)), nil
}

// upload picks the transfer path by payload size: small batches go up in a
// single PutObject, anything past the threshold uses a multipart upload.
func (a *Archiver) upload(ctx context.Context, path string, buf *bytes.Buffer) error {
	if int64(buf.Len()) >= multipartThreshold {
		return a.writer.PutMultipart(ctx, path, buf, multipartThreshold)
	}
	return a.writer.Put(ctx, path, buf, "application/x-ndjson")
}

// archivePath builds a date-partitioned object key, e.g.
// "trades/2026/08/23/trades-20260823T150405Z.jsonl".
func archivePath(kind string, cutoff time.Time) string {
	now := time.Now().UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s-%s.jsonl",
		kind, cutoff.Year(), cutoff.Month(), cutoff.Day(),
		kind, now.Format("20060102T150405Z"))
}
