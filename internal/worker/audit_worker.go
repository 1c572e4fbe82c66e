package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"buoni/internal/amqp"
	"buoni/internal/sheets"
	"buoni/internal/storage"
)

// AuditWorker exports committed allocations to Google Sheets and runs
// retention maintenance on the voucher store.
type AuditWorker struct {
	storage   *storage.SQLiteRepository
	sheets    sheets.AllocationWriter
	retention time.Duration
}

func NewAuditWorker(storage *storage.SQLiteRepository, sheets sheets.AllocationWriter, retention time.Duration) *AuditWorker {
	return &AuditWorker{
		storage:   storage,
		sheets:    sheets,
		retention: retention,
	}
}

// HandleAllocationMessage processes a single allocation event from AMQP,
// appending one audit row per consumed voucher.
func (w *AuditWorker) HandleAllocationMessage(ctx context.Context, msg *amqp.AllocationMessage) error {
	slog.InfoContext(ctx, "Processing allocation message",
		"family", msg.Family,
		"requested_cents", msg.RequestedCents,
		"consumed", len(msg.Consumed))

	if w.sheets == nil {
		slog.WarnContext(ctx, "No allocation writer configured, skipping export",
			"family", msg.Family)
		return nil
	}

	for _, c := range msg.Consumed {
		entry := sheets.Entry{
			When:           msg.Timestamp,
			Family:         msg.Family,
			VoucherID:      c.VoucherID,
			URL:            c.URL,
			SpentCents:     c.AmountCents,
			RemainingCents: c.RemainingCents,
			ShortfallCents: msg.ShortfallCents,
		}

		ref, err := w.sheets.Append(ctx, entry)
		if err != nil {
			return fmt.Errorf("append audit row for voucher %d: %w", c.VoucherID, err)
		}

		slog.InfoContext(ctx, "Exported audit row",
			"family", msg.Family,
			"voucher_id", c.VoucherID,
			"sheets_ref", ref)
	}

	return nil
}

// HandleVoucherAddedMessage records a voucher addition in the audit log.
// Additions are not exported as sheet rows; the allocation rows already carry
// the full spend history.
func (w *AuditWorker) HandleVoucherAddedMessage(ctx context.Context, msg *amqp.VoucherAddedMessage) error {
	slog.InfoContext(ctx, "Voucher added",
		"family", msg.Family,
		"voucher_id", msg.VoucherID,
		"amount_cents", msg.AmountCents)
	return nil
}

// PurgeExpired hard-deletes used vouchers older than the retention window.
// A zero retention disables purging.
func (w *AuditWorker) PurgeExpired(ctx context.Context) error {
	if w.retention <= 0 {
		return nil
	}

	cutoff := time.Now().Add(-w.retention)
	purged, err := w.storage.PurgeUsedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge used vouchers: %w", err)
	}

	if purged > 0 {
		slog.InfoContext(ctx, "Purged used vouchers",
			"count", purged,
			"cutoff", cutoff.Format(time.RFC3339))
	}

	return nil
}

// RunPurgeLoop runs PurgeExpired once at startup and then on every tick of
// interval until the context is cancelled.
func (w *AuditWorker) RunPurgeLoop(ctx context.Context, interval time.Duration) error {
	if w.retention <= 0 || interval <= 0 {
		slog.InfoContext(ctx, "Retention purge disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	if err := w.PurgeExpired(ctx); err != nil {
		slog.ErrorContext(ctx, "Startup purge failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.PurgeExpired(ctx); err != nil {
				slog.ErrorContext(ctx, "Periodic purge failed", "error", err)
			}
		}
	}
}
