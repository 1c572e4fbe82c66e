package services

import (
	"context"
	"fmt"
	"log/slog"

	"buoni/internal/amqp"
	"buoni/internal/core"
	"buoni/internal/storage"
)

// LedgerService orchestrates voucher operations across SQLite and AMQP.
//
// Persistence always comes first; audit events are published best-effort after
// the commit and never fail the caller's request when the broker is away.
type LedgerService struct {
	storage    *storage.SQLiteRepository
	amqpClient *amqp.Client
}

func NewLedgerService(storage *storage.SQLiteRepository, amqpClient *amqp.Client) *LedgerService {
	return &LedgerService{
		storage:    storage,
		amqpClient: amqpClient,
	}
}

// Login sanitizes the family code and auto-provisions the family on first use.
// Returns the cleaned code the session should carry.
func (s *LedgerService) Login(ctx context.Context, rawCode string) (string, error) {
	code := core.SanitizeFamilyCode(rawCode)
	if code == "" {
		return "", core.ErrInvalidFamilyCode
	}
	if err := s.storage.EnsureFamily(ctx, code); err != nil {
		return "", fmt.Errorf("provision family: %w", err)
	}
	return code, nil
}

// AddVoucher validates and stores a single voucher.
func (s *LedgerService) AddVoucher(ctx context.Context, family, url string, amount core.Money) (core.Voucher, error) {
	v, err := s.storage.AddVoucher(ctx, family, url, amount)
	if err != nil {
		return core.Voucher{}, err
	}

	if s.amqpClient != nil {
		msg := amqp.NewVoucherAddedMessage(family, v)
		if err := s.amqpClient.PublishVoucherAdded(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "Failed to publish voucher added message",
				"family", family, "voucher_id", v.ID, "error", err)
		}
	}

	return v, nil
}

// BulkAdd parses uploaded text and stores every well-formed line, returning
// how many vouchers were added. Malformed lines are skipped silently.
func (s *LedgerService) BulkAdd(ctx context.Context, family, text string) (int, error) {
	inputs := core.ParseBulkLines(text)
	n, err := s.storage.AddVouchers(ctx, family, inputs)
	if err != nil {
		return 0, fmt.Errorf("bulk add: %w", err)
	}
	return n, nil
}

// Allocate consumes vouchers to cover the requested amount and publishes the
// committed plan for the audit worker.
func (s *LedgerService) Allocate(ctx context.Context, family string, amount core.Money) (core.Plan, error) {
	plan, err := s.storage.Allocate(ctx, family, amount)
	if err != nil {
		return core.Plan{}, err
	}

	if s.amqpClient != nil && len(plan.Consumptions) > 0 {
		msg := amqp.NewAllocationMessage(family, amount, plan)
		if err := s.amqpClient.PublishAllocation(ctx, msg); err != nil {
			// The allocation is committed; losing the audit event is logged, not fatal.
			slog.ErrorContext(ctx, "Failed to publish allocation message",
				"family", family, "error", err)
		}
	}

	return plan, nil
}

// Remove soft-deletes a voucher: it flips to used and disappears from
// allocation, but stays in the full history.
func (s *LedgerService) Remove(ctx context.Context, family string, id int64) error {
	return s.storage.MarkUsed(ctx, family, id)
}

func (s *LedgerService) ListUnused(ctx context.Context, family string) ([]core.Voucher, error) {
	return s.storage.ListUnused(ctx, family)
}

func (s *LedgerService) ListAll(ctx context.Context, family string, order storage.Order) ([]core.Voucher, error) {
	return s.storage.ListAll(ctx, family, order)
}

func (s *LedgerService) TotalUnused(ctx context.Context, family string) (core.Money, error) {
	return s.storage.TotalUnused(ctx, family)
}

// Close closes both storage and AMQP connections.
func (s *LedgerService) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if s.amqpClient != nil {
		if err := s.amqpClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %v", errs)
	}
	return nil
}
