package sheets

import (
	"context"
	"time"
)

// Entry is one exported audit row: a single voucher touched by an allocation.
type Entry struct {
	When           time.Time
	Family         string
	VoucherID      int64
	URL            string
	SpentCents     int64
	RemainingCents int64
	ShortfallCents int64
}

// AllocationWriter is the outbound port for the audit export.
type AllocationWriter interface {
	Append(ctx context.Context, e Entry) (rowRef string, err error)
}
