package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"buoni/internal/core"

	_ "modernc.org/sqlite"
)

// Order selects the sort order for full voucher listings.
type Order int

const (
	OrderByAmount  Order = iota // amount descending, insertion order on ties
	OrderByCreated              // newest first
)

// SQLiteRepository persists families and their vouchers.
//
// All voucher operations are scoped by family code; a voucher id from another
// family is treated the same as a missing one.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// EnsureFamily registers the family code if it is not known yet. The insert is
// idempotent, so concurrent first logins with the same code cannot race into
// duplicates.
func (r *SQLiteRepository) EnsureFamily(ctx context.Context, code string) error {
	if err := core.ValidateFamilyCode(code); err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO families (code, created_at) VALUES (?, ?) ON CONFLICT (code) DO NOTHING`,
		code, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ensure family: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		slog.InfoContext(ctx, "Family registered", "family", code)
	}
	return nil
}

// AddVoucher inserts a single voucher. The input is validated first; nothing is
// written when the url is empty or the amount is not positive.
func (r *SQLiteRepository) AddVoucher(ctx context.Context, family, url string, amount core.Money) (core.Voucher, error) {
	v := core.Voucher{URL: url, Amount: amount, CreatedAt: time.Now().UTC()}
	if err := v.Validate(); err != nil {
		return core.Voucher{}, err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO vouchers (family_code, url, amount_cents, used, created_at) VALUES (?, ?, ?, 0, ?)`,
		family, v.URL, v.Amount.Cents, v.CreatedAt)
	if err != nil {
		return core.Voucher{}, fmt.Errorf("insert voucher: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.Voucher{}, fmt.Errorf("voucher id: %w", err)
	}
	v.ID = id

	slog.InfoContext(ctx, "Voucher saved",
		"family", family,
		"id", v.ID,
		"amount_cents", v.Amount.Cents)

	return v, nil
}

// AddVouchers inserts a batch of parsed bulk-upload entries in one transaction
// and returns how many were written. Inputs are assumed pre-validated by the
// bulk parser; an insert failure rolls back the whole batch.
func (r *SQLiteRepository) AddVouchers(ctx context.Context, family string, inputs []core.VoucherInput) (int, error) {
	if len(inputs) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin bulk insert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, in := range inputs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vouchers (family_code, url, amount_cents, used, created_at) VALUES (?, ?, ?, 0, ?)`,
			family, in.URL, in.Amount.Cents, now); err != nil {
			return 0, fmt.Errorf("bulk insert voucher: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bulk insert: %w", err)
	}

	slog.InfoContext(ctx, "Vouchers bulk added", "family", family, "count", len(inputs))
	return len(inputs), nil
}

// ListUnused returns the family's spendable vouchers sorted by amount
// descending, ties broken by id ascending. This ordering feeds the allocation
// engine directly.
func (r *SQLiteRepository) ListUnused(ctx context.Context, family string) ([]core.Voucher, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, url, amount_cents, used, created_at FROM vouchers
		 WHERE family_code = ? AND used = 0 AND amount_cents > 0
		 ORDER BY amount_cents DESC, id ASC`, family)
	if err != nil {
		return nil, fmt.Errorf("list unused vouchers: %w", err)
	}
	defer rows.Close()

	return scanVouchers(rows)
}

// ListAll returns every voucher of the family, used ones included.
func (r *SQLiteRepository) ListAll(ctx context.Context, family string, order Order) ([]core.Voucher, error) {
	q := `SELECT id, url, amount_cents, used, created_at FROM vouchers WHERE family_code = ? `
	switch order {
	case OrderByCreated:
		q += `ORDER BY created_at DESC, id DESC`
	default:
		q += `ORDER BY amount_cents DESC, id ASC`
	}

	rows, err := r.db.QueryContext(ctx, q, family)
	if err != nil {
		return nil, fmt.Errorf("list vouchers: %w", err)
	}
	defer rows.Close()

	return scanVouchers(rows)
}

// TotalUnused returns the family's available balance: the sum over unused
// voucher amounts, zero when there are none.
func (r *SQLiteRepository) TotalUnused(ctx context.Context, family string) (core.Money, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM vouchers WHERE family_code = ? AND used = 0`,
		family).Scan(&cents)
	if err != nil {
		return core.Money{}, fmt.Errorf("total unused: %w", err)
	}
	return core.Money{Cents: cents}, nil
}

// MarkUsed flips a voucher to used (soft removal). A voucher id that does not
// exist, or belongs to another family, is deliberately a no-op rather than an
// error: removal is idempotent and never leaks whether a foreign id exists.
func (r *SQLiteRepository) MarkUsed(ctx context.Context, family string, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE vouchers SET used = 1 WHERE family_code = ? AND id = ?`, family, id)
	if err != nil {
		return fmt.Errorf("mark voucher used: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		slog.InfoContext(ctx, "Voucher marked used", "family", family, "id", id)
	}
	return nil
}

// DeleteVoucher physically removes a voucher. Unlike MarkUsed this reports a
// miss, since a hard delete that found nothing usually signals a caller bug.
func (r *SQLiteRepository) DeleteVoucher(ctx context.Context, family string, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM vouchers WHERE family_code = ? AND id = ?`, family, id)
	if err != nil {
		return fmt.Errorf("delete voucher: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete voucher: %w", err)
	}
	if n == 0 {
		return core.ErrVoucherNotFound
	}

	slog.InfoContext(ctx, "Voucher deleted", "family", family, "id", id)
	return nil
}

// PurgeUsedBefore hard-deletes used vouchers created before the cutoff. This is
// the retention path run by the worker; normal removal stays soft.
func (r *SQLiteRepository) PurgeUsedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM vouchers WHERE used = 1 AND created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge used vouchers: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge used vouchers: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Used vouchers purged", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// Allocate runs the read-compute-write allocation sequence for one family
// inside a single transaction: select the unused vouchers largest-first, plan
// the greedy consumption, then apply the scheduled mutations. Concurrent
// allocations for the same family serialize on the database writer, so a
// voucher can never be double-spent.
func (r *SQLiteRepository) Allocate(ctx context.Context, family string, needed core.Money) (core.Plan, error) {
	if needed.Cents <= 0 {
		return core.Plan{}, core.ErrInvalidAmount
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Plan{}, fmt.Errorf("begin allocation: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, url, amount_cents, used, created_at FROM vouchers
		 WHERE family_code = ? AND used = 0 AND amount_cents > 0
		 ORDER BY amount_cents DESC, id ASC`, family)
	if err != nil {
		return core.Plan{}, fmt.Errorf("select unused vouchers: %w", err)
	}
	unused, err := scanVouchers(rows)
	rows.Close()
	if err != nil {
		return core.Plan{}, err
	}

	plan, err := core.PlanAllocation(unused, needed)
	if err != nil {
		return core.Plan{}, err
	}

	for _, id := range plan.FullyUsedIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE vouchers SET used = 1 WHERE family_code = ? AND id = ?`, family, id); err != nil {
			return core.Plan{}, fmt.Errorf("mark voucher %d used: %w", id, err)
		}
	}
	if plan.Partial != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE vouchers SET amount_cents = ? WHERE family_code = ? AND id = ?`,
			plan.Partial.NewAmount.Cents, family, plan.Partial.VoucherID); err != nil {
			return core.Plan{}, fmt.Errorf("shrink voucher %d: %w", plan.Partial.VoucherID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return core.Plan{}, fmt.Errorf("commit allocation: %w", err)
	}

	slog.InfoContext(ctx, "Allocation committed",
		"family", family,
		"requested_cents", needed.Cents,
		"consumed", len(plan.Consumptions),
		"shortfall_cents", plan.Shortfall.Cents)

	return plan, nil
}

func scanVouchers(rows *sql.Rows) ([]core.Voucher, error) {
	var vouchers []core.Voucher
	for rows.Next() {
		var v core.Voucher
		var used int64
		if err := rows.Scan(&v.ID, &v.URL, &v.Amount.Cents, &used, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan voucher: %w", err)
		}
		v.Used = used != 0
		vouchers = append(vouchers, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vouchers: %w", err)
	}
	return vouchers, nil
}

// IsNotFound reports whether err is the repository's miss sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, core.ErrVoucherNotFound)
}
