package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"buoni/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "buoni.db"))
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func mustAdd(t *testing.T, repo *SQLiteRepository, family, url string, cents int64) core.Voucher {
	t.Helper()
	v, err := repo.AddVoucher(context.Background(), family, url, core.Money{Cents: cents})
	if err != nil {
		t.Fatalf("add voucher: %v", err)
	}
	return v
}

func TestEnsureFamilyIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.EnsureFamily(ctx, "rossi"); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := repo.EnsureFamily(ctx, "rossi"); err != nil {
		t.Fatalf("second ensure should be a no-op: %v", err)
	}
	if err := repo.EnsureFamily(ctx, "not valid!"); err == nil {
		t.Fatalf("expected error for unsanitized code")
	}
}

func TestAddVoucherValidation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.AddVoucher(ctx, "rossi", "", core.Money{Cents: 100}); !errors.Is(err, core.ErrEmptyURL) {
		t.Fatalf("expected ErrEmptyURL, got %v", err)
	}
	if _, err := repo.AddVoucher(ctx, "rossi", "http://x", core.Money{Cents: 0}); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	// Nothing must have been written by the failed attempts.
	all, err := repo.ListAll(ctx, "rossi", OrderByAmount)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected empty store after validation failures, got %d", len(all))
	}
}

func TestListUnusedOrdering(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	mustAdd(t, repo, "rossi", "http://small", 500)
	big := mustAdd(t, repo, "rossi", "http://big", 5000)
	tieFirst := mustAdd(t, repo, "rossi", "http://tie-first", 2000)
	tieSecond := mustAdd(t, repo, "rossi", "http://tie-second", 2000)

	unused, err := repo.ListUnused(ctx, "rossi")
	if err != nil {
		t.Fatalf("list unused: %v", err)
	}
	if len(unused) != 4 {
		t.Fatalf("expected 4 vouchers, got %d", len(unused))
	}
	if unused[0].ID != big.ID {
		t.Fatalf("expected largest first, got id %d", unused[0].ID)
	}
	// Equal amounts come back in insertion order.
	if unused[1].ID != tieFirst.ID || unused[2].ID != tieSecond.ID {
		t.Fatalf("tie-break broken: got ids %d,%d", unused[1].ID, unused[2].ID)
	}
}

func TestTotalUnusedMatchesSum(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	total, err := repo.TotalUnused(ctx, "rossi")
	if err != nil {
		t.Fatalf("total unused: %v", err)
	}
	if total.Cents != 0 {
		t.Fatalf("expected 0 for empty family, got %d", total.Cents)
	}

	mustAdd(t, repo, "rossi", "http://a", 1000)
	v := mustAdd(t, repo, "rossi", "http://b", 2500)
	mustAdd(t, repo, "rossi", "http://c", 400)

	if err := repo.MarkUsed(ctx, "rossi", v.ID); err != nil {
		t.Fatalf("mark used: %v", err)
	}

	total, err = repo.TotalUnused(ctx, "rossi")
	if err != nil {
		t.Fatalf("total unused: %v", err)
	}
	if total.Cents != 1400 {
		t.Fatalf("expected 1400 after marking the 2500 used, got %d", total.Cents)
	}
}

func TestMarkUsedIsNoOpOnMiss(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.MarkUsed(ctx, "rossi", 999); err != nil {
		t.Fatalf("mark used on unknown id should be a no-op: %v", err)
	}

	// A voucher of another family must not be reachable either.
	v := mustAdd(t, repo, "bianchi", "http://theirs", 1000)
	if err := repo.MarkUsed(ctx, "rossi", v.ID); err != nil {
		t.Fatalf("cross-family mark used should be a no-op: %v", err)
	}
	unused, err := repo.ListUnused(ctx, "bianchi")
	if err != nil {
		t.Fatalf("list unused: %v", err)
	}
	if len(unused) != 1 {
		t.Fatalf("bianchi's voucher must stay unused, got %d unused", len(unused))
	}
}

func TestDeleteVoucher(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	v := mustAdd(t, repo, "rossi", "http://x", 1000)
	if err := repo.DeleteVoucher(ctx, "rossi", v.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.DeleteVoucher(ctx, "rossi", v.ID); !IsNotFound(err) {
		t.Fatalf("expected not-found on second delete, got %v", err)
	}
}

func TestBulkAdd(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	inputs := core.ParseBulkLines("10 http://a\n20,http://b\nbad line\n5\thttp://c")
	n, err := repo.AddVouchers(ctx, "rossi", inputs)
	if err != nil {
		t.Fatalf("bulk add: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 added, got %d", n)
	}

	total, err := repo.TotalUnused(ctx, "rossi")
	if err != nil {
		t.Fatalf("total unused: %v", err)
	}
	if total.Cents != 3500 {
		t.Fatalf("expected 3500 cents total, got %d", total.Cents)
	}
}

func TestAllocateFullAndPartial(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	fifty := mustAdd(t, repo, "rossi", "http://fifty", 5000)
	twenty := mustAdd(t, repo, "rossi", "http://twenty", 2000)

	plan, err := repo.Allocate(ctx, "rossi", core.Money{Cents: 6000})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if !plan.Satisfied() {
		t.Fatalf("expected full satisfaction, shortfall %d", plan.Shortfall.Cents)
	}
	if len(plan.Consumptions) != 2 {
		t.Fatalf("expected 2 consumptions, got %d", len(plan.Consumptions))
	}

	unused, err := repo.ListUnused(ctx, "rossi")
	if err != nil {
		t.Fatalf("list unused: %v", err)
	}
	if len(unused) != 1 || unused[0].ID != twenty.ID || unused[0].Amount.Cents != 1000 {
		t.Fatalf("expected the 2000 voucher shrunk to 1000, got %+v", unused)
	}

	all, err := repo.ListAll(ctx, "rossi", OrderByAmount)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	for _, v := range all {
		if v.ID == fifty.ID && !v.Used {
			t.Fatalf("the 5000 voucher must be used")
		}
	}
}

func TestAllocateShortfallConsumesEverything(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	v := mustAdd(t, repo, "rossi", "http://only", 1000)

	plan, err := repo.Allocate(ctx, "rossi", core.Money{Cents: 2500})
	if err != nil {
		t.Fatalf("shortfall is not an error: %v", err)
	}
	if plan.Shortfall.Cents != 1500 {
		t.Fatalf("expected shortfall 1500, got %d", plan.Shortfall.Cents)
	}
	if len(plan.FullyUsedIDs) != 1 || plan.FullyUsedIDs[0] != v.ID {
		t.Fatalf("expected the only voucher fully used, got %v", plan.FullyUsedIDs)
	}

	total, err := repo.TotalUnused(ctx, "rossi")
	if err != nil {
		t.Fatalf("total unused: %v", err)
	}
	if total.Cents != 0 {
		t.Fatalf("expected empty balance after shortfall, got %d", total.Cents)
	}
}

func TestAllocateInvalidAmountMutatesNothing(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	mustAdd(t, repo, "rossi", "http://a", 1000)

	for _, cents := range []int64{0, -100} {
		if _, err := repo.Allocate(ctx, "rossi", core.Money{Cents: cents}); !errors.Is(err, core.ErrInvalidAmount) {
			t.Fatalf("%d: expected ErrInvalidAmount, got %v", cents, err)
		}
	}

	total, err := repo.TotalUnused(ctx, "rossi")
	if err != nil {
		t.Fatalf("total unused: %v", err)
	}
	if total.Cents != 1000 {
		t.Fatalf("balance must be untouched, got %d", total.Cents)
	}
}

func TestAllocateIsFamilyScoped(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	mustAdd(t, repo, "rossi", "http://mine", 1000)
	mustAdd(t, repo, "bianchi", "http://theirs", 9000)

	plan, err := repo.Allocate(ctx, "rossi", core.Money{Cents: 3000})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if plan.Shortfall.Cents != 2000 {
		t.Fatalf("rossi must not see bianchi's vouchers, shortfall %d", plan.Shortfall.Cents)
	}

	total, err := repo.TotalUnused(ctx, "bianchi")
	if err != nil {
		t.Fatalf("total unused: %v", err)
	}
	if total.Cents != 9000 {
		t.Fatalf("bianchi's balance must be untouched, got %d", total.Cents)
	}
}

func TestPurgeUsedBefore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	used := mustAdd(t, repo, "rossi", "http://old", 1000)
	mustAdd(t, repo, "rossi", "http://fresh", 2000)
	if err := repo.MarkUsed(ctx, "rossi", used.ID); err != nil {
		t.Fatalf("mark used: %v", err)
	}

	// Cutoff in the future: the used voucher qualifies, the unused one never does.
	n, err := repo.PurgeUsedBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged, got %d", n)
	}

	all, err := repo.ListAll(ctx, "rossi", OrderByCreated)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 || all[0].Used {
		t.Fatalf("only the unused voucher should remain, got %+v", all)
	}
}
