package core

// Consumption records how much of a single voucher an allocation spent.
type Consumption struct {
	VoucherID int64
	URL       string
	Amount    Money // portion spent from this voucher
	Remaining Money // what is left on the voucher afterwards
}

// PartialUpdate shrinks one voucher that was only partially consumed.
type PartialUpdate struct {
	VoucherID int64
	NewAmount Money
}

// Plan is the outcome of a greedy allocation over a family's unused vouchers.
// It is computed in full before any store mutation happens, so a caller can
// apply FullyUsedIDs and Partial inside a single transaction.
type Plan struct {
	Consumptions []Consumption
	FullyUsedIDs []int64
	Partial      *PartialUpdate
	Shortfall    Money // portion of the request that could not be satisfied
}

// Satisfied reports whether the requested amount was covered in full.
func (p Plan) Satisfied() bool {
	return p.Shortfall.Cents == 0
}

// PlanAllocation selects vouchers to cover needed, largest-first.
//
// The input must already be sorted by amount descending; ties resolve by the
// caller's secondary ordering (the store orders by id ascending, i.e. insertion
// order). Vouchers whose amount fits entirely are consumed whole and scheduled
// as fully used. The first voucher larger than what is still needed is consumed
// partially and the loop stops: at most one partial consumption per allocation.
//
// A shortfall is not an error. When the unused vouchers cannot cover needed,
// the plan consumes everything available and reports the difference.
func PlanAllocation(unused []Voucher, needed Money) (Plan, error) {
	if needed.Cents <= 0 {
		return Plan{}, ErrInvalidAmount
	}

	plan := Plan{}
	remaining := needed.Cents

	for _, v := range unused {
		if remaining <= 0 {
			break
		}
		if v.Amount.Cents <= remaining {
			plan.Consumptions = append(plan.Consumptions, Consumption{
				VoucherID: v.ID,
				URL:       v.URL,
				Amount:    v.Amount,
				Remaining: Money{},
			})
			plan.FullyUsedIDs = append(plan.FullyUsedIDs, v.ID)
			remaining -= v.Amount.Cents
		} else {
			left := v.Amount.Cents - remaining
			plan.Consumptions = append(plan.Consumptions, Consumption{
				VoucherID: v.ID,
				URL:       v.URL,
				Amount:    Money{Cents: remaining},
				Remaining: Money{Cents: left},
			})
			plan.Partial = &PartialUpdate{
				VoucherID: v.ID,
				NewAmount: Money{Cents: left},
			}
			remaining = 0
		}
	}

	plan.Shortfall = Money{Cents: remaining}
	return plan, nil
}
