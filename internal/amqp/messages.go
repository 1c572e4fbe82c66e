package amqp

import (
	"encoding/json"
	"time"

	"buoni/internal/core"
)

// Message type names carried in the AMQP Type property, used by the consumer
// to dispatch deliveries.
const (
	TypeAllocation   = "allocation"
	TypeVoucherAdded = "voucher_added"
)

// ConsumedVoucher is one voucher touched by an allocation, as carried on the wire.
type ConsumedVoucher struct {
	VoucherID      int64  `json:"voucher_id"`
	URL            string `json:"url"`
	AmountCents    int64  `json:"amount_cents"`
	RemainingCents int64  `json:"remaining_cents"`
}

// AllocationMessage is published after an allocation commits, carrying
// everything the audit worker needs to export the event without re-reading
// the database.
type AllocationMessage struct {
	Family         string            `json:"family"`
	RequestedCents int64             `json:"requested_cents"`
	ShortfallCents int64             `json:"shortfall_cents"`
	Consumed       []ConsumedVoucher `json:"consumed"`
	Timestamp      time.Time         `json:"timestamp"`
}

// NewAllocationMessage builds a wire message from a committed plan.
func NewAllocationMessage(family string, requested core.Money, plan core.Plan) *AllocationMessage {
	consumed := make([]ConsumedVoucher, len(plan.Consumptions))
	for i, c := range plan.Consumptions {
		consumed[i] = ConsumedVoucher{
			VoucherID:      c.VoucherID,
			URL:            c.URL,
			AmountCents:    c.Amount.Cents,
			RemainingCents: c.Remaining.Cents,
		}
	}
	return &AllocationMessage{
		Family:         family,
		RequestedCents: requested.Cents,
		ShortfallCents: plan.Shortfall.Cents,
		Consumed:       consumed,
		Timestamp:      time.Now(),
	}
}

func (m *AllocationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func AllocationMessageFromJSON(data []byte) (*AllocationMessage, error) {
	var msg AllocationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// VoucherAddedMessage is published when a voucher enters the ledger.
type VoucherAddedMessage struct {
	Family      string    `json:"family"`
	VoucherID   int64     `json:"voucher_id"`
	URL         string    `json:"url"`
	AmountCents int64     `json:"amount_cents"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewVoucherAddedMessage(family string, v core.Voucher) *VoucherAddedMessage {
	return &VoucherAddedMessage{
		Family:      family,
		VoucherID:   v.ID,
		URL:         v.URL,
		AmountCents: v.Amount.Cents,
		Timestamp:   time.Now(),
	}
}

func (m *VoucherAddedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func VoucherAddedMessageFromJSON(data []byte) (*VoucherAddedMessage, error) {
	var msg VoucherAddedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
