package quote

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAmountMismatch is returned when the quoted final amount does not
	// match the original amount minus the coupon discount.
	ErrAmountMismatch = errors.New("quote: final amount does not match original minus discount")
	// ErrMissingReference is returned when a chargeable quote arrives without
	// a processor reference.
	ErrMissingReference = errors.New("quote: chargeable quote without processor reference")
	// ErrUnexpectedReference is returned when a fully covered quote carries a
	// processor reference anyway.
	ErrUnexpectedReference = errors.New("quote: zero amount quote carries processor reference")
)

// StepKind labels an entry of the display-only calculation breakdown.
type StepKind string

const (
	StepBase     StepKind = "base"
	StepDiscount StepKind = "discount"
	StepTotal    StepKind = "total"
)

// Step is one line of the server-computed calculation breakdown. Steps are
// rendered to the payer and never participate in orchestration decisions.
type Step struct {
	Label       string   `json:"label"`
	AmountMinor int64    `json:"amountMinor"`
	Kind        StepKind `json:"kind"`
}

// CustomerContext lets the gateway persist the payment method for reuse.
// Absent when the gateway does not support it for the quoted method family.
type CustomerContext struct {
	CustomerID   string `json:"customerId"`
	EphemeralKey string `json:"ephemeralKey"`
}

// Quote is an immutable snapshot of a priced order as computed by the
// backend. A quote is superseded, never mutated: any change to the coupon
// selection or the rail produces a fresh one.
type Quote struct {
	OriginalAmountMinor int64            `json:"originalAmountMinor"`
	CouponDiscountMinor *int64           `json:"couponDiscountMinor,omitempty"`
	FinalAmountMinor    int64            `json:"finalAmountMinor"`
	Currency            string           `json:"currency"`
	ProcessorReference  string           `json:"processorReference,omitempty"`
	Customer            *CustomerContext `json:"customer,omitempty"`
	Steps               []Step           `json:"steps,omitempty"`
	Note                string           `json:"note,omitempty"`
}

// Discount returns the coupon discount, treating absence as zero.
func (q Quote) Discount() int64 {
	if q.CouponDiscountMinor == nil {
		return 0
	}
	return *q.CouponDiscountMinor
}

// FullyCovered reports whether a coupon covers the whole order so there is
// nothing left to charge.
func (q Quote) FullyCovered() bool {
	return q.FinalAmountMinor == 0
}

// ExpectedFinal computes the amount the backend must have quoted: original
// minus discount, clamped at zero.
func ExpectedFinal(originalMinor, discountMinor int64) int64 {
	final := originalMinor - discountMinor
	if final < 0 {
		return 0
	}
	return final
}

// Validate checks the arithmetic and reference invariants of a quote. A
// processor reference must be present exactly when there is something to
// charge.
func (q Quote) Validate() error {
	if q.OriginalAmountMinor < 0 {
		return fmt.Errorf("quote: negative original amount %d", q.OriginalAmountMinor)
	}
	if q.Discount() < 0 {
		return fmt.Errorf("quote: negative coupon discount %d", q.Discount())
	}
	if len(strings.TrimSpace(q.Currency)) != 3 {
		return fmt.Errorf("quote: invalid currency %q", q.Currency)
	}
	if q.FinalAmountMinor != ExpectedFinal(q.OriginalAmountMinor, q.Discount()) {
		return ErrAmountMismatch
	}
	hasRef := strings.TrimSpace(q.ProcessorReference) != ""
	if q.FinalAmountMinor > 0 && !hasRef {
		return ErrMissingReference
	}
	if q.FinalAmountMinor == 0 && hasRef {
		return ErrUnexpectedReference
	}
	return nil
}
