package quote

import (
	"errors"
	"strings"
)

// ErrConflictingCoupon is returned when both a coupon code and a stored
// user-coupon id are supplied for the same attempt.
var ErrConflictingCoupon = errors.New("quote: at most one of coupon code and user coupon id may be set")

// CouponSelection references the coupon the payer wants applied to the next
// quote. Exactly one of {none, code, user-coupon id} is active at a time.
type CouponSelection struct {
	Code         string
	UserCouponID string
}

// NoCoupon is the empty selection.
func NoCoupon() CouponSelection { return CouponSelection{} }

// CouponCode selects a coupon by its public code.
func CouponCode(code string) CouponSelection {
	return CouponSelection{Code: strings.TrimSpace(code)}
}

// UserCoupon selects a coupon already claimed by the user.
func UserCoupon(id string) CouponSelection {
	return CouponSelection{UserCouponID: strings.TrimSpace(id)}
}

// None reports whether no coupon is selected.
func (c CouponSelection) None() bool {
	return strings.TrimSpace(c.Code) == "" && strings.TrimSpace(c.UserCouponID) == ""
}

// Validate rejects selections that name both a code and a user coupon.
func (c CouponSelection) Validate() error {
	if strings.TrimSpace(c.Code) != "" && strings.TrimSpace(c.UserCouponID) != "" {
		return ErrConflictingCoupon
	}
	return nil
}

// Fingerprint returns a comparable identity for the selection. Two
// selections with equal fingerprints price identically, so a cached quote
// obtained under one remains valid under the other.
func (c CouponSelection) Fingerprint() string {
	switch {
	case strings.TrimSpace(c.Code) != "":
		return "code:" + strings.TrimSpace(c.Code)
	case strings.TrimSpace(c.UserCouponID) != "":
		return "user:" + strings.TrimSpace(c.UserCouponID)
	default:
		return "none"
	}
}
