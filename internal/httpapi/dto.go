package httpapi

import (
	"github.com/noah-isme/payflow/internal/orchestrate"
	"github.com/noah-isme/payflow/internal/quote"
)

type createAttemptRequest struct {
	OrderID     string `json:"orderId" validate:"required"`
	AmountMinor int64  `json:"amountMinor" validate:"required,gt=0"`
	Currency    string `json:"currency" validate:"required,len=3"`
	Description string `json:"description" validate:"max=255"`
	Rail        string `json:"rail" validate:"omitempty"`
}

type selectRailRequest struct {
	Rail string `json:"rail" validate:"required"`
}

type selectCouponRequest struct {
	CouponCode   string `json:"couponCode" validate:"omitempty,max=64"`
	UserCouponID string `json:"userCouponId" validate:"omitempty,max=64"`
}

type confirmRequest struct {
	BankCode string `json:"bankCode" validate:"omitempty,max=16"`
}

type attemptResponse struct {
	OrderID         string       `json:"orderId"`
	State           string       `json:"state"`
	Rail            string       `json:"rail"`
	CouponCode      string       `json:"couponCode,omitempty"`
	UserCouponID    string       `json:"userCouponId,omitempty"`
	Quote           *quote.Quote `json:"quote,omitempty"`
	FailureCategory string       `json:"failureCategory,omitempty"`
	FailureMessage  string       `json:"failureMessage,omitempty"`
}

func toAttemptResponse(s orchestrate.Snapshot) attemptResponse {
	return attemptResponse{
		OrderID:         s.OrderID,
		State:           string(s.State),
		Rail:            string(s.Rail),
		CouponCode:      s.Coupon.Code,
		UserCouponID:    s.Coupon.UserCouponID,
		Quote:           s.Quote,
		FailureCategory: string(s.FailureCategory),
		FailureMessage:  s.FailureMessage,
	}
}
