package gateway

import (
	"fmt"
	"strings"
)

// Error is the normalised form of a gateway failure. Vendor responses are
// uneven: some carry a numeric code, some only a vendor message, some wrap the
// actual cause in a nested underlying error. All three shapes collapse into
// this one type so the classifier can walk them uniformly.
type Error struct {
	VendorCode    int    `json:"code,omitempty"`
	VendorMessage string `json:"vendor_message,omitempty"`
	Message       string `json:"message,omitempty"`
	Underlying    *Error `json:"underlying,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	if e.VendorCode != 0 {
		parts = append(parts, fmt.Sprintf("code %d", e.VendorCode))
	}
	if strings.TrimSpace(e.Message) != "" {
		parts = append(parts, e.Message)
	} else if strings.TrimSpace(e.VendorMessage) != "" {
		parts = append(parts, e.VendorMessage)
	}
	msg := strings.Join(parts, ": ")
	if msg == "" {
		msg = "gateway error"
	}
	if e.Underlying != nil {
		return msg + " (" + e.Underlying.Error() + ")"
	}
	return msg
}

// Unwrap exposes the nested underlying error to errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil || e.Underlying == nil {
		return nil
	}
	return e.Underlying
}

// Description returns the most specific human-readable text available,
// preferring the deepest underlying error.
func (e *Error) Description() string {
	if e == nil {
		return ""
	}
	if e.Underlying != nil {
		if d := e.Underlying.Description(); d != "" {
			return d
		}
	}
	if strings.TrimSpace(e.Message) != "" {
		return e.Message
	}
	return e.VendorMessage
}

// Walk visits the error and every nested underlying error, outermost first,
// until fn returns true.
func (e *Error) Walk(fn func(*Error) bool) {
	for cur := e; cur != nil; cur = cur.Underlying {
		if fn(cur) {
			return
		}
	}
}
