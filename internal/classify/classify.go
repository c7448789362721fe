// Package classify maps heterogeneous gateway failures into the fixed set of
// user-facing categories the client renders. Vendor responses range from
// structured code/underlying-error envelopes to bare free-text messages; the
// classifier tries the most reliable signal first and degrades gracefully.
package classify

import (
	"errors"
	"strings"

	"github.com/noah-isme/payflow/internal/gateway"
)

// Category is a stable, user-facing failure bucket.
type Category string

const (
	MethodUnavailable     Category = "METHOD_UNAVAILABLE"
	MethodDeclined        Category = "METHOD_DECLINED"
	NetworkFailure        Category = "NETWORK_FAILURE"
	AuthenticationFailure Category = "AUTHENTICATION_FAILURE"
	InvalidRequest        Category = "INVALID_REQUEST"
	Unknown               Category = "UNKNOWN"
)

// Result pairs the category with the sentence shown to the payer.
type Result struct {
	Category Category
	Message  string
}

var messages = map[Category]string{
	MethodUnavailable:     "This payment method is currently unavailable. Please choose another one.",
	MethodDeclined:        "Your payment was declined. Please check the payment method and try again.",
	NetworkFailure:        "We could not reach the payment service. Please check your connection and try again.",
	AuthenticationFailure: "Payment authentication failed. Please try again.",
	InvalidRequest:        "The payment request was rejected. Please restart the payment.",
	Unknown:               "The payment could not be completed.",
}

// IsCancellation reports whether the failure is a user-initiated cancellation.
// Cancellations are detected before classification and never surface as
// errors.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		canceled := false
		gwErr.Walk(func(e *gateway.Error) bool {
			text := strings.ToLower(e.Message + " " + e.VendorMessage)
			if strings.Contains(text, "cancel") {
				canceled = true
				return true
			}
			return false
		})
		return canceled
	}
	return strings.Contains(strings.ToLower(err.Error()), "cancel")
}

// Classify buckets a confirmation or quote failure. Order of checks:
// known vendor code ranges, structured vendor message, free-text description,
// then Unknown with the original description preserved for display.
func Classify(err error) Result {
	if err == nil {
		return Result{Category: Unknown, Message: messages[Unknown]}
	}

	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		if cat, ok := byVendorCode(gwErr); ok {
			return Result{Category: cat, Message: messages[cat]}
		}
		if cat, ok := byVendorMessage(gwErr); ok {
			return Result{Category: cat, Message: messages[cat]}
		}
		description := gwErr.Description()
		if cat, ok := byDescription(description); ok {
			return Result{Category: cat, Message: messages[cat]}
		}
		return unknown(description)
	}

	if cat, ok := byDescription(err.Error()); ok {
		return Result{Category: cat, Message: messages[cat]}
	}
	return unknown(err.Error())
}

func unknown(description string) Result {
	msg := messages[Unknown]
	if strings.TrimSpace(description) != "" {
		msg = msg + " (" + strings.TrimSpace(description) + ")"
	}
	return Result{Category: Unknown, Message: msg}
}

// byVendorCode checks every error in the chain for a code inside a known
// range. Code 50 is the legacy network failure code some processors still
// emit.
func byVendorCode(err *gateway.Error) (Category, bool) {
	var cat Category
	found := false
	err.Walk(func(e *gateway.Error) bool {
		switch code := e.VendorCode; {
		case code == 0:
			return false
		case code == 50, code >= 5000 && code <= 5999:
			cat, found = NetworkFailure, true
		case code >= 4000 && code <= 4999:
			cat, found = MethodDeclined, true
		case code >= 3000 && code <= 3999:
			cat, found = MethodUnavailable, true
		case code >= 2000 && code <= 2999:
			cat, found = AuthenticationFailure, true
		case code >= 1000 && code <= 1999:
			cat, found = InvalidRequest, true
		default:
			return false
		}
		return true
	})
	return cat, found
}

func byVendorMessage(err *gateway.Error) (Category, bool) {
	var cat Category
	found := false
	err.Walk(func(e *gateway.Error) bool {
		text := strings.ToLower(e.VendorMessage)
		if text == "" {
			return false
		}
		switch {
		case strings.Contains(text, "not allowed"),
			strings.Contains(text, "not enabled"),
			strings.Contains(text, "unavailable"):
			cat, found = MethodUnavailable, true
			return true
		}
		return false
	})
	return cat, found
}

func byDescription(description string) (Category, bool) {
	text := strings.ToLower(description)
	switch {
	case text == "":
		return "", false
	case strings.Contains(text, "declined"),
		strings.Contains(text, "insufficient"),
		strings.Contains(text, "expired"):
		return MethodDeclined, true
	case strings.Contains(text, "network"),
		strings.Contains(text, "connection"),
		strings.Contains(text, "timeout"),
		strings.Contains(text, "deadline exceeded"):
		return NetworkFailure, true
	case strings.Contains(text, "authentication"):
		return AuthenticationFailure, true
	case strings.Contains(text, "invalid") && strings.Contains(text, "request"):
		return InvalidRequest, true
	default:
		return "", false
	}
}

// Message returns the fixed sentence for a category.
func Message(cat Category) string {
	if msg, ok := messages[cat]; ok {
		return msg
	}
	return messages[Unknown]
}
