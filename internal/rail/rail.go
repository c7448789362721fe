package rail

import (
	"fmt"
	"strings"
)

// Rail identifies one of the supported payment method families. The set is
// closed: every rail maps to exactly one confirmation strategy and one
// backend method restriction.
type Rail string

const (
	// Card charges a stored or newly entered card through the embedded
	// confirmation sheet.
	Card Rail = "CARD"
	// Wallet charges through the device's native wallet. The device produces
	// the authorization token; the gateway confirms with it afterwards.
	Wallet Rail = "WALLET"
	// VirtualAccount confirms immediately against the gateway; any required
	// redirect happens out of process.
	VirtualAccount Rail = "VIRTUAL_ACCOUNT"
	// EWallet charges an e-wallet balance through the embedded sheet.
	EWallet Rail = "EWALLET"
)

// All enumerates every supported rail.
func All() []Rail {
	return []Rail{Card, Wallet, VirtualAccount, EWallet}
}

// Parse converts a wire value into a Rail.
func Parse(value string) (Rail, error) {
	switch Rail(strings.ToUpper(strings.TrimSpace(value))) {
	case Card:
		return Card, nil
	case Wallet:
		return Wallet, nil
	case VirtualAccount:
		return VirtualAccount, nil
	case EWallet:
		return EWallet, nil
	default:
		return "", fmt.Errorf("rail: unsupported rail %q", value)
	}
}

// Valid reports whether the rail is a member of the closed set.
func (r Rail) Valid() bool {
	switch r {
	case Card, Wallet, VirtualAccount, EWallet:
		return true
	default:
		return false
	}
}

// Restriction returns the method-family restriction parameter sent to the
// backend when a quote is requested for this rail. The restriction scopes the
// processor reference so the embedded sheet cannot surface unexpected
// methods. Wallet is the exception: it requests an unrestricted quote and may
// reuse a quote created for any rail.
func (r Rail) Restriction() string {
	switch r {
	case Card:
		return "card"
	case VirtualAccount:
		return "virtual_account"
	case EWallet:
		return "ewallet"
	default:
		return ""
	}
}

// Strategy names the confirmation flow used to authorize a quote.
type Strategy int

const (
	// StrategyEmbeddedSheet presents the in-app confirmation sheet pre-bound
	// to the processor reference.
	StrategyEmbeddedSheet Strategy = iota
	// StrategyNativeWallet authorizes on-device first, then confirms the
	// resulting token with the gateway.
	StrategyNativeWallet
	// StrategyDirectConfirm confirms against the gateway with no intermediate
	// UI.
	StrategyDirectConfirm
)

// Strategy returns the confirmation strategy for the rail.
func (r Rail) Strategy() Strategy {
	switch r {
	case Wallet:
		return StrategyNativeWallet
	case VirtualAccount:
		return StrategyDirectConfirm
	default:
		return StrategyEmbeddedSheet
	}
}

// ReusesExistingQuote reports whether a quote obtained for another rail stays
// usable after switching to this rail.
func (r Rail) ReusesExistingQuote() bool {
	return r == Wallet
}

func (r Rail) String() string {
	return string(r)
}
