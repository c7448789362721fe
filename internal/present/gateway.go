package present

import (
	"context"

	"github.com/noah-isme/payflow/internal/gateway"
)

// GatewaySheet completes an embedded sheet session server-side by confirming
// the processor reference directly. The processor already knows the method
// restriction from the quote, so no method is sent.
type GatewaySheet struct {
	Gateway gateway.Client
}

// Present confirms the sheet session against the gateway and reports the
// terminal outcome.
func (p GatewaySheet) Present(ctx context.Context, session SheetSession) (gateway.Outcome, error) {
	if p.Gateway == nil {
		return gateway.Outcome{}, &gateway.Error{Message: "sheet gateway not configured"}
	}
	return p.Gateway.Confirm(ctx, gateway.ConfirmRequest{
		ProcessorReference: session.ProcessorReference,
	})
}
