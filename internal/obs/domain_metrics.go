package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentQuoteTotal counts quote request outcomes per rail.
	PaymentQuoteTotal *prometheus.CounterVec
	// PaymentConfirmTotal counts confirmation outcomes per rail.
	PaymentConfirmTotal *prometheus.CounterVec
	// PaymentSettledTotal counts settled attempts, including zero-amount
	// coupon settlements.
	PaymentSettledTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers payment-domain
// Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentQuoteTotal = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_quote_total",
			Help:      "Count of quote request outcomes.",
		}, []string{"rail", "result"}))
		PaymentConfirmTotal = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_confirm_total",
			Help:      "Count of confirmation outcomes.",
		}, []string{"rail", "result"}))
		PaymentSettledTotal = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_settled_total",
			Help:      "Count of settled payment attempts.",
		}, []string{"rail"}))
	})
}
