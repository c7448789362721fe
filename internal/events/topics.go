package events

// Topic constants for settlement lifecycle events.
const (
	TopicPaymentSettled = "payment.settled"
	TopicPaymentFailed  = "payment.failed"
)

// Task type identifiers used on the background queue.
const (
	TaskPaymentSettled = "payment:settled"
	TaskPaymentFailed  = "payment:failed"
)

// TaskType maps an event topic to its queue task type. Topics without a task
// are handled inline only.
func TaskType(topic string) (string, bool) {
	switch topic {
	case TopicPaymentSettled:
		return TaskPaymentSettled, true
	case TopicPaymentFailed:
		return TaskPaymentFailed, true
	default:
		return "", false
	}
}

// SettledPayload is the body of a payment.settled event.
type SettledPayload struct {
	OrderID     string `json:"orderId"`
	UserID      string `json:"userId"`
	AmountMinor int64  `json:"amountMinor"`
	Currency    string `json:"currency"`
	Rail        string `json:"rail"`
}

// FailedPayload is the body of a payment.failed event.
type FailedPayload struct {
	OrderID  string `json:"orderId"`
	UserID   string `json:"userId"`
	Rail     string `json:"rail"`
	Category string `json:"category"`
}
