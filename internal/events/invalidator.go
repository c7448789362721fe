package events

import (
	"context"
	"encoding/json"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

// HistoryKey builds the cache key for a user's payment history.
func HistoryKey(prefix, userID string) string {
	if prefix == "" {
		prefix = "payhist:"
	}
	return prefix + userID
}

// RedisInvalidator drops cached payment-history entries when an order
// settles, so subsequent reads reflect the new payment record.
type RedisInvalidator struct {
	Client *redis.Client
	Prefix string
}

// Notify implements Notifier. Topics other than payment.settled are ignored.
func (inv RedisInvalidator) Notify(ctx context.Context, ev Event) error {
	if inv.Client == nil || ev.Topic != TopicPaymentSettled {
		return nil
	}
	var payload SettledPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return err
	}
	keys := make([]string, 0, 2)
	if strings.TrimSpace(payload.UserID) != "" {
		keys = append(keys, HistoryKey(inv.Prefix, payload.UserID))
	}
	if strings.TrimSpace(payload.OrderID) != "" {
		keys = append(keys, HistoryKey(inv.Prefix, "order:"+payload.OrderID))
	}
	if len(keys) == 0 {
		return nil
	}
	return inv.Client.Del(ctx, keys...).Err()
}
