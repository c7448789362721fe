// Package journal persists payment attempts, their state transitions and
// emitted events. The journal is an audit trail: orchestration never reads it
// back, so writes are best-effort from the state machine's point of view.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/payflow/internal/events"
)

// Store writes journal rows through a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a journal store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// UpsertAttempt records the existence of a payment attempt for an order.
func (s *Store) UpsertAttempt(ctx context.Context, orderID, userID string, amountMinor int64, currency string) error {
	const stmt = `
INSERT INTO payment_attempts (order_id, user_id, amount_minor, currency, created_at, updated_at)
VALUES ($1, $2, $3, $4, now(), now())
ON CONFLICT (order_id) DO UPDATE SET updated_at = now()`

	_, err := s.pool.Exec(ctx, stmt, orderID, userID, amountMinor, currency)
	if err != nil {
		return fmt.Errorf("journal: upsert attempt: %w", err)
	}
	return nil
}

// RecordTransition appends one state transition for an order's attempt.
func (s *Store) RecordTransition(ctx context.Context, orderID, from, to string, detail []byte) error {
	if len(detail) == 0 || !json.Valid(detail) {
		detail = []byte("{}")
	}
	const stmt = `
INSERT INTO payment_transitions (order_id, from_state, to_state, detail, occurred_at)
VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, stmt, orderID, from, to, detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("journal: record transition: %w", err)
	}
	return nil
}

// MarkTerminal stamps the attempt with its terminal state and user-facing
// message, if any.
func (s *Store) MarkTerminal(ctx context.Context, orderID, state, category, message string) error {
	const stmt = `
UPDATE payment_attempts
SET terminal_state = $2, failure_category = NULLIF($3, ''), failure_message = NULLIF($4, ''), updated_at = now()
WHERE order_id = $1`

	_, err := s.pool.Exec(ctx, stmt, orderID, state, category, message)
	if err != nil {
		return fmt.Errorf("journal: mark terminal: %w", err)
	}
	return nil
}

// InsertEvent implements events.Store.
func (s *Store) InsertEvent(ctx context.Context, ev events.Event) error {
	const stmt = `
INSERT INTO payment_events (id, topic, order_id, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, stmt, ev.ID, ev.Topic, ev.OrderID, []byte(ev.Payload), ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("journal: insert event: %w", err)
	}
	return nil
}
