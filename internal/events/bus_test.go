package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payflow/internal/events"
)

type recordingStore struct {
	events []events.Event
	err    error
}

func (s *recordingStore) InsertEvent(_ context.Context, ev events.Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

type recordingScheduler struct {
	events []events.Event
	err    error
}

func (s *recordingScheduler) Schedule(_ context.Context, ev events.Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

type recordingNotifier struct {
	events []events.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, ev events.Event) error {
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, ev)
	return nil
}

func TestEmitPersistsAndFansOut(t *testing.T) {
	store := &recordingStore{}
	scheduler := &recordingScheduler{}
	notifier := &recordingNotifier{}
	bus := &events.Bus{Store: store, Scheduler: scheduler, Notifiers: []events.Notifier{notifier}}

	ev, err := bus.Emit(context.Background(), events.TopicPaymentSettled, "ord-1", events.SettledPayload{
		OrderID: "ord-1", UserID: "user-1", AmountMinor: 8500, Currency: "IDR", Rail: "CARD",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, ev.ID)
	require.Len(t, store.events, 1)
	require.Len(t, scheduler.events, 1)
	require.Len(t, notifier.events, 1)

	var payload events.SettledPayload
	require.NoError(t, json.Unmarshal(store.events[0].Payload, &payload))
	require.Equal(t, int64(8500), payload.AmountMinor)
}

func TestEmitStoreFailureAborts(t *testing.T) {
	store := &recordingStore{err: errors.New("db down")}
	scheduler := &recordingScheduler{}
	bus := &events.Bus{Store: store, Scheduler: scheduler}

	_, err := bus.Emit(context.Background(), events.TopicPaymentSettled, "ord-1", nil)
	require.Error(t, err)
	require.Empty(t, scheduler.events, "fanout must not run when persistence fails")
}

func TestEmitJoinsFanoutFailures(t *testing.T) {
	store := &recordingStore{}
	scheduler := &recordingScheduler{err: errors.New("queue down")}
	notifier := &recordingNotifier{err: errors.New("redis down")}
	bus := &events.Bus{Store: store, Scheduler: scheduler, Notifiers: []events.Notifier{notifier}}

	_, err := bus.Emit(context.Background(), events.TopicPaymentSettled, "ord-1", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "queue down")
	require.Contains(t, err.Error(), "redis down")
	require.Len(t, store.events, 1, "emit persists even when fanout fails")
}

func TestEmitValidation(t *testing.T) {
	bus := &events.Bus{}
	_, err := bus.Emit(context.Background(), "", "ord-1", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicPaymentSettled, " ", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicPaymentSettled, "ord-1", []byte("not json"))
	require.Error(t, err)
}

func TestTaskTypeMapping(t *testing.T) {
	task, ok := events.TaskType(events.TopicPaymentSettled)
	require.True(t, ok)
	require.Equal(t, events.TaskPaymentSettled, task)

	task, ok = events.TaskType(events.TopicPaymentFailed)
	require.True(t, ok)
	require.Equal(t, events.TaskPaymentFailed, task)

	_, ok = events.TaskType("payment.unknown")
	require.False(t, ok)
}

func TestRedisInvalidatorDropsHistoryKeys(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.NoError(t, client.Set(ctx, "payhist:user-1", "cached history", 0).Err())
	require.NoError(t, client.Set(ctx, "payhist:order:ord-1", "cached order", 0).Err())
	require.NoError(t, client.Set(ctx, "payhist:user-2", "other user", 0).Err())

	payload, err := json.Marshal(events.SettledPayload{OrderID: "ord-1", UserID: "user-1"})
	require.NoError(t, err)

	inv := events.RedisInvalidator{Client: client}
	err = inv.Notify(ctx, events.Event{Topic: events.TopicPaymentSettled, OrderID: "ord-1", Payload: payload})
	require.NoError(t, err)

	require.False(t, mr.Exists("payhist:user-1"))
	require.False(t, mr.Exists("payhist:order:ord-1"))
	require.True(t, mr.Exists("payhist:user-2"))
}

func TestRedisInvalidatorIgnoresOtherTopics(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.NoError(t, client.Set(ctx, "payhist:user-1", "cached history", 0).Err())

	payload, err := json.Marshal(events.FailedPayload{OrderID: "ord-1", UserID: "user-1"})
	require.NoError(t, err)

	inv := events.RedisInvalidator{Client: client}
	err = inv.Notify(ctx, events.Event{Topic: events.TopicPaymentFailed, OrderID: "ord-1", Payload: payload})
	require.NoError(t, err)
	require.True(t, mr.Exists("payhist:user-1"))
}
