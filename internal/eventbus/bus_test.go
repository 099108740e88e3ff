package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/conductor/internal/models"
	"github.com/harrison/conductor/internal/store"
)

func newTestBus(t *testing.T) (*Bus, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:", store.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s.DB(), nil), s
}

func TestPublish_AssignsIDAndTimestamp(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	id, err := bus.Publish(ctx, models.Event{EventType: models.EventTaskCreated})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	events, err := bus.GetEvents(ctx, QueryParams{EventType: models.EventTaskCreated})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].EventID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestPublish_DefaultCorrelationIDFromTaskIDPayload(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	_, err := bus.Publish(ctx, models.Event{
		EventType: models.EventTaskStarted,
		Payload:   map[string]interface{}{"task_id": "t-1"},
	})
	require.NoError(t, err)

	events, err := bus.GetEvents(ctx, QueryParams{EventType: models.EventTaskStarted})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "workflow_t-1", events[0].CorrelationID)
}

func TestSubscribe_PatternMatching(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	var exactHits, prefixHits, wildcardHits int
	bus.Subscribe("task.completed", "exact-sub", func(models.Event) { exactHits++ })
	bus.Subscribe("task.*", "prefix-sub", func(models.Event) { prefixHits++ })
	bus.Subscribe("*", "wildcard-sub", func(models.Event) { wildcardHits++ })

	_, err := bus.Publish(ctx, models.Event{EventType: models.EventTaskCompleted})
	require.NoError(t, err)
	_, err = bus.Publish(ctx, models.Event{EventType: models.EventAgentStarted})
	require.NoError(t, err)

	assert.Equal(t, 1, exactHits, "exact pattern should only match task.completed")
	assert.Equal(t, 1, prefixHits, "task.* should only match the task.* event")
	assert.Equal(t, 2, wildcardHits, "* should match every event")
}

func TestSubscribe_PanicIsolatedFromOtherSubscribers(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	var safeCalled bool
	bus.Subscribe("*", "panicker", func(models.Event) { panic("boom") })
	bus.Subscribe("*", "safe", func(models.Event) { safeCalled = true })

	_, err := bus.Publish(ctx, models.Event{EventType: models.EventTaskCreated})
	require.NoError(t, err)
	assert.True(t, safeCalled, "a panicking subscriber must not prevent others from running")
}

func TestUnsubscribe(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	var called bool
	id := bus.Subscribe("*", "sub", func(models.Event) { called = true })
	assert.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(id), "unsubscribing twice should report false the second time")

	_, err := bus.Publish(ctx, models.Event{EventType: models.EventTaskCreated})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestGetEventHistory_OrderedByCorrelationID(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	corr := "workflow_t-1"
	_, err := bus.Publish(ctx, models.Event{EventType: models.EventTaskStarted, CorrelationID: corr})
	require.NoError(t, err)
	_, err = bus.Publish(ctx, models.Event{EventType: models.EventTaskCompleted, CorrelationID: corr})
	require.NoError(t, err)
	_, err = bus.Publish(ctx, models.Event{EventType: models.EventTaskStarted, CorrelationID: "workflow_other"})
	require.NoError(t, err)

	history, err := bus.GetEventHistory(ctx, corr, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.EventTaskStarted, history[0].EventType)
	assert.Equal(t, models.EventTaskCompleted, history[1].EventType)
}

func TestClearOldEvents(t *testing.T) {
	bus, s := newTestBus(t)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -40)
	_, err := s.DB().ExecContext(ctx, `
		INSERT INTO events (event_id, event_type, timestamp) VALUES (?, ?, ?)`,
		"old-event", models.EventTaskCreated, old)
	require.NoError(t, err)

	_, err = bus.Publish(ctx, models.Event{EventType: models.EventTaskCreated})
	require.NoError(t, err)

	n, err := bus.ClearOldEvents(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	events, err := bus.GetEvents(ctx, QueryParams{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
