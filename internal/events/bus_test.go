package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := NewBus(nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = bus.Close()
	})
	return bus
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	received := make(chan StageEvent, 4)
	sub, err := bus.SubscribeStages(func(evt StageEvent) {
		received <- evt
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	record, err := json.Marshal(map[string]string{"agent_id": "analyst"})
	require.NoError(t, err)

	err = bus.PublishStage(ctx, StageEvent{
		SessionID: "sess_1",
		Stage:     "analysis",
		TaskID:    "task_auth",
		Record:    record,
	})
	require.NoError(t, err)
	require.NoError(t, bus.Flush())

	select {
	case evt := <-received:
		assert.Equal(t, "sess_1", evt.SessionID)
		assert.Equal(t, "analysis", evt.Stage)
		assert.Equal(t, "task_auth", evt.TaskID)
		assert.False(t, evt.EmittedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("stage event not delivered")
	}
}

func TestBus_SubscriberSeesAllSessions(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	received := make(chan StageEvent, 4)
	_, err := bus.SubscribeStages(func(evt StageEvent) {
		received <- evt
	})
	require.NoError(t, err)

	for _, sessionID := range []string{"sess_a", "sess_b"} {
		require.NoError(t, bus.PublishStage(ctx, StageEvent{
			SessionID: sessionID,
			Stage:     "implementation",
		}))
	}
	require.NoError(t, bus.Flush())

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case evt := <-received:
			seen[evt.SessionID] = true
		case <-time.After(2 * time.Second):
			t.Fatal("expected two stage events")
		}
	}
	assert.True(t, seen["sess_a"])
	assert.True(t, seen["sess_b"])
}

func TestBus_DropsMalformedPayloads(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	received := make(chan StageEvent, 4)
	_, err := bus.SubscribeStages(func(evt StageEvent) {
		received <- evt
	})
	require.NoError(t, err)

	// Raw garbage on the stage subject must not reach the handler.
	require.NoError(t, bus.conn.Publish("stage.sess_1.analysis", []byte("{broken")))
	require.NoError(t, bus.PublishStage(ctx, StageEvent{SessionID: "sess_1", Stage: "validation"}))
	require.NoError(t, bus.Flush())

	select {
	case evt := <-received:
		assert.Equal(t, "validation", evt.Stage)
	case <-time.After(2 * time.Second):
		t.Fatal("well-formed event not delivered")
	}
	assert.Empty(t, received)
}

func TestBus_Validation(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	t.Run("requires session id", func(t *testing.T) {
		err := bus.PublishStage(ctx, StageEvent{Stage: "analysis"})
		require.Error(t, err)
	})

	t.Run("requires stage", func(t *testing.T) {
		err := bus.PublishStage(ctx, StageEvent{SessionID: "sess_1"})
		require.Error(t, err)
	})

	t.Run("requires handler", func(t *testing.T) {
		_, err := bus.SubscribeStages(nil)
		require.Error(t, err)
	})

	t.Run("rejects canceled contexts", func(t *testing.T) {
		canceled, cancel := context.WithCancel(context.Background())
		cancel()
		err := bus.PublishStage(canceled, StageEvent{SessionID: "sess_1", Stage: "analysis"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBus_Close(t *testing.T) {
	bus, err := NewBus(nil)
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	err = bus.PublishStage(context.Background(), StageEvent{SessionID: "sess_1", Stage: "analysis"})
	require.Error(t, err)
	_, err = bus.SubscribeStages(func(StageEvent) {})
	require.Error(t, err)
}
