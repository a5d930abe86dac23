package events

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type samplePayload struct {
	ContentID string `json:"content_id"`
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryEventBus(zap.NewNop())
	defer bus.Close()

	received := make(chan samplePayload, 1)
	_, err := bus.Subscribe("content.transition.completed", func(ctx context.Context, e *Event) error {
		var p samplePayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		received <- p
		return nil
	})
	require.NoError(t, err)

	event, err := NewEvent("transition.completed", "test", samplePayload{ContentID: "abc"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), "content.transition.completed", event))

	select {
	case p := <-received:
		assert.Equal(t, "abc", p.ContentID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMemoryEventBus_SubjectsMatchExactly(t *testing.T) {
	bus := NewMemoryEventBus(zap.NewNop())
	defer bus.Close()

	var exact, other int32
	_, err := bus.Subscribe("content.transition.completed", func(ctx context.Context, e *Event) error {
		atomic.AddInt32(&exact, 1)
		return nil
	})
	require.NoError(t, err)
	_, err = bus.Subscribe("content.transition", func(ctx context.Context, e *Event) error {
		atomic.AddInt32(&other, 1)
		return nil
	})
	require.NoError(t, err)

	event, _ := NewEvent("x", "test", nil)
	require.NoError(t, bus.Publish(context.Background(), "content.transition.completed", event))
	require.NoError(t, bus.Publish(context.Background(), "content.transition.completed.v2", event))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&exact) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&exact))
	assert.Equal(t, int32(0), atomic.LoadInt32(&other))
}

func TestMemoryEventBus_QueueAndFanoutTogether(t *testing.T) {
	bus := NewMemoryEventBus(zap.NewNop())
	defer bus.Close()

	var first, second, fanout int32
	_, err := bus.QueueSubscribe("s", "recorders", func(ctx context.Context, e *Event) error {
		atomic.AddInt32(&first, 1)
		return nil
	})
	require.NoError(t, err)
	leaving, err := bus.QueueSubscribe("s", "recorders", func(ctx context.Context, e *Event) error {
		atomic.AddInt32(&second, 1)
		return nil
	})
	require.NoError(t, err)
	_, err = bus.Subscribe("s", func(ctx context.Context, e *Event) error {
		atomic.AddInt32(&fanout, 1)
		return nil
	})
	require.NoError(t, err)

	_, err = bus.QueueSubscribe("s", "", func(ctx context.Context, e *Event) error { return nil })
	assert.Error(t, err)

	require.NoError(t, leaving.Unsubscribe())

	event, _ := NewEvent("x", "test", nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), "s", event))
	}

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&first) == 3 && atomic.LoadInt32(&fanout) == 3
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&second))
}

func TestMemoryEventBus_QueueDeliversOnce(t *testing.T) {
	bus := NewMemoryEventBus(zap.NewNop())
	defer bus.Close()

	var count int32
	handler := func(ctx context.Context, e *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	}
	_, err := bus.QueueSubscribe("content.transition.completed", "recorders", handler)
	require.NoError(t, err)
	_, err = bus.QueueSubscribe("content.transition.completed", "recorders", handler)
	require.NoError(t, err)

	event, _ := NewEvent("x", "test", nil)
	for i := 0; i < 4; i++ {
		require.NoError(t, bus.Publish(context.Background(), "content.transition.completed", event))
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&count) == 4 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(4), atomic.LoadInt32(&count))
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryEventBus(zap.NewNop())
	defer bus.Close()

	var count int32
	sub, err := bus.Subscribe("a", func(ctx context.Context, e *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())

	event, _ := NewEvent("x", "test", nil)
	require.NoError(t, bus.Publish(context.Background(), "a", event))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&count))
}

func TestMemoryEventBus_ClosedRejectsPublish(t *testing.T) {
	bus := NewMemoryEventBus(zap.NewNop())
	bus.Close()

	assert.False(t, bus.IsConnected())
	event, _ := NewEvent("x", "test", nil)
	assert.Error(t, bus.Publish(context.Background(), "a", event))
	_, err := bus.Subscribe("a", func(ctx context.Context, e *Event) error { return nil })
	assert.Error(t, err)
}

func TestNATSEventBus_RoundTrip(t *testing.T) {
	url := os.Getenv("PORTAL_TEST_NATS_URL")
	if url == "" {
		t.Skip("PORTAL_TEST_NATS_URL not set")
	}

	bus, err := NewNATSEventBus(NATSOptions{URL: url, ClientID: "events-test", MaxReconnects: 1}, zap.NewNop())
	require.NoError(t, err)
	defer bus.Close()

	received := make(chan string, 1)
	_, err = bus.Subscribe("portal.test.roundtrip", func(ctx context.Context, e *Event) error {
		var p samplePayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		received <- p.ContentID
		return nil
	})
	require.NoError(t, err)

	event, _ := NewEvent("roundtrip", "test", samplePayload{ContentID: "n1"})
	require.NoError(t, bus.Publish(context.Background(), "portal.test.roundtrip", event))

	select {
	case id := <-received:
		assert.Equal(t, "n1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}
