package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/broker"
)

func setup(t *testing.T) *Broker {
	t.Helper()
	b := New(nil)
	t.Cleanup(func() { _ = b.Close() })

	ctx := context.Background()
	require.NoError(t, b.CreateTopic(ctx, "t_events"))
	require.NoError(t, b.CreateSubscription(ctx, "t_events", "sub_t_a"))
	return b
}

type collector struct {
	mu   sync.Mutex
	msgs []string
}

func (c *collector) add(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, s)
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func TestCreateIsNotIdempotent(t *testing.T) {
	b := setup(t)
	ctx := context.Background()

	assert.ErrorIs(t, b.CreateTopic(ctx, "t_events"), broker.ErrAlreadyExists)
	assert.ErrorIs(t, b.CreateSubscription(ctx, "t_events", "sub_t_a"), broker.ErrAlreadyExists)
	assert.ErrorIs(t, b.CreateSubscription(ctx, "missing", "sub_x"), broker.ErrNotFound)

	ok, err := b.TopicExists(ctx, "t_events")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.SubscriptionExists(ctx, "sub_t_b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPublishFansOutToSubscriptions(t *testing.T) {
	b := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.CreateSubscription(ctx, "t_events", "sub_t_b"))

	var a, c collector
	go func() {
		_ = b.Receive(ctx, "sub_t_a", func(_ context.Context, m *broker.Message) { m.Ack(); a.add(string(m.Data)) })
	}()
	go func() {
		_ = b.Receive(ctx, "sub_t_b", func(_ context.Context, m *broker.Message) { m.Ack(); c.add(string(m.Data)) })
	}()

	id, err := b.Publish(ctx, "t_events", []byte("one"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		return len(a.snapshot()) == 1 && len(c.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"one"}, a.snapshot())
	assert.Equal(t, []string{"one"}, c.snapshot())
}

func TestPublishToMissingTopic(t *testing.T) {
	b := New(nil)
	_, err := b.Publish(context.Background(), "nope", []byte("x"))
	assert.ErrorIs(t, err, broker.ErrNotFound)
}

func TestUnackedMessagesAreRedelivered(t *testing.T) {
	b := setup(t)
	_, err := b.Publish(context.Background(), "t_events", []byte("m1"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- b.Receive(ctx, "sub_t_a", func(_ context.Context, m *broker.Message) {
			got <- string(m.Data) // never acked
		})
	}()

	assert.Equal(t, "m1", <-got)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, b.Pending("sub_t_a"))

	var again collector
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	go func() {
		_ = b.Receive(ctx2, "sub_t_a", func(_ context.Context, m *broker.Message) { m.Ack(); again.add(string(m.Data)) })
	}()
	require.Eventually(t, func() bool { return len(again.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "m1", again.snapshot()[0])
	require.Eventually(t, func() bool { return b.Pending("sub_t_a") == 0 }, time.Second, 10*time.Millisecond)
}

func TestDeleteSubscriptionStopsReceive(t *testing.T) {
	b := setup(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- b.Receive(ctx, "sub_t_a", func(context.Context, *broker.Message) {})
	}()

	require.NoError(t, b.DeleteSubscription(ctx, "sub_t_a"))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, broker.ErrNotFound)
	case <-time.After(time.Second):
		t.Fatal("receive did not return after delete")
	}

	assert.ErrorIs(t, b.DeleteSubscription(ctx, "sub_t_a"), broker.ErrNotFound)
	assert.ErrorIs(t, b.Receive(ctx, "sub_t_a", nil), broker.ErrNotFound)
}

func TestListSubscriptionsSorted(t *testing.T) {
	b := setup(t)
	ctx := context.Background()
	require.NoError(t, b.CreateSubscription(ctx, "t_events", "sub_t_0"))

	names, err := b.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub_t_0", "sub_t_a"}, names)
}

func TestCloseStopsReceiversAndRejectsCalls(t *testing.T) {
	b := setup(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- b.Receive(ctx, "sub_t_a", func(context.Context, *broker.Message) {})
	}()

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.ErrorIs(t, <-done, broker.ErrClosed)

	_, err := b.TopicExists(ctx, "t_events")
	assert.ErrorIs(t, err, broker.ErrClosed)
}
