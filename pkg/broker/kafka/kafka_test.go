package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/broker"
)

func newTestBroker(t *testing.T) (*Broker, *fakeCluster) {
	t.Helper()
	cluster := newFakeCluster()
	b, err := NewWithFactory(Config{
		Brokers:     "localhost:9092",
		PollTimeout: 10 * time.Millisecond,
	}, cluster, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, cluster
}

type collector struct {
	mu  sync.Mutex
	ids []string
	got []string
}

func (c *collector) handle(_ context.Context, m *broker.Message) {
	m.Ack()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, m.ID)
	c.got = append(c.got, string(m.Data))
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

func TestCreateTopicIsIdempotentViaAlreadyExists(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	ok, err := b.TopicExists(ctx, "t_events")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.CreateTopic(ctx, "t_events"))
	assert.ErrorIs(t, b.CreateTopic(ctx, "t_events"), broker.ErrAlreadyExists)

	ok, err = b.TopicExists(ctx, "t_events")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateTopicRequestFailure(t *testing.T) {
	b, cluster := newTestBroker(t)
	cluster.createErr = errors.New("broker unreachable")

	err := b.CreateTopic(context.Background(), "t_events")
	require.Error(t, err)
	assert.NotErrorIs(t, err, broker.ErrAlreadyExists)
}

func TestSubscriptionLifecycle(t *testing.T) {
	b, cluster := newTestBroker(t)
	ctx := context.Background()

	assert.ErrorIs(t, b.CreateSubscription(ctx, "t_events", "sub_t_a"), broker.ErrNotFound)

	require.NoError(t, b.CreateTopic(ctx, "t_events"))
	require.NoError(t, b.CreateSubscription(ctx, "t_events", "sub_t_a"))
	assert.ErrorIs(t, b.CreateSubscription(ctx, "t_events", "sub_t_a"), broker.ErrAlreadyExists)
	assert.True(t, cluster.groupExists("sub_t_a"))

	ok, err := b.SubscriptionExists(ctx, "sub_t_a")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.DeleteSubscription(ctx, "sub_t_a"))
	assert.False(t, cluster.groupExists("sub_t_a"))
	assert.ErrorIs(t, b.DeleteSubscription(ctx, "sub_t_a"), broker.ErrNotFound)

	ok, err = b.SubscriptionExists(ctx, "sub_t_a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListSubscriptionsIncludesClusterGroups(t *testing.T) {
	b, cluster := newTestBroker(t)
	ctx := context.Background()

	require.NoError(t, b.CreateTopic(ctx, "t_events"))
	require.NoError(t, b.CreateSubscription(ctx, "t_events", "sub_t_b"))
	cluster.mu.Lock()
	cluster.groups["sub_t_remote"] = true
	cluster.mu.Unlock()

	names, err := b.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub_t_b", "sub_t_remote"}, names)
}

func TestReceiveDeliversAndCommits(t *testing.T) {
	b, cluster := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.CreateTopic(ctx, "t_events"))
	_, err := b.Publish(ctx, "t_events", []byte("before"))
	require.NoError(t, err)

	require.NoError(t, b.CreateSubscription(ctx, "t_events", "sub_t_a"))

	c := &collector{}
	done := make(chan error, 1)
	go func() { done <- b.Receive(ctx, "sub_t_a", c.handle) }()

	id, err := b.Publish(ctx, "t_events", []byte("after"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		got := c.snapshot()
		return len(got) == 1 && got[0] == "after"
	}, 2*time.Second, 5*time.Millisecond)

	c.mu.Lock()
	assert.Equal(t, id, c.ids[0])
	c.mu.Unlock()

	cluster.mu.Lock()
	assert.EqualValues(t, 2, cluster.committed["sub_t_a"])
	cluster.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after cancel")
	}
}

func TestPublishBeforeFirstPollIsDelivered(t *testing.T) {
	b, cluster := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.CreateTopic(ctx, "t_events"))
	_, err := b.Publish(ctx, "t_events", []byte("old"))
	require.NoError(t, err)

	require.NoError(t, b.CreateSubscription(ctx, "t_events", "sub_t_a"))
	cluster.mu.Lock()
	assert.EqualValues(t, 1, cluster.committed["sub_t_a"])
	cluster.mu.Unlock()

	_, err = b.Publish(ctx, "t_events", []byte("early"))
	require.NoError(t, err)

	c := &collector{}
	go func() { _ = b.Receive(ctx, "sub_t_a", c.handle) }()

	require.Eventually(t, func() bool {
		got := c.snapshot()
		return len(got) == 1 && got[0] == "early"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDeleteEndsReceive(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	require.NoError(t, b.CreateTopic(ctx, "t_events"))
	require.NoError(t, b.CreateSubscription(ctx, "t_events", "sub_t_a"))

	done := make(chan error, 1)
	go func() { done <- b.Receive(ctx, "sub_t_a", (&collector{}).handle) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.DeleteSubscription(ctx, "sub_t_a"))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, broker.ErrNotFound)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after delete")
	}
}

func TestReceiveUnknownSubscription(t *testing.T) {
	b, _ := newTestBroker(t)
	err := b.Receive(context.Background(), "sub_missing", (&collector{}).handle)
	assert.ErrorIs(t, err, broker.ErrNotFound)
}

func TestPublishFailure(t *testing.T) {
	b, cluster := newTestBroker(t)
	cluster.produceErr = errors.New("queue full")

	_, err := b.Publish(context.Background(), "t_events", []byte("x"))
	assert.Error(t, err)
}

func TestCloseStopsReceiveAndRejectsCalls(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	require.NoError(t, b.CreateTopic(ctx, "t_events"))
	require.NoError(t, b.CreateSubscription(ctx, "t_events", "sub_t_a"))

	done := make(chan error, 1)
	go func() { done <- b.Receive(ctx, "sub_t_a", (&collector{}).handle) }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, broker.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after close")
	}

	_, err := b.Publish(ctx, "t_events", []byte("x"))
	assert.ErrorIs(t, err, broker.ErrClosed)
	assert.ErrorIs(t, b.CreateTopic(ctx, "t_other"), broker.ErrClosed)
	_, err = b.ListSubscriptions(ctx)
	assert.ErrorIs(t, err, broker.ErrClosed)
}
