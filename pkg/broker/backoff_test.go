package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 300*time.Millisecond, NextBackoff(200*time.Millisecond, time.Second))
	assert.Equal(t, time.Second, NextBackoff(800*time.Millisecond, time.Second))
}

func TestJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := Jitter(time.Second, 0)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
	assert.Equal(t, 50*time.Millisecond, Jitter(time.Millisecond, 50*time.Millisecond))
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, Sleep(ctx, time.Hour))
	assert.True(t, Sleep(context.Background(), time.Millisecond))
}

func TestMessageAck(t *testing.T) {
	acked := 0
	msg := NewMessage("1", []byte("x"), time.Now(), func() { acked++ })
	msg.Ack()
	assert.Equal(t, 1, acked)

	// nil ack is a no-op
	NewMessage("2", nil, time.Now(), nil).Ack()
}
