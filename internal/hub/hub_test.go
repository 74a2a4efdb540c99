package hub

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRoutesByUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := New(zerolog.Nop())
	go h.Run(ctx)

	alice := h.NewConnection(nil, "alice")
	bob := h.NewConnection(nil, "bob")
	require.NoError(t, h.Register(alice))
	require.NoError(t, h.Register(bob))

	require.Eventually(t, func() bool { return h.ConnectionCount() == 2 }, time.Second, 10*time.Millisecond)
	assert.True(t, h.HasSubscribers("alice"))

	require.NoError(t, h.Publish("alice", map[string]string{"type": "task_completed"}))

	select {
	case msg := <-alice.Send:
		assert.JSONEq(t, `{"type":"task_completed"}`, string(msg))
	case <-time.After(time.Second):
		t.Fatalf("alice did not receive the event")
	}

	select {
	case msg := <-bob.Send:
		t.Fatalf("bob received an event for alice: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}

	h.Unregister(alice)
	require.Eventually(t, func() bool { return !h.HasSubscribers("alice") }, time.Second, 10*time.Millisecond)
	_, open := <-alice.Send
	assert.False(t, open)
}

func TestPublishRejectsUnmarshalableValue(t *testing.T) {
	h := New(zerolog.Nop())
	assert.Error(t, h.Publish("alice", make(chan int)))
}

func TestRegisterAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New(zerolog.Nop())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	conn := h.NewConnection(nil, "alice")
	assert.ErrorIs(t, h.Register(conn), ErrClosed)
	h.Unregister(conn)
}
