package event

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToEverySubscriber(t *testing.T) {
	bus := NewBus()
	first, unsubFirst := bus.Subscribe()
	second, unsubSecond := bus.Subscribe()
	defer unsubSecond()

	e := New(TypeSessionLogin, "user-1", SessionPayload{UserID: "user-1", AuditID: "audit-1"})
	bus.Publish(e)

	assert.Equal(t, e, <-first)
	assert.Equal(t, e, <-second)

	unsubFirst()
	_, open := <-first
	assert.False(t, open, "unsubscribe closes the channel")

	bus.Publish(New(TypeSessionLogout, "user-1", nil))
	got := <-second
	assert.Equal(t, TypeSessionLogout, got.Type)
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe()
	defer unsub()

	for i := 0; i < 150; i++ {
		bus.Publish(New(TypeSessionRefresh, "user-1", nil))
	}
	assert.Len(t, ch, 100)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []amqp.Publishing
	keys []string
	err  error
}

func (p *recordingPublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, exchange+"|"+key)
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func TestForwardPublishesPersistentJSON(t *testing.T) {
	pub := &recordingPublisher{}
	f := NewAMQPForwarder(pub, "session.events")

	e := New(TypeSessionLogin, "user-1", SessionPayload{UserID: "user-1", TokenID: "tok-1"})
	require.NoError(t, f.Forward(context.Background(), e))

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, "|session.events", pub.keys[0])
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, e.ID, msg.MessageId)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, "session.login", decoded["type"])
	assert.Equal(t, "tok-1", decoded["payload"].(map[string]any)["tokenId"])
}

func TestForwardWrapsPublishError(t *testing.T) {
	boom := errors.New("channel closed")
	f := NewAMQPForwarder(&recordingPublisher{err: boom}, "session.events")

	err := f.Forward(context.Background(), New(TypeSessionLogout, "user-1", nil))
	assert.ErrorIs(t, err, boom)
}

func TestRunForwardsUntilChannelCloses(t *testing.T) {
	pub := &recordingPublisher{}
	f := NewAMQPForwarder(pub, "session.events")
	bus := NewBus()
	events, unsub := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		f.Run(context.Background(), events)
		close(done)
	}()

	bus.Publish(New(TypeSessionLogin, "user-1", nil))
	bus.Publish(New(TypeSessionLogout, "user-1", nil))

	assert.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, 10*time.Millisecond)

	unsub()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the channel closed")
	}
	assert.NoError(t, f.Close())
}
