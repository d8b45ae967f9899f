package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return true }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// fakeShelly is an mqtt.Client that behaves like a broker with one plug
// attached.
type fakeShelly struct {
	mu         sync.Mutex
	handlers   map[string]mqtt.MessageHandler
	published  []string
	respond    bool
	publishErr error
}

func newFakeShelly() *fakeShelly {
	return &fakeShelly{handlers: map[string]mqtt.MessageHandler{}, respond: true}
}

func (f *fakeShelly) deliver(topic, payload string) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h != nil {
		h(f, fakeMessage{topic: topic, payload: []byte(payload)})
	}
}

func (f *fakeShelly) IsConnected() bool      { return true }
func (f *fakeShelly) IsConnectionOpen() bool { return true }
func (f *fakeShelly) Connect() mqtt.Token    { return doneToken{} }
func (f *fakeShelly) Disconnect(uint)        {}
func (f *fakeShelly) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if f.publishErr != nil {
		return doneToken{err: f.publishErr}
	}
	f.mu.Lock()
	f.published = append(f.published, topic+"="+payload.(string))
	respond := f.respond
	f.mu.Unlock()
	if respond && topic == "shellies/plug1/relay/0/command" {
		go f.deliver("shellies/plug1/relay/0", payload.(string))
	}
	return doneToken{}
}
func (f *fakeShelly) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	f.handlers[topic] = callback
	f.mu.Unlock()
	return doneToken{}
}
func (f *fakeShelly) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return doneToken{}
}
func (f *fakeShelly) Unsubscribe(...string) mqtt.Token         { return doneToken{} }
func (f *fakeShelly) AddRoute(string, mqtt.MessageHandler)     {}
func (f *fakeShelly) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func TestShellyMQTT(t *testing.T) {
	ctx := context.Background()

	t.Run("UnknownUntilReported", func(t *testing.T) {
		fake := newFakeShelly()
		s := NewShellyMQTT(fake, "plug1", time.Second)
		require.NoError(t, s.Validate())
		require.NoError(t, s.Connect(ctx))

		_, err := s.GetRelayState(ctx)
		assert.ErrorIs(t, err, ErrRelayStateUnknown)

		// retained state delivered after subscribing
		fake.deliver("shellies/plug1/relay/0", "on")
		status, err := s.GetRelayState(ctx)
		require.NoError(t, err)
		assert.True(t, status.IsOn)

		fake.deliver("shellies/plug1/relay/0", "overpower")
		status, err = s.GetRelayState(ctx)
		require.NoError(t, err)
		assert.False(t, status.IsOn)

		fake.deliver("shellies/plug1/relay/0", "garbage")
		status, err = s.GetRelayState(ctx)
		require.NoError(t, err)
		assert.False(t, status.IsOn)
	})

	t.Run("SetRelayWaitsForState", func(t *testing.T) {
		fake := newFakeShelly()
		s := NewShellyMQTT(fake, "plug1", time.Second)
		require.NoError(t, s.Connect(ctx))

		require.NoError(t, s.SetRelay(ctx, true))
		status, err := s.GetRelayState(ctx)
		require.NoError(t, err)
		assert.True(t, status.IsOn)

		require.NoError(t, s.SetRelay(ctx, false))
		status, err = s.GetRelayState(ctx)
		require.NoError(t, err)
		assert.False(t, status.IsOn)

		assert.Equal(t, []string{
			"shellies/plug1/relay/0/command=on",
			"shellies/plug1/relay/0/command=off",
		}, fake.published)
	})

	t.Run("PlugSilent", func(t *testing.T) {
		fake := newFakeShelly()
		fake.respond = false
		s := NewShellyMQTT(fake, "plug1", 20*time.Millisecond)
		require.NoError(t, s.Connect(ctx))

		err := s.SetRelay(ctx, true)
		assert.ErrorContains(t, err, "did not report on")
	})

	t.Run("PublishFails", func(t *testing.T) {
		fake := newFakeShelly()
		fake.publishErr = errors.New("not connected")
		s := NewShellyMQTT(fake, "plug1", time.Second)
		require.NoError(t, s.Connect(ctx))

		err := s.SetRelay(ctx, true)
		assert.ErrorContains(t, err, "not connected")
	})

	t.Run("Validate", func(t *testing.T) {
		assert.Error(t, NewShellyMQTT(newFakeShelly(), "", time.Second).Validate())
		assert.Error(t, NewShellyMQTT(newFakeShelly(), "plug1", 0).Validate())
	})
}
