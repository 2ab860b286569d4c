package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Mmx233/klf/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type published struct {
	topic   string
	payload []byte
}

// fakeClient records publishes; unused mqtt.Client methods panic via the nil embed.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	msgs         []published
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token { return doneToken{} }

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	c.msgs = append(c.msgs, published{topic: topic, payload: payload.([]byte)})
	c.mu.Unlock()
	return doneToken{}
}

func (c *fakeClient) snapshot() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.msgs...)
}

func TestNewMQTT_RequiresBroker(t *testing.T) {
	_, err := NewMQTT(config.Telemetry{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestMQTT_PublishesJSONPerKind(t *testing.T) {
	client := &fakeClient{}
	m := newWithClient(client, "klf/events", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	m.Publish(Event{Kind: KindJoin, ClientIndex: 2, Username: "Jeb"})

	require.Eventually(t, func() bool { return len(client.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	msg := client.snapshot()[0]
	assert.Equal(t, "klf/events/join", msg.topic)

	var e Event
	require.NoError(t, json.Unmarshal(msg.payload, &e))
	assert.Equal(t, "Jeb", e.Username)
	assert.Equal(t, 2, e.ClientIndex)
	assert.False(t, e.Time.IsZero())
	assert.True(t, client.disconnected)
}

func TestMQTT_DropsWhenBufferFull(t *testing.T) {
	m := newWithClient(&fakeClient{}, "t", zerolog.Nop())
	for i := 0; i < eventBuffer+10; i++ {
		m.Publish(Event{Kind: KindScreenshot})
	}
	assert.Equal(t, uint64(10), m.Dropped())
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	p.Publish(Event{Kind: KindLeave})
}
