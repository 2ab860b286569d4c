// Package telemetry publishes relay session events to an MQTT broker.
package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/Mmx233/klf/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event kinds
const (
	KindJoin       = "join"
	KindLeave      = "leave"
	KindScreenshot = "screenshot"
	KindCraft      = "craft"
	KindRefused    = "refused"
	KindActivity   = "activity"
)

// eventBuffer is the number of events held while the broker is slow.
const eventBuffer = 256

// Event is one published session event.
type Event struct {
	Kind        string    `json:"kind"`
	Time        time.Time `json:"time"`
	ClientIndex int       `json:"client_index"`
	Username    string    `json:"username,omitempty"`
	Remote      string    `json:"remote,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// Publisher receives session events. Publish must not block.
type Publisher interface {
	Publish(Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

// MQTT forwards events to a broker from a background goroutine.
type MQTT struct {
	client mqtt.Client
	topic  string
	events chan Event

	dropped atomic.Uint64
	logger  zerolog.Logger
}

// NewMQTT configures a publisher for conf. It does not connect until Run.
func NewMQTT(conf config.Telemetry, logger zerolog.Logger) (*MQTT, error) {
	if conf.Broker == "" {
		return nil, fmt.Errorf("telemetry broker is not configured")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(conf.Broker)
	if conf.ClientID != "" {
		opts.SetClientID(conf.ClientID)
	} else {
		opts.SetClientID("klf-server")
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info().Str("broker", conf.Broker).Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	return newWithClient(mqtt.NewClient(opts), conf.Topic, logger), nil
}

func newWithClient(client mqtt.Client, topic string, logger zerolog.Logger) *MQTT {
	return &MQTT{
		client: client,
		topic:  topic,
		events: make(chan Event, eventBuffer),
		logger: logger,
	}
}

// Publish queues e, dropping it when the buffer is full.
func (m *MQTT) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	select {
	case m.events <- e:
	default:
		m.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded.
func (m *MQTT) Dropped() uint64 {
	return m.dropped.Load()
}

// Topic returns the topic an event of kind is published on.
func (m *MQTT) Topic(kind string) string {
	return m.topic + "/" + kind
}

// Run connects and publishes queued events until ctx is cancelled.
func (m *MQTT) Run(ctx context.Context) error {
	token := m.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect: %w", token.Error())
	}
	defer m.client.Disconnect(250)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-m.events:
			m.send(e)
		}
	}
}

func (m *MQTT) send(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		m.logger.Debug().Err(err).Msg("encode telemetry event failed")
		return
	}
	token := m.client.Publish(m.Topic(e.Kind), 0, false, payload)
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		m.logger.Debug().Err(token.Error()).Str("kind", e.Kind).Msg("publish telemetry event failed")
	}
}
