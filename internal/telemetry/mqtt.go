// Package telemetry publishes controller events to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/banshee-data/aimtrack/internal/controller"
	"github.com/banshee-data/aimtrack/internal/monitoring"
	"github.com/banshee-data/aimtrack/internal/protocol"
	"github.com/banshee-data/aimtrack/internal/timeutil"
)

var logf = monitoring.Prefixed("mqtt")

const (
	DefaultTopic          = "aimtrack"
	DefaultAimInterval    = 100 * time.Millisecond
	DefaultStatusInterval = 5 * time.Second
	connectTimeout        = 10 * time.Second
)

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Options configure the broker connection.
type Options struct {
	Broker   string
	ClientID string
	Topic    string
}

// Connect dials the broker. The will message marks the status topic offline
// if the process disappears without a clean disconnect.
func Connect(ctx context.Context, o Options) (mqtt.Client, error) {
	if o.ClientID == "" {
		o.ClientID = "aimtrack-" + uuid.NewString()[:8]
	}
	if o.Topic == "" {
		o.Topic = DefaultTopic
	}
	opts := mqtt.NewClientOptions().AddBroker(o.Broker).SetClientID(o.ClientID)
	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(2 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetWill(o.Topic+"/online", "false", 1, true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logf("connection lost: %v", err)
	})

	c := mqtt.NewClient(opts)
	token := c.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(connectTimeout):
		return nil, fmt.Errorf("connect %s: timed out", o.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", o.Broker, err)
	}
	c.Publish(o.Topic+"/online", 1, true, "true")
	logf("connected to %s as %s", o.Broker, o.ClientID)
	return c, nil
}

type modeMessage struct {
	From controller.Mode `json:"from"`
	To   controller.Mode `json:"to"`
	At   time.Time       `json:"at"`
}

type errorMessage struct {
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// Publisher is a controller.Observer that forwards events to MQTT topics
// under a common prefix:
//
//	<topic>/mode    retained, last mode change
//	<topic>/aim     emissions, thinned to one per aim interval
//	<topic>/error   failed cycles
//	<topic>/status  retained, periodic controller status
//
// Publishing is asynchronous; delivery failures are logged, never returned
// to the control loop.
type Publisher struct {
	client Client
	topic  string

	mu   sync.Mutex
	gate *protocol.SendGate

	failures *monitoring.Sampler
}

// NewPublisher returns a Publisher on client. aimInterval thins the aim topic;
// zero publishes every emission.
func NewPublisher(client Client, topic string, aimInterval time.Duration) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		client:   client,
		topic:    topic,
		gate:     protocol.NewSendGate(aimInterval),
		failures: monitoring.NewSampler(50),
	}
}

func (p *Publisher) publish(sub string, qos byte, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		logf("encode %s: %v", sub, err)
		return
	}
	topic := p.topic + "/" + sub
	token := p.client.Publish(topic, qos, retained, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			p.failures.Logf("[mqtt] publish %s: %v", topic, err)
		}
	}()
}

func (p *Publisher) ModeChanged(from, to controller.Mode, at time.Time) {
	p.publish("mode", 1, true, modeMessage{From: from, To: to, At: at})
}

func (p *Publisher) Emitted(e controller.Emission) {
	p.mu.Lock()
	ready := p.gate.Ready(e.At)
	if ready {
		p.gate.Mark(e.At)
	}
	p.mu.Unlock()
	if ready {
		p.publish("aim", 0, false, e)
	}
}

func (p *Publisher) CycleFailed(err error, at time.Time) {
	p.publish("error", 1, false, errorMessage{Error: err.Error(), At: at})
}

// PublishStatus publishes a retained status snapshot.
func (p *Publisher) PublishStatus(st controller.Status) {
	p.publish("status", 0, true, st)
}

// RunStatus publishes status() every interval until ctx is done.
func (p *Publisher) RunStatus(ctx context.Context, clock timeutil.Clock, interval time.Duration, status func() controller.Status) error {
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	for {
		p.PublishStatus(status())
		if err := timeutil.SleepContext(ctx, clock, interval); err != nil {
			return err
		}
	}
}
