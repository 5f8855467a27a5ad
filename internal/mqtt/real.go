package mqtt

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/sweeney/step-sensor/internal/notify"
)

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	BufferSize int
	Logger     *zap.Logger

	// OnConnectionChange, if set, is called from the client's goroutines
	// whenever the connection comes up or drops.
	OnConnectionChange func(connected bool)
}

// RealPublisher publishes to an MQTT broker. Messages published while the
// connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client   paho.Client
	log      *zap.Logger
	onChange func(bool)

	mu  sync.Mutex
	buf *ringBuffer

	connected atomic.Bool
	connects  atomic.Int64
}

// NewRealPublisher creates a publisher and starts connecting to the broker.
// An unreachable broker is not fatal: the client keeps retrying and
// messages are buffered meanwhile.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.ClientID == "" {
		o.ClientID = "step-sensor"
	}
	p := newPublisher(o)

	will, err := WillPayload(time.Now())
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		p.log.Warn("mqtt broker not reachable yet, buffering", zap.String("broker", o.Broker))
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func newPublisher(o Options) *RealPublisher {
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	size := o.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &RealPublisher{
		log:      log.With(zap.String("component", "mqtt")),
		onChange: o.OnConnectionChange,
		buf:      newRingBuffer(size),
	}
}

// Publish sends an achievement. QoS 1 so a goal is not silently lost.
func (p *RealPublisher) Publish(n notify.Notification) error {
	payload, err := notify.FormatPayload(n)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: TopicEvents, payload: payload, qos: 1})
}

// PublishProgress sends a retained progress update so a dashboard that
// subscribes later sees the current day immediately.
func (p *RealPublisher) PublishProgress(pr notify.Progress) error {
	payload, err := notify.FormatProgressPayload(pr)
	if err != nil {
		return fmt.Errorf("format progress payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: TopicProgress, payload: payload, qos: 0, retained: true})
}

// PublishSystem sends a system lifecycle event.
func (p *RealPublisher) PublishSystem(event notify.SystemEvent) error {
	payload, err := notify.FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	if !p.connected.Load() {
		p.enqueue(msg)
		return nil
	}

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.enqueue(msg)
		return fmt.Errorf("publish to %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.topic, err)
	}
	return nil
}

func (p *RealPublisher) enqueue(msg bufferedMsg) {
	p.mu.Lock()
	dropped := p.buf.replaceRetained(msg)
	n := p.buf.len()
	p.mu.Unlock()

	if dropped {
		p.log.Warn("buffer full, dropping oldest message", zap.Int("capacity", n))
	}
	p.log.Debug("buffered message while disconnected", zap.String("topic", msg.topic), zap.Int("buffered", n))
}

// onConnect replays buffered messages. It runs on a paho goroutine.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.connected.Store(true)
	reconnect := p.connects.Add(1) > 1
	if p.onChange != nil {
		p.onChange(true)
	}

	p.mu.Lock()
	pending := p.buf.drainAll()
	p.mu.Unlock()

	if reconnect {
		payload, err := notify.FormatSystemPayload(notify.SystemEvent{
			Timestamp: time.Now(),
			Event:     notify.EventReconnected,
		})
		if err == nil {
			pending = append(pending, bufferedMsg{topic: TopicSystem, payload: payload, qos: 1})
		}
	}

	for _, msg := range pending {
		token := c.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if token.WaitTimeout(5*time.Second) && token.Error() == nil {
			continue
		}
		p.log.Warn("replay failed", zap.String("topic", msg.topic), zap.Error(token.Error()))
	}
	p.log.Info("connected to broker", zap.Bool("reconnect", reconnect), zap.Int("replayed", len(pending)))
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.connected.Store(false)
	if p.onChange != nil {
		p.onChange(false)
	}
	p.log.Warn("connection to broker lost", zap.Error(err))
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.connected.Load()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.connected.Store(false)
	if p.client != nil {
		p.client.Disconnect(1000) // 1 second quiesce
	}
	return nil
}
