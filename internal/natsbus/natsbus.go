// Package natsbus publishes step notifications to a NATS server.
package natsbus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/sweeney/step-sensor/internal/notify"
)

// Subjects for the step sensor.
const (
	SubjectEvents   = "steps.events"
	SubjectProgress = "steps.progress"
	SubjectSystem   = "steps.system"
)

// conn is the subset of *nats.Conn the publisher uses.
type conn interface {
	Publish(subj string, data []byte) error
	IsConnected() bool
	Drain() error
}

// Publisher publishes notifications as NATS core messages. The client
// library buffers publishes while reconnecting.
type Publisher struct {
	nc  conn
	log *zap.Logger
}

// Connect dials the NATS server at url.
func Connect(url string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("component", "nats"))

	nc, err := nats.Connect(url,
		nats.Name("step-sensor"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("disconnected from nats", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("reconnected to nats", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Publisher{nc: nc, log: log}, nil
}

// Publish sends an achievement.
func (p *Publisher) Publish(n notify.Notification) error {
	payload, err := notify.FormatPayload(n)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(SubjectEvents, payload)
}

// PublishProgress sends a progress update.
func (p *Publisher) PublishProgress(pr notify.Progress) error {
	payload, err := notify.FormatProgressPayload(pr)
	if err != nil {
		return fmt.Errorf("format progress payload: %w", err)
	}
	return p.publish(SubjectProgress, payload)
}

// PublishSystem sends a system lifecycle event.
func (p *Publisher) PublishSystem(event notify.SystemEvent) error {
	payload, err := notify.FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(SubjectSystem, payload)
}

func (p *Publisher) publish(subject string, payload []byte) error {
	if err := p.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// IsConnected reports whether the NATS connection is up.
func (p *Publisher) IsConnected() bool {
	return p.nc.IsConnected()
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
