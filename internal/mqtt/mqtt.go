// Package mqtt publishes step notifications to an MQTT broker.
package mqtt

import (
	"time"

	"github.com/sweeney/step-sensor/internal/notify"
)

// Topics for the step sensor.
const (
	TopicEvents   = "health/steps/sensor/events"
	TopicProgress = "health/steps/sensor/progress"
	TopicSystem   = "health/steps/sensor/system"
)

// DefaultBufferSize is the number of messages held while disconnected.
const DefaultBufferSize = 100

// WillReason is the shutdown reason the broker publishes on our behalf
// when the connection drops without a clean disconnect.
const WillReason = "MQTT_DISCONNECT"

// WillPayload is the last-will message registered on connect.
func WillPayload(now time.Time) ([]byte, error) {
	return notify.FormatSystemPayload(notify.SystemEvent{
		Timestamp: now,
		Event:     notify.EventShutdown,
		Reason:    WillReason,
	})
}
