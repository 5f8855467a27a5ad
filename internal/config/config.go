// Package config provides configuration loading for the step-sensor daemon.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/step-sensor/internal/logic"
	"github.com/sweeney/step-sensor/internal/sensor"
)

// Sensor kinds.
const (
	SensorIIO  = "iio"
	SensorGPIO = "gpio"
	SensorFake = "fake"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid config")

// Config represents the complete daemon configuration.
type Config struct {
	Goals     GoalsConfig   `yaml:"goals"`
	Sensor    SensorConfig  `yaml:"sensor"`
	Store     StoreConfig   `yaml:"store"`
	Notify    NotifyConfig  `yaml:"notify"`
	Refresh   time.Duration `yaml:"refresh"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	HTTPAddr  string        `yaml:"http_addr"`
	Log       LogConfig     `yaml:"log"`
}

// GoalsConfig holds the daily goals.
type GoalsConfig struct {
	Steps   int64 `yaml:"steps"`
	WaterML int64 `yaml:"water_ml"`
}

// SensorConfig selects and configures the step source.
type SensorConfig struct {
	// Kind is iio, gpio or fake.
	Kind string `yaml:"kind"`
	// Path is the sysfs step counter for the iio sensor.
	Path string `yaml:"path"`
	// Poll is the iio poll interval.
	Poll time.Duration `yaml:"poll"`
	// Chip and Pin select the gpio pulse line.
	Chip     string        `yaml:"chip"`
	Pin      int           `yaml:"pin"`
	Debounce time.Duration `yaml:"debounce"`
	// StaleAfter re-opens the subscription when no reading has arrived for
	// this long. Zero disables the watchdog.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// StoreConfig selects the state store.
type StoreConfig struct {
	// DSN is a sqlite file path or a postgres:// URL.
	DSN string `yaml:"dsn"`
}

// NotifyConfig selects the notification buses. Empty disables a bus.
type NotifyConfig struct {
	MQTTBroker string `yaml:"mqtt_broker"`
	NATSURL    string `yaml:"nats_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Goals: GoalsConfig{Steps: 10000, WaterML: 2000},
		Sensor: SensorConfig{
			Kind: SensorIIO,
			Path: sensor.DefaultIIOPath,
			Poll: time.Second,
			Chip: sensor.DefaultChip,
			Pin:  sensor.DefaultPulsePin,
		},
		Store:     StoreConfig{DSN: "step-sensor.db"},
		Notify:    NotifyConfig{MQTTBroker: "tcp://localhost:1883"},
		Refresh:   30 * time.Second,
		Heartbeat: 15 * time.Minute,
		HTTPAddr:  ":8080",
		Log:       LogConfig{Level: "info", Format: "json"},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Goals.Steps <= 0 {
		return fmt.Errorf("%w: goals.steps must be positive", ErrInvalid)
	}
	if c.Goals.WaterML <= 0 {
		return fmt.Errorf("%w: goals.water_ml must be positive", ErrInvalid)
	}
	switch c.Sensor.Kind {
	case SensorIIO:
		if c.Sensor.Path == "" {
			return fmt.Errorf("%w: sensor.path is required for iio", ErrInvalid)
		}
		if c.Sensor.Poll <= 0 {
			return fmt.Errorf("%w: sensor.poll must be positive", ErrInvalid)
		}
	case SensorGPIO:
		if c.Sensor.Chip == "" || c.Sensor.Pin < 0 {
			return fmt.Errorf("%w: sensor.chip and sensor.pin are required for gpio", ErrInvalid)
		}
	case SensorFake:
	default:
		return fmt.Errorf("%w: unknown sensor.kind %q", ErrInvalid, c.Sensor.Kind)
	}
	if c.Sensor.StaleAfter < 0 {
		return fmt.Errorf("%w: sensor.stale_after must not be negative", ErrInvalid)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("%w: store.dsn is required", ErrInvalid)
	}
	if c.Refresh <= 0 {
		return fmt.Errorf("%w: refresh must be positive", ErrInvalid)
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("%w: heartbeat must not be negative", ErrInvalid)
	}
	return nil
}

// GoalsValue returns the configured goals in core form.
func (c *Config) GoalsValue() logic.Goals {
	return logic.Goals{Steps: c.Goals.Steps, WaterML: c.Goals.WaterML}
}

// LoadFromFile loads configuration from a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}
