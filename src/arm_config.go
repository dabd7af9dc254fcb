package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ryansname/armctl/src/arm"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read when ARMCTL_CONFIG is not set
const DefaultConfigFile = "armctl.yml"

// Config holds the daemon configuration loaded from YAML
type Config struct {
	Control ControlConfig `yaml:"control"`
	Arm     arm.Config    `yaml:"arm"`
	Levels  Levels        `yaml:"levels"`
	Motor   MotorConfig   `yaml:"motor"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
}

// ControlConfig holds the control loop cadence
type ControlConfig struct {
	Hz int `yaml:"hz"`
}

// Period returns the time between control cycles
func (c ControlConfig) Period() time.Duration {
	return time.Second / time.Duration(c.Hz)
}

// MotorConfig selects the motor backend. An empty Port runs the simulator.
type MotorConfig struct {
	Port string    `yaml:"port"`
	Baud int       `yaml:"baud"`
	Sim  SimConfig `yaml:"sim"`
}

// MQTTConfig holds broker settings. Credentials come from the environment, not the file.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"-"`
	Password string `yaml:"-"`
}

// Enabled returns true if there is enough configuration to connect
func (c MQTTConfig) Enabled() bool {
	return c.Broker != "" && c.Username != "" && c.Password != ""
}

// DefaultConfig returns the configuration used when no file is present
func DefaultConfig() *Config {
	return &Config{
		Control: ControlConfig{Hz: 50},
		Arm:     arm.DefaultConfig(),
		Levels:  DefaultLevels(),
		Motor: MotorConfig{
			Baud: 115200,
			Sim:  DefaultSimConfig(),
		},
		MQTT: MQTTConfig{
			Broker:   "homeassistant.lan",
			ClientID: "armctl",
		},
	}
}

// LoadConfig reads the YAML config at path. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config data, filling in defaults for anything left out
func ParseConfig(data []byte) (*Config, error) {
	// Start from defaults so partially specified sections keep sane values
	c := DefaultConfig()
	c.Levels = nil
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(c)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// applyEnv overrides file settings with environment variables
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("ARMCTL_SERIAL_PORT"); v != "" {
		c.Motor.Port = v
	}
	if v := getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	c.MQTT.Username = getenv("MQTT_USERNAME")
	c.MQTT.Password = getenv("MQTT_PASSWORD")
}

// Validate checks the whole config
func (c *Config) Validate() error {
	if c.Control.Hz <= 0 || c.Control.Hz > 1000 {
		return fmt.Errorf("control.hz must be in 1..1000, got %d", c.Control.Hz)
	}
	if err := c.Arm.Validate(); err != nil {
		return fmt.Errorf("arm: %w", err)
	}
	if err := c.Levels.Validate(); err != nil {
		return fmt.Errorf("levels: %w", err)
	}
	if c.Motor.Port != "" && c.Motor.Baud <= 0 {
		return fmt.Errorf("motor.baud must be positive, got %d", c.Motor.Baud)
	}
	return nil
}

func applyDefaults(c *Config) {
	d := DefaultConfig()
	if c.Control.Hz == 0 {
		c.Control.Hz = d.Control.Hz
	}
	if len(c.Levels) == 0 {
		c.Levels = d.Levels
	}
	if c.Motor.Baud == 0 {
		c.Motor.Baud = d.Motor.Baud
	}
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = d.MQTT.Broker
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = d.MQTT.ClientID
	}
}
