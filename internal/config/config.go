// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the gateway configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Thermoquad/vinsteon/internal/bus"
	"github.com/Thermoquad/vinsteon/internal/delivery"
	"github.com/Thermoquad/vinsteon/internal/discovery"
	"github.com/Thermoquad/vinsteon/internal/link"
	"github.com/Thermoquad/vinsteon/internal/logging"
	"github.com/Thermoquad/vinsteon/internal/mqtt"
	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

// Duration is a time.Duration written as a string ("1s", "250ms").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Serial struct {
	Port     string `toml:"port"`
	BaudRate int    `toml:"baud_rate"`
}

type WebSocket struct {
	URL           string `toml:"url"`
	Username      string `toml:"username"`
	SkipSSLVerify bool   `toml:"skip_ssl_verify"`
}

type Delivery struct {
	AckTimeout   Duration `toml:"ack_timeout"`
	MaxAttempts  int      `toml:"max_attempts"`
	MatchCommand bool     `toml:"match_command"`
	SendFlags    uint8    `toml:"send_flags"`
}

type Bus struct {
	Capacity int `toml:"capacity"`
}

type HTTP struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

type MCP struct {
	Enabled bool `toml:"enabled"`
}

type MQTT struct {
	Enabled     bool   `toml:"enabled"`
	Broker      string `toml:"broker"`
	ClientID    string `toml:"client_id"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	TopicPrefix string `toml:"topic_prefix"`
	QoS         byte   `toml:"qos"`
	Retain      bool   `toml:"retain"`
}

type MDNS struct {
	Enabled  bool   `toml:"enabled"`
	Instance string `toml:"instance"`
	Service  string `toml:"service"`
}

type Log struct {
	Level string `toml:"level"`
}

// Config is the complete gateway configuration.
type Config struct {
	Serial    Serial    `toml:"serial"`
	WebSocket WebSocket `toml:"websocket"`
	Delivery  Delivery  `toml:"delivery"`
	Bus       Bus       `toml:"bus"`
	HTTP      HTTP      `toml:"http"`
	MCP       MCP       `toml:"mcp"`
	MQTT      MQTT      `toml:"mqtt"`
	MDNS      MDNS      `toml:"mdns"`
	Log       Log       `toml:"log"`
}

// DefaultServiceName is the mDNS service type advertised by serve.
const DefaultServiceName = "_vinsteon._tcp"

// Default returns the built-in configuration.
func Default() Config {
	def := delivery.DefaultConfig()
	return Config{
		Serial: Serial{
			BaudRate: link.DefaultBaudRate,
		},
		Delivery: Delivery{
			AckTimeout:   Duration{def.AckTimeout},
			MaxAttempts:  def.MaxAttempts,
			MatchCommand: def.MatchCommand,
			SendFlags:    uint8(insteon.DefaultSendFlags),
		},
		Bus: Bus{
			Capacity: bus.DefaultCapacity,
		},
		HTTP: HTTP{
			Enabled: true,
			Listen:  "127.0.0.1:8470",
		},
		MQTT: MQTT{
			ClientID:    "vinsteon",
			TopicPrefix: "vinsteon",
		},
		MDNS: MDNS{
			Instance: "vinsteon",
			Service:  DefaultServiceName,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value.
func Load(path string) (Config, error) {
	cfg := Default()

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("load config: unknown keys: %s", strings.Join(keys, ", "))
	}

	cfg.Serial.Port = strings.TrimSpace(cfg.Serial.Port)
	cfg.WebSocket.URL = strings.TrimSpace(cfg.WebSocket.URL)
	cfg.HTTP.Listen = strings.TrimSpace(cfg.HTTP.Listen)
	cfg.MQTT.Broker = strings.TrimSpace(cfg.MQTT.Broker)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field requirements.
func (c Config) Validate() error {
	var errs []error

	if c.Serial.Port != "" && c.WebSocket.URL != "" {
		errs = append(errs, errors.New("serial.port and websocket.url are mutually exclusive"))
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud_rate must be positive, got %d", c.Serial.BaudRate))
	}
	if c.Delivery.AckTimeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("delivery.ack_timeout must be positive, got %s", c.Delivery.AckTimeout))
	}
	if c.Delivery.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("delivery.max_attempts must be at least 1, got %d", c.Delivery.MaxAttempts))
	}
	if insteon.MsgFlags(c.Delivery.SendFlags).Extended() {
		errs = append(errs, fmt.Errorf("delivery.send_flags 0x%02X sets the extended bit", c.Delivery.SendFlags))
	}
	if c.Bus.Capacity < 1 {
		errs = append(errs, fmt.Errorf("bus.capacity must be at least 1, got %d", c.Bus.Capacity))
	}
	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		errs = append(errs, errors.New("http.listen is required when http is enabled"))
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
		}
		if c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
		}
	}
	if c.MDNS.Enabled && !c.HTTP.Enabled {
		errs = append(errs, errors.New("mdns requires http to be enabled"))
	}
	if _, ok := logging.ParseLevel(c.Log.Level); !ok && c.Log.Level != "" {
		errs = append(errs, fmt.Errorf("log.level %q is not a known level", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// DeliveryConfig converts the [delivery] section.
func (c Config) DeliveryConfig() delivery.Config {
	return delivery.Config{
		AckTimeout:   c.Delivery.AckTimeout.Duration,
		MaxAttempts:  c.Delivery.MaxAttempts,
		MatchCommand: c.Delivery.MatchCommand,
	}
}

// LinkOptions converts the [serial] and [websocket] sections.
func (c Config) LinkOptions() link.Options {
	return link.Options{
		Port:          c.Serial.Port,
		BaudRate:      c.Serial.BaudRate,
		URL:           c.WebSocket.URL,
		Username:      c.WebSocket.Username,
		SkipSSLVerify: c.WebSocket.SkipSSLVerify,
	}
}

// SendFlags returns the configured flags byte.
func (c Config) SendFlags() insteon.MsgFlags {
	return insteon.MsgFlags(c.Delivery.SendFlags)
}

// MQTTConfig converts the [mqtt] section.
func (c Config) MQTTConfig() mqtt.Config {
	return mqtt.Config{
		Broker:      c.MQTT.Broker,
		ClientID:    c.MQTT.ClientID,
		Username:    c.MQTT.Username,
		Password:    c.MQTT.Password,
		TopicPrefix: c.MQTT.TopicPrefix,
		QoS:         c.MQTT.QoS,
		Retain:      c.MQTT.Retain,
	}
}

// DiscoveryConfig converts the [mdns] section, advertising the HTTP port.
func (c Config) DiscoveryConfig(version string) (discovery.Config, error) {
	port, err := discovery.PortFromListen(c.HTTP.Listen)
	if err != nil {
		return discovery.Config{}, err
	}
	return discovery.Config{
		Instance: c.MDNS.Instance,
		Service:  c.MDNS.Service,
		Port:     port,
		Info:     []string{"version=" + version, "api=/v1"},
	}, nil
}
