// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mqtt republishes inbound INSTEON traffic to an MQTT broker as
// JSON records, one topic per device and message type.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/vinsteon/internal/bus"
	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	// ModemTopic replaces the device segment for messages without a source
	ModemTopic = "modem"
)

var ErrNotConnected = errors.New("mqtt: not connected")

// Config selects the broker and publishing behavior.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Retain      bool
}

// Stats counts publisher activity.
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// Publisher forwards bus messages to MQTT.
type Publisher struct {
	cfg    Config
	client paho.Client
	log    zerolog.Logger

	mu        sync.RWMutex
	connected bool
	published map[string]uint64
	errors    uint64
}

// New creates a publisher. Connect must be called before Run.
func New(cfg Config, logger zerolog.Logger) *Publisher {
	p := &Publisher{
		cfg:       cfg,
		log:       logger,
		published: make(map[string]uint64),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(paho.Client) {
		p.setConnected(true)
		p.log.Info().Str("broker", cfg.Broker).Str("client_id", cfg.ClientID).Msg("MQTT connected")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		p.setConnected(false)
		p.log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost, reconnecting")
	}

	p.client = paho.NewClient(opts)
	return p
}

// brokerURL defaults a bare host:port to tcp://.
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect dials the broker.
func (p *Publisher) Connect(ctx context.Context) error {
	p.log.Info().Str("broker", p.cfg.Broker).Msg("Connecting to MQTT broker")

	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return fmt.Errorf("mqtt connect to %s: timeout", p.cfg.Broker)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", p.cfg.Broker, err)
	}

	p.setConnected(true)
	return nil
}

// Run publishes every message on inbound until ctx is done or the bus closes.
func (p *Publisher) Run(ctx context.Context, inbound *bus.Bus[insteon.Message]) error {
	return inbound.Observe(ctx, "mqtt", func(msg insteon.Message) {
		if err := p.Publish(msg, time.Now()); err != nil {
			p.log.Debug().Err(err).Msg("MQTT publish failed")
		}
	})
}

// Publish sends one message as a JSON record.
func (p *Publisher) Publish(msg insteon.Message, at time.Time) error {
	if !p.isConnected() {
		p.countError()
		return ErrNotConnected
	}

	payload, err := json.Marshal(insteon.NewRecord(msg, at))
	if err != nil {
		p.countError()
		return fmt.Errorf("encode record: %w", err)
	}

	topic := Topic(p.cfg.TopicPrefix, msg)
	token := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.countError()
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	p.mu.Lock()
	p.published[topic]++
	p.mu.Unlock()

	p.log.Trace().Str("topic", topic).Int("size", len(payload)).Msg("Published")
	return nil
}

// Topic builds <prefix>/<device>/<type> for msg, e.g.
// vinsteon/1A.D0.F4/standard_msg.
func Topic(prefix string, msg insteon.Message) string {
	device := ModemTopic
	if addr, ok := insteon.Source(msg); ok {
		device = addr.String()
	}
	kind := strings.ToLower(insteon.Name(msg.Opcode()))

	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return device + "/" + kind
	}
	return prefix + "/" + device + "/" + kind
}

// Disconnect closes the broker connection.
func (p *Publisher) Disconnect() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		p.log.Info().Msg("MQTT disconnected")
	}
	p.setConnected(false)
}

// Stats returns a copy of the publish counters.
func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	published := make(map[string]uint64, len(p.published))
	for k, v := range p.published {
		published[k] = v
	}
	return Stats{
		Connected: p.connected,
		Published: published,
		Errors:    p.errors,
	}
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *Publisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *Publisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}
