// Package diagnostics publishes a resclient.Client's connection state
// and cache size as Home-Assistant-style MQTT discovery sensors, for
// operators running resclient-based services alongside an existing HA
// MQTT broker. Entirely optional: resclient.Options.Diagnostics is nil
// by default.
//
// Built on the autopaho connection manager, following the usual
// discovery-topic-then-state-topic publish shape with an availability
// birth/will message. Reports the two metrics a cache coordinator can
// usefully expose: connection state and resident resource count.
package diagnostics

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// Source supplies the runtime values a Publisher reports.
type Source interface {
	// Connected reports whether the client currently has a live
	// transport connection.
	Connected() bool
	// CacheSize reports the number of resources currently resident in
	// the cache.
	CacheSize() int
}

// Config configures a Publisher's MQTT broker connection.
type Config struct {
	Broker             string
	Username           string
	Password           string
	DeviceName         string
	DiscoveryPrefix    string // default "homeassistant"
	PublishIntervalSec int    // default 30
}

// sensorConfig mirrors the subset of HA's MQTT sensor discovery schema
// resclient needs; a process publishing these two sensors has no use
// for a broader sensor surface (icons, units, entity categories beyond
// "diagnostic").
type sensorConfig struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	StateTopic        string `json:"state_topic"`
	AvailabilityTopic string `json:"availability_topic"`
	EntityCategory    string `json:"entity_category,omitempty"`
	Device            device `json:"device"`
}

type device struct {
	Identifiers []string `json:"identifiers"`
	Name        string   `json:"name"`
}

// Publisher manages the MQTT connection and periodic telemetry loop.
type Publisher struct {
	cfg    Config
	source Source
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New creates a Publisher. Call Start to connect and begin publishing.
func New(cfg Config, source Source, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	if cfg.PublishIntervalSec <= 0 {
		cfg.PublishIntervalSec = 30
	}
	return &Publisher{cfg: cfg, source: source, logger: logger}
}

// Start connects to the broker and runs the publish loop until ctx is
// cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker url: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("diagnostics connected to broker", "broker", p.cfg.Broker)
			publishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			p.publishDiscovery(publishCtx, cm)
			p.publishAvailability(publishCtx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("diagnostics connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "resclient-diag-" + p.cfg.DeviceName,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("diagnostics mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("diagnostics initial connection timed out, retrying in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop publishes an offline availability message and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

func (p *Publisher) baseTopic() string          { return "resclient/" + p.cfg.DeviceName }
func (p *Publisher) availabilityTopic() string  { return p.baseTopic() + "/availability" }
func (p *Publisher) stateTopic(e string) string { return p.baseTopic() + "/" + e + "/state" }
func (p *Publisher) discoveryTopic(entity string) string {
	return p.cfg.DiscoveryPrefix + "/sensor/" + p.cfg.DeviceName + "/" + entity + "/config"
}

func (p *Publisher) sensors() map[string]sensorConfig {
	dev := device{Identifiers: []string{p.cfg.DeviceName}, Name: p.cfg.DeviceName}
	avail := p.availabilityTopic()
	return map[string]sensorConfig{
		"connected": {
			Name:              "Connected",
			UniqueID:          p.cfg.DeviceName + "_connected",
			StateTopic:        p.stateTopic("connected"),
			AvailabilityTopic: avail,
			EntityCategory:    "diagnostic",
			Device:            dev,
		},
		"cache_size": {
			Name:              "Cache Size",
			UniqueID:          p.cfg.DeviceName + "_cache_size",
			StateTopic:        p.stateTopic("cache_size"),
			AvailabilityTopic: avail,
			EntityCategory:    "diagnostic",
			Device:            dev,
		},
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for entity, cfg := range p.sensors() {
		payload, err := json.Marshal(cfg)
		if err != nil {
			p.logger.Error("diagnostics marshal discovery payload", "entity", entity, "error", err)
			continue
		}
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   p.discoveryTopic(entity),
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("diagnostics discovery publish failed", "entity", entity, "error", err)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("diagnostics availability publish failed", "status", status, "error", err)
	}
}

func (p *Publisher) runLoop(ctx context.Context) {
	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.publishStates(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}

	connected := "false"
	if p.source.Connected() {
		connected = "true"
	}
	cacheSize := fmt.Sprintf("%d", p.source.CacheSize())

	for entity, value := range map[string]string{"connected": connected, "cache_size": cacheSize} {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("diagnostics state publish failed", "entity", entity, "error", err)
		}
	}
}
