// Package mqtt publishes results to Home Assistant over MQTT discovery.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/iancoleman/strcase"

	"envnode/internal/sampling"
	"envnode/internal/watchdog"
)

const (
	publishTimeout = 5 * time.Second
	// Waits are sliced so the watchdog sees progress during a slow broker.
	publishStep = time.Second
)

type Options struct {
	Broker   string
	Port     int
	User     string
	Password string
	// DeviceName is the node hostname; the discovery uid is derived from it.
	DeviceName string
	Version    string
	// Refresher is kicked before and during every publish wait. Optional.
	Refresher watchdog.Refresher
}

type Client struct {
	client mqtt.Client
	opts   Options
	topics topics
	device deviceDoc
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool
	announced bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewClient(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	uid := strcase.ToSnake(opts.DeviceName)
	c := &Client{
		opts:   opts,
		topics: topics{uid: uid},
		device: deviceDoc{
			Identifiers:  []string{uid},
			Name:         opts.DeviceName,
			Manufacturer: "envnode",
			Model:        "BME280",
			SWVersion:    opts.Version,
		},
		logger: logger,
		stopCh: make(chan struct{}),
	}

	mo := mqtt.NewClientOptions()
	mo.AddBroker(fmt.Sprintf("tcp://%s:%d", opts.Broker, opts.Port))
	mo.SetClientID(uid)
	if opts.User != "" {
		mo.SetUsername(opts.User)
		mo.SetPassword(opts.Password)
	}
	mo.SetCleanSession(true)

	mo.SetAutoReconnect(true)
	mo.SetConnectRetry(true)
	mo.SetConnectRetryInterval(5 * time.Second)
	mo.SetMaxReconnectInterval(60 * time.Second)

	mo.SetKeepAlive(30 * time.Second)
	mo.SetPingTimeout(10 * time.Second)

	mo.SetWill(c.topics.availability(), "offline", 1, true)

	mo.SetOnConnectHandler(func(_ mqtt.Client) {
		c.mu.Lock()
		c.connected = true
		c.announced = false
		c.mu.Unlock()
		logger.Info("mqtt connected", "broker", opts.Broker, "port", opts.Port)
	})
	mo.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(mo)
	return c
}

// Connect waits for the first connection, honouring ctx and Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return fmt.Errorf("client stopped")
	default:
	}
	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return fmt.Errorf("client stopped")
		default:
		}
	}
}

// Publish sends every available channel of res plus the node address. The
// discovery documents go out first after each (re)connect.
func (c *Client) Publish(_ context.Context, res sampling.Result, ip string) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}
	if err := c.announce(); err != nil {
		return err
	}

	for _, e := range entities {
		v := e.value(res)
		if v == nil {
			continue
		}
		if err := c.publish(c.topics.state(e), false, formatValue(*v, e.Precision)); err != nil {
			return err
		}
	}
	if ip != "" {
		if err := c.publish(c.topics.state(ipEntity), false, ip); err != nil {
			return err
		}
	}

	c.logger.Debug("published result", "uid", c.topics.uid, "at", res.At)
	return nil
}

func (c *Client) announce() error {
	c.mu.RLock()
	done := c.announced
	c.mu.RUnlock()
	if done {
		return nil
	}

	for _, e := range append(entities[:len(entities):len(entities)], ipEntity) {
		doc, err := json.Marshal(c.topics.document(e, c.device))
		if err != nil {
			return fmt.Errorf("marshal discovery: %w", err)
		}
		if err := c.publish(c.topics.config(e), true, doc); err != nil {
			return err
		}
	}
	if err := c.publish(c.topics.availability(), true, "online"); err != nil {
		return err
	}

	c.mu.Lock()
	c.announced = true
	c.mu.Unlock()
	c.logger.Info("home assistant discovery published", "uid", c.topics.uid, "entities", len(entities)+1)
	return nil
}

func (c *Client) publish(topic string, retained bool, payload any) error {
	c.refresh()
	token := c.client.Publish(topic, 1, retained, payload)
	for waited := time.Duration(0); !token.WaitTimeout(publishStep); {
		c.refresh()
		if waited += publishStep; waited >= publishTimeout {
			return fmt.Errorf("publish timeout for topic %s", topic)
		}
	}
	if err := token.Error(); err != nil {
		c.logger.Error("publish failed", "topic", topic, "error", err)
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (c *Client) refresh() {
	if c.opts.Refresher != nil {
		c.opts.Refresher.Refresh()
	}
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect marks the node offline and closes the connection. Safe to call
// more than once.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.IsConnected() {
		_ = c.publish(c.topics.availability(), true, "offline")
	}
	c.client.Disconnect(250)

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
