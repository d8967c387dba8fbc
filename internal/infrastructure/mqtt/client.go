package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/sshswitch/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one inbound message. Paho calls handlers on its
// own goroutines, so they should return quickly. A returned error is logged
// and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is a paho connection that remembers its subscriptions and replays
// them after every reconnect. Handler panics are recovered and logged.
// All methods are safe for concurrent use.
type Client struct {
	client    pahomqtt.Client
	cfg       config.MQTTConfig
	connected atomic.Bool

	// ownsStatus is false when the caller supplied its own will topic.
	ownsStatus bool

	mu            sync.RWMutex
	subscriptions map[string]subscription
	onConnect     func()
	onDisconnect  func(err error)
	logger        Logger
}

// Connect dials the broker described by cfg and waits for the first CONNACK.
// will, when non-nil, replaces the client's own status topic as the Last
// Will. Paho reconnects automatically afterwards.
func Connect(cfg config.MQTTConfig, will *Will) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		ownsStatus:    will == nil,
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID, will)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })

	c.client = pahomqtt.NewClient(opts)
	if err := wait(c.client.Connect(), defaultConnectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	// The OnConnect handler may still be pending.
	c.connected.Store(true)

	return c, nil
}

func (c *Client) statusTopic() string {
	return Topics{}.ClientStatus(c.cfg.Broker.ClientID)
}

func (c *Client) handleConnect() {
	c.connected.Store(true)

	c.mu.RLock()
	for topic, sub := range c.subscriptions {
		c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
	fn := c.onConnect
	c.mu.RUnlock()

	if c.ownsStatus {
		c.client.Publish(c.statusTopic(), byte(c.cfg.QoS), true,
			buildStatusPayload(c.cfg.Broker.ClientID, "online", ""))
	}
	if fn != nil {
		fn()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.mu.RLock()
	fn, log := c.onDisconnect, c.logger
	c.mu.RUnlock()

	if log != nil {
		log.Warn("MQTT connection lost", "error", err)
	}
	if fn != nil {
		fn(err)
	}
}

// Close disconnects, first publishing a graceful offline status when the
// client owns its status topic. Closing a never-connected client is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.ownsStatus && c.IsConnected() {
		c.client.Publish(c.statusTopic(), byte(c.cfg.QoS), true,
			buildStatusPayload(c.cfg.Broker.ClientID, "offline", "graceful_shutdown")).
			WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// SetOnConnect registers fn to run after the initial connect and each
// reconnect, once subscriptions have been restored.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers fn to run when the connection drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger sets where handler errors and panics are reported. Without one
// they are dropped.
func (c *Client) SetLogger(log Logger) {
	c.mu.Lock()
	c.logger = log
	c.mu.Unlock()
}

func (c *Client) wrapHandler(h MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(h, msg.Topic(), msg.Payload())
	}
}

// dispatch runs h, logging a returned error or a recovered panic.
func (c *Client) dispatch(h MessageHandler, topic string, payload []byte) {
	c.mu.RLock()
	log := c.logger
	c.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil && log != nil {
			log.Error("MQTT handler panic recovered", "topic", topic, "panic", r)
		}
	}()

	if err := h(topic, payload); err != nil && log != nil {
		log.Warn("MQTT handler returned error", "topic", topic, "error", err)
	}
}
