package homie

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTOpts are options for DialMQTT.
type MQTTOpts struct {
	// Broker is the broker URL, e.g. tcp://localhost:1883.
	Broker   string
	ClientID string
	Username string
	Password string
	// WillTopic receives "lost" if the connection drops. Use StateTopic.
	WillTopic string
	// QoS is used for publishing and subscribing.
	QoS byte
	// Timeout bounds every publish and subscribe. Defaults to 10 seconds.
	Timeout time.Duration
	Logger  *slog.Logger
}

// MQTTConn is a Conn backed by a paho MQTT client. Subscriptions are
// restored after reconnecting.
type MQTTConn struct {
	client mqtt.Client
	opts   MQTTOpts
	logger *slog.Logger

	subsMu sync.Mutex
	subs   map[string]MessageHandler
}

var _ Conn = (*MQTTConn)(nil)

func newMQTTConn(opts MQTTOpts) *MQTTConn {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &MQTTConn{
		opts:   opts,
		logger: opts.Logger,
		subs:   make(map[string]MessageHandler),
	}
}

// DialMQTT connects to an MQTT broker.
func DialMQTT(ctx context.Context, opts MQTTOpts) (*MQTTConn, error) {
	c := newMQTTConn(opts)
	opts = c.opts

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetAutoReconnect(true).
		// Set handlers publish and wait for the acknowledgement.
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.logger.Warn(
				"lost connection to MQTT broker",
				"error", err)
		})
	if opts.WillTopic != "" {
		clientOpts.SetWill(opts.WillTopic, string(StateLost), opts.QoS, true)
	}

	c.client = mqtt.NewClient(clientOpts)

	if err := c.wait(ctx, c.client.Connect()); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.Broker, err)
	}

	return c, nil
}

// Publish implements Conn.
func (c *MQTTConn) Publish(topic string, retained bool, payload string) error {
	return c.wait(context.Background(), c.client.Publish(topic, c.opts.QoS, retained, payload))
}

// Subscribe implements Conn.
func (c *MQTTConn) Subscribe(topic string, handler MessageHandler) error {
	c.subsMu.Lock()
	c.subs[topic] = handler
	c.subsMu.Unlock()

	return c.subscribe(topic, handler)
}

// Close disconnects from the broker.
func (c *MQTTConn) Close() error {
	c.client.Disconnect(250)
	return nil
}

func (c *MQTTConn) subscribe(topic string, handler MessageHandler) error {
	token := c.client.Subscribe(topic, c.opts.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	return c.wait(context.Background(), token)
}

func (c *MQTTConn) onConnect(mqtt.Client) {
	c.logger.Info(
		"connected to MQTT broker",
		"broker", c.opts.Broker)

	c.subsMu.Lock()
	subs := make(map[string]MessageHandler, len(c.subs))
	for topic, handler := range c.subs {
		subs[topic] = handler
	}
	c.subsMu.Unlock()

	// Paho calls this from its own goroutine; resubscribing inline would
	// deadlock waiting for the subscribe acknowledgement.
	go func() {
		for topic, handler := range subs {
			if err := c.subscribe(topic, handler); err != nil {
				c.logger.Error(
					"failed to resubscribe",
					"topic", topic,
					"error", err)
			}
		}
	}()
}

func (c *MQTTConn) wait(ctx context.Context, token mqtt.Token) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
