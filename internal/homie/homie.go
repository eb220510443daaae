// Package homie implements a device following the Homie 4.0 convention for
// MQTT.
package homie

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// Version is the Homie convention version implemented by this package.
const Version = "4.0"

// DefaultBaseTopic is the topic all Homie devices live under by default.
const DefaultBaseTopic = "homie"

// State is the lifecycle state of a device.
type State string

const (
	StateInit         State = "init"
	StateReady        State = "ready"
	StateDisconnected State = "disconnected"
	StateSleeping     State = "sleeping"
	StateLost         State = "lost"
	StateAlert        State = "alert"
)

// Datatype is the datatype of a property.
type Datatype string

const (
	Integer Datatype = "integer"
	Float   Datatype = "float"
	Boolean Datatype = "boolean"
	String  Datatype = "string"
	Enum    Datatype = "enum"
	Color   Datatype = "color"
)

// Property is a property of a node.
type Property struct {
	ID       string
	Name     string
	Datatype Datatype
	Format   string
	Settable bool
	// NonRetained marks the property as an event rather than a state.
	NonRetained bool
}

// Node is a node of a device.
type Node struct {
	ID         string
	Name       string
	Type       string
	Properties []Property
}

// Conn is the MQTT connection a device talks through.
type Conn interface {
	Publish(topic string, retained bool, payload string) error
	Subscribe(topic string, handler MessageHandler) error
}

// MessageHandler handles an inbound MQTT message.
type MessageHandler func(topic string, payload []byte)

// SetHandler is called for every valid /set message. Returned errors are
// logged.
type SetHandler func(node, property, payload string) error

// DeviceOpts are options for a device.
type DeviceOpts struct {
	// BaseTopic defaults to DefaultBaseTopic.
	BaseTopic string
	ID        string
	Name      string
	Nodes     []Node
	OnSet     SetHandler
	Logger    *slog.Logger
}

// Device is a Homie device.
type Device struct {
	opts   DeviceOpts
	conn   Conn
	logger *slog.Logger
}

var idRegexp = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// NewDevice creates a new device. IDs must be lowercase alphanumerics and
// hyphens.
func NewDevice(conn Conn, opts DeviceOpts) (*Device, error) {
	if opts.BaseTopic == "" {
		opts.BaseTopic = DefaultBaseTopic
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if !idRegexp.MatchString(opts.ID) {
		return nil, fmt.Errorf("invalid device ID %q", opts.ID)
	}
	for _, node := range opts.Nodes {
		if !idRegexp.MatchString(node.ID) {
			return nil, fmt.Errorf("invalid node ID %q", node.ID)
		}
		for _, prop := range node.Properties {
			if !idRegexp.MatchString(prop.ID) {
				return nil, fmt.Errorf("invalid property ID %q in node %q", prop.ID, node.ID)
			}
		}
	}

	return &Device{
		opts:   opts,
		conn:   conn,
		logger: opts.Logger,
	}, nil
}

// StateTopic returns the $state topic of a device. It is used as the MQTT
// last will topic.
func StateTopic(baseTopic, deviceID string) string {
	if baseTopic == "" {
		baseTopic = DefaultBaseTopic
	}
	return baseTopic + "/" + deviceID + "/$state"
}

// Topic returns the topic of the given path below the device.
func (d *Device) Topic(parts ...string) string {
	return d.opts.BaseTopic + "/" + d.opts.ID + "/" + strings.Join(parts, "/")
}

// Start announces the device, subscribes to the set topics of all settable
// properties and blocks until ctx is done. The device is marked
// disconnected before Start returns.
func (d *Device) Start(ctx context.Context) error {
	if err := d.announce(); err != nil {
		return err
	}

	<-ctx.Done()

	if err := d.setState(StateDisconnected); err != nil {
		d.logger.Warn(
			"failed to mark device disconnected",
			"error", err)
	}

	return nil
}

func (d *Device) announce() error {
	if err := d.setState(StateInit); err != nil {
		return err
	}

	nodeIDs := make([]string, len(d.opts.Nodes))
	for i, node := range d.opts.Nodes {
		nodeIDs[i] = node.ID
	}

	attrs := [][2]string{
		{d.Topic("$homie"), Version},
		{d.Topic("$name"), d.opts.Name},
		{d.Topic("$nodes"), strings.Join(nodeIDs, ",")},
		{d.Topic("$extensions"), ""},
	}

	for _, node := range d.opts.Nodes {
		propIDs := make([]string, len(node.Properties))
		for i, prop := range node.Properties {
			propIDs[i] = prop.ID
		}

		attrs = append(attrs,
			[2]string{d.Topic(node.ID, "$name"), node.Name},
			[2]string{d.Topic(node.ID, "$type"), node.Type},
			[2]string{d.Topic(node.ID, "$properties"), strings.Join(propIDs, ",")},
		)

		for _, prop := range node.Properties {
			attrs = append(attrs,
				[2]string{d.Topic(node.ID, prop.ID, "$name"), prop.Name},
				[2]string{d.Topic(node.ID, prop.ID, "$datatype"), string(prop.Datatype)},
				[2]string{d.Topic(node.ID, prop.ID, "$settable"), strconv.FormatBool(prop.Settable)},
				[2]string{d.Topic(node.ID, prop.ID, "$retained"), strconv.FormatBool(!prop.NonRetained)},
			)
			if prop.Format != "" {
				attrs = append(attrs,
					[2]string{d.Topic(node.ID, prop.ID, "$format"), prop.Format})
			}
		}
	}

	for _, attr := range attrs {
		if err := d.conn.Publish(attr[0], true, attr[1]); err != nil {
			return fmt.Errorf("failed to publish %s: %w", attr[0], err)
		}
	}

	for _, node := range d.opts.Nodes {
		for _, prop := range node.Properties {
			if !prop.Settable {
				continue
			}

			node, prop := node, prop
			topic := d.Topic(node.ID, prop.ID, "set")
			err := d.conn.Subscribe(topic, func(_ string, payload []byte) {
				d.handleSet(node, prop, string(payload))
			})
			if err != nil {
				return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
			}
		}
	}

	return d.setState(StateReady)
}

func (d *Device) handleSet(node Node, prop Property, payload string) {
	logger := d.logger.With(
		"node", node.ID,
		"property", prop.ID,
		"payload", payload)

	if err := validate(prop.Datatype, payload); err != nil {
		logger.Warn(
			"dropping invalid set message",
			"error", err)
		return
	}

	if d.opts.OnSet == nil {
		return
	}

	if err := d.opts.OnSet(node.ID, prop.ID, payload); err != nil {
		logger.Warn(
			"failed to set property",
			"error", err)
	}
}

// Publish publishes the value of a property.
func (d *Device) Publish(nodeID, propertyID, value string) error {
	prop, ok := d.property(nodeID, propertyID)
	if !ok {
		return fmt.Errorf("unknown property %s/%s", nodeID, propertyID)
	}

	topic := d.Topic(nodeID, propertyID)
	if err := d.conn.Publish(topic, !prop.NonRetained, value); err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}
	return nil
}

func (d *Device) property(nodeID, propertyID string) (Property, bool) {
	for _, node := range d.opts.Nodes {
		if node.ID != nodeID {
			continue
		}
		for _, prop := range node.Properties {
			if prop.ID == propertyID {
				return prop, true
			}
		}
	}
	return Property{}, false
}

func (d *Device) setState(state State) error {
	if err := d.conn.Publish(d.Topic("$state"), true, string(state)); err != nil {
		return fmt.Errorf("failed to publish state %s: %w", state, err)
	}
	return nil
}

var errEmptyPayload = errors.New("empty payload")

// validate checks payloads of the datatypes whose syntax is fixed by the
// convention. Other datatypes are left to the set handler.
func validate(datatype Datatype, payload string) error {
	if payload == "" {
		return errEmptyPayload
	}

	switch datatype {
	case Boolean:
		if payload != "true" && payload != "false" {
			return fmt.Errorf("invalid boolean %q", payload)
		}
	case Integer:
		if _, err := strconv.ParseInt(payload, 10, 64); err != nil {
			return fmt.Errorf("invalid integer %q", payload)
		}
	case Float:
		if _, err := strconv.ParseFloat(payload, 64); err != nil {
			return fmt.Errorf("invalid float %q", payload)
		}
	}
	return nil
}
