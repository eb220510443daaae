package homie

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

type message struct {
	Payload  string
	Retained bool
}

type fakeConn struct {
	mu        sync.Mutex
	published map[string]message
	subs      map[string]MessageHandler
	failOn    string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		published: make(map[string]message),
		subs:      make(map[string]MessageHandler),
	}
}

func (c *fakeConn) Publish(topic string, retained bool, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if topic == c.failOn {
		return errors.New("broker unavailable")
	}
	c.published[topic] = message{payload, retained}
	return nil
}

func (c *fakeConn) Subscribe(topic string, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subs[topic] = handler
	return nil
}

func (c *fakeConn) get(topic string) (message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, ok := c.published[topic]
	return msg, ok
}

func (c *fakeConn) deliver(t *testing.T, topic, payload string) {
	t.Helper()

	c.mu.Lock()
	handler, ok := c.subs[topic]
	c.mu.Unlock()

	if !ok {
		t.Fatalf("nothing subscribed to %s", topic)
	}
	handler(topic, []byte(payload))
}

type setCall struct {
	Node, Property, Payload string
}

var testNode = Node{
	ID:   "light",
	Name: "Desklamp",
	Type: "WS2812B",
	Properties: []Property{
		{ID: "power", Name: "Light power", Datatype: Boolean, Settable: true},
		{ID: "brightness", Name: "LED brightness", Datatype: Enum, Format: "1,2,3", Settable: true},
		{ID: "temperature", Name: "Temperature", Datatype: Float},
	},
}

func startTestDevice(t *testing.T, conn *fakeConn) (*Device, *[]setCall, context.CancelFunc) {
	t.Helper()

	var mu sync.Mutex
	var calls []setCall

	device, err := NewDevice(conn, DeviceOpts{
		ID:    "desklamp",
		Name:  "Desk lamp",
		Nodes: []Node{testNode},
		OnSet: func(node, property, payload string) error {
			mu.Lock()
			defer mu.Unlock()

			calls = append(calls, setCall{node, property, payload})
			return nil
		},
		Logger: slogt.New(t),
	})
	if err != nil {
		t.Fatal("failed to create device:", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- device.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Error("device error:", err)
		}
	})

	require.Eventually(t, func() bool {
		msg, _ := conn.get("homie/desklamp/$state")
		return msg.Payload == string(StateReady)
	}, 5*time.Second, time.Millisecond)

	return device, &calls, cancel
}

func TestDeviceAnnounce(t *testing.T) {
	conn := newFakeConn()
	startTestDevice(t, conn)

	want := map[string]string{
		"homie/desklamp/$homie":                      "4.0",
		"homie/desklamp/$name":                       "Desk lamp",
		"homie/desklamp/$nodes":                      "light",
		"homie/desklamp/$state":                      "ready",
		"homie/desklamp/light/$name":                 "Desklamp",
		"homie/desklamp/light/$type":                 "WS2812B",
		"homie/desklamp/light/$properties":           "power,brightness,temperature",
		"homie/desklamp/light/power/$datatype":       "boolean",
		"homie/desklamp/light/power/$settable":       "true",
		"homie/desklamp/light/power/$retained":       "true",
		"homie/desklamp/light/brightness/$format":    "1,2,3",
		"homie/desklamp/light/temperature/$settable": "false",
		"homie/desklamp/light/temperature/$datatype": "float",
		"homie/desklamp/light/temperature/$name":     "Temperature",
		"homie/desklamp/light/brightness/$datatype":  "enum",
		"homie/desklamp/light/power/$name":           "Light power",
		"homie/desklamp/light/brightness/$settable":  "true",
		"homie/desklamp/light/temperature/$retained": "true",
		"homie/desklamp/light/brightness/$name":      "LED brightness",
		"homie/desklamp/light/brightness/$retained":  "true",
		"homie/desklamp/$extensions":                 "",
	}

	for topic, payload := range want {
		msg, ok := conn.get(topic)
		if !ok {
			t.Errorf("%s was not published", topic)
			continue
		}
		if msg.Payload != payload || !msg.Retained {
			t.Errorf("%s: expected retained %q, got %+v", topic, payload, msg)
		}
	}

	if _, ok := conn.get("homie/desklamp/light/power/$format"); ok {
		t.Error("empty format was published")
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	if _, ok := conn.subs["homie/desklamp/light/temperature/set"]; ok {
		t.Error("subscribed to a property that is not settable")
	}
}

func TestDeviceSet(t *testing.T) {
	conn := newFakeConn()
	_, calls, _ := startTestDevice(t, conn)

	conn.deliver(t, "homie/desklamp/light/power/set", "true")
	conn.deliver(t, "homie/desklamp/light/power/set", "yes")
	conn.deliver(t, "homie/desklamp/light/power/set", "")
	conn.deliver(t, "homie/desklamp/light/brightness/set", "12")

	want := []setCall{
		{"light", "power", "true"},
		{"light", "brightness", "12"},
	}
	if diff := cmp.Diff(want, *calls); diff != "" {
		t.Errorf("unexpected set calls (-want +got):\n%s", diff)
	}
}

func TestDevicePublish(t *testing.T) {
	conn := newFakeConn()
	device, _, _ := startTestDevice(t, conn)

	if err := device.Publish("light", "power", "true"); err != nil {
		t.Fatal("unexpected error:", err)
	}

	msg, _ := conn.get("homie/desklamp/light/power")
	if diff := cmp.Diff(message{"true", true}, msg); diff != "" {
		t.Errorf("unexpected message (-want +got):\n%s", diff)
	}

	if err := device.Publish("light", "color", "1,2,3"); err == nil {
		t.Error("expected an error publishing an unknown property")
	}
}

func TestDeviceDisconnect(t *testing.T) {
	conn := newFakeConn()
	_, _, cancel := startTestDevice(t, conn)

	cancel()

	require.Eventually(t, func() bool {
		msg, _ := conn.get("homie/desklamp/$state")
		return msg.Payload == string(StateDisconnected)
	}, 5*time.Second, time.Millisecond)
}

func TestDeviceAnnounceError(t *testing.T) {
	conn := newFakeConn()
	conn.failOn = "homie/desklamp/$nodes"

	device, err := NewDevice(conn, DeviceOpts{
		ID:     "desklamp",
		Nodes:  []Node{testNode},
		Logger: slogt.New(t),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := device.Start(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
}

func TestNewDeviceInvalidIDs(t *testing.T) {
	tests := []struct {
		name string
		opts DeviceOpts
	}{
		{
			name: "device",
			opts: DeviceOpts{ID: "Desk Lamp"},
		},
		{
			name: "node",
			opts: DeviceOpts{ID: "desklamp", Nodes: []Node{{ID: "-light"}}},
		},
		{
			name: "property",
			opts: DeviceOpts{ID: "desklamp", Nodes: []Node{{
				ID:         "light",
				Properties: []Property{{ID: "$power"}},
			}}},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := NewDevice(newFakeConn(), test.opts); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestStateTopic(t *testing.T) {
	if got := StateTopic("", "desklamp"); got != "homie/desklamp/$state" {
		t.Errorf("unexpected topic %q", got)
	}
	if got := StateTopic("devices", "desklamp"); got != "devices/desklamp/$state" {
		t.Errorf("unexpected topic %q", got)
	}
}
