package main

import (
	"context"
	"fmt"
	"log/slog"

	"dev.acmcsuf.com/lampd"
	"dev.acmcsuf.com/lampd/internal/homie"
)

const homieNodeID = "light"

func homieNode() homie.Node {
	props := lampd.Properties()

	node := homie.Node{
		ID:         homieNodeID,
		Name:       cfg.DeviceName,
		Type:       "WS2812B",
		Properties: make([]homie.Property, len(props)),
	}
	for i, p := range props {
		node.Properties[i] = homie.Property{
			ID:       string(p.ID),
			Name:     p.Name,
			Datatype: homie.Datatype(p.Datatype),
			Format:   p.Format,
			Settable: p.Settable,
		}
	}
	return node
}

func runHomie(ctx context.Context, store *lampd.PropertyStore, logger *slog.Logger) error {
	conn, err := homie.DialMQTT(ctx, homie.MQTTOpts{
		Broker:    cfg.MQTTBroker,
		ClientID:  cfg.MQTTClientID,
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		WillTopic: homie.StateTopic(cfg.BaseTopic, cfg.DeviceID),
		QoS:       1,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to dial MQTT: %w", err)
	}
	defer conn.Close()

	device, err := homie.NewDevice(conn, homie.DeviceOpts{
		BaseTopic: cfg.BaseTopic,
		ID:        cfg.DeviceID,
		Name:      cfg.DeviceName,
		Nodes:     []homie.Node{homieNode()},
		OnSet: func(node, property, payload string) error {
			return store.Set(lampd.PropertyID(property), payload)
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create Homie device: %w", err)
	}

	unsubscribe := store.Subscribe(func(id lampd.PropertyID, value string) {
		if err := device.Publish(homieNodeID, string(id), value); err != nil {
			logger.Warn(
				"failed to publish property",
				"property", id,
				"error", err)
		}
	})
	defer unsubscribe()

	for id, value := range store.Values() {
		if err := device.Publish(homieNodeID, string(id), value); err != nil {
			return err
		}
	}

	logger.Info(
		"announcing Homie device",
		"broker", cfg.MQTTBroker,
		"device", cfg.DeviceID)

	return device.Start(ctx)
}
