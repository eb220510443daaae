package main

import (
	"fmt"
	"os"

	"github.com/caarlos0/env"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type config struct {
	HTTPAddr      string `yaml:"http_addr" env:"LAMPD_HTTP_ADDR"`
	HTTPAdminAddr string `yaml:"http_admin_addr" env:"LAMPD_HTTP_ADMIN_ADDR"`

	MQTTBroker   string `yaml:"mqtt_broker" env:"LAMPD_MQTT_BROKER"`
	MQTTClientID string `yaml:"mqtt_client_id" env:"LAMPD_MQTT_CLIENT_ID"`
	MQTTUsername string `yaml:"mqtt_username" env:"LAMPD_MQTT_USERNAME"`
	MQTTPassword string `yaml:"mqtt_password" env:"LAMPD_MQTT_PASSWORD"`
	BaseTopic    string `yaml:"base_topic" env:"LAMPD_BASE_TOPIC"`
	DeviceID     string `yaml:"device_id" env:"LAMPD_DEVICE_ID"`
	DeviceName   string `yaml:"device_name" env:"LAMPD_DEVICE_NAME"`

	// Driver is one of ws281x, nrzled or none.
	Driver     string `yaml:"driver" env:"LAMPD_DRIVER"`
	NumLEDs    int    `yaml:"num_leds" env:"LAMPD_NUM_LEDS"`
	GPIOPin    int    `yaml:"gpio_pin" env:"LAMPD_GPIO_PIN"`
	DMAChannel int    `yaml:"dma_channel" env:"LAMPD_DMA_CHANNEL"`
	SPIPort    string `yaml:"spi_port" env:"LAMPD_SPI_PORT"`
	FrameRate  int    `yaml:"frame_rate" env:"LAMPD_FRAME_RATE"`

	Verbose bool `yaml:"verbose" env:"LAMPD_VERBOSE"`
}

var cfg = config{
	HTTPAddr:      "0.0.0.0:9000",
	HTTPAdminAddr: "127.0.0.1:9002",
	MQTTClientID:  "lampd",
	BaseTopic:     "homie",
	DeviceID:      "desklamp",
	DeviceName:    "Desklamp",
	Driver:        "ws281x",
	NumLEDs:       60,
	GPIOPin:       12,
	DMAChannel:    10,
	FrameRate:     50,
}

var configPath = ""

func init() {
	pflag.StringVarP(&configPath, "config", "c", configPath, "YAML config file")
	pflag.StringVarP(&cfg.HTTPAddr, "http-addr", "a", cfg.HTTPAddr, "HTTP server address")
	pflag.StringVarP(&cfg.HTTPAdminAddr, "http-admin-addr", "A", cfg.HTTPAdminAddr, "HTTP admin server address")
	pflag.StringVar(&cfg.MQTTBroker, "mqtt-broker", cfg.MQTTBroker, "MQTT broker URL, Homie is disabled if empty")
	pflag.StringVar(&cfg.MQTTClientID, "mqtt-client-id", cfg.MQTTClientID, "MQTT client ID")
	pflag.StringVar(&cfg.MQTTUsername, "mqtt-username", cfg.MQTTUsername, "MQTT username")
	pflag.StringVar(&cfg.MQTTPassword, "mqtt-password", cfg.MQTTPassword, "MQTT password")
	pflag.StringVar(&cfg.BaseTopic, "base-topic", cfg.BaseTopic, "Homie base topic")
	pflag.StringVar(&cfg.DeviceID, "device-id", cfg.DeviceID, "Homie device ID")
	pflag.StringVar(&cfg.DeviceName, "device-name", cfg.DeviceName, "Homie device name")
	pflag.StringVarP(&cfg.Driver, "driver", "d", cfg.Driver, "LED driver: ws281x, nrzled or none")
	pflag.IntVarP(&cfg.NumLEDs, "leds", "n", cfg.NumLEDs, "number of LEDs on the strip")
	pflag.IntVar(&cfg.GPIOPin, "gpio-pin", cfg.GPIOPin, "GPIO pin of the ws281x strip")
	pflag.IntVar(&cfg.DMAChannel, "dma-channel", cfg.DMAChannel, "DMA channel of the ws281x strip")
	pflag.StringVar(&cfg.SPIPort, "spi-port", cfg.SPIPort, "SPI port of the nrzled strip, empty for the first one")
	pflag.IntVar(&cfg.FrameRate, "frame-rate", cfg.FrameRate, "animation frame rate")
	pflag.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "verbose logging")
}

// loadConfig layers the config file and the environment over the defaults
// in cfg. Flags given on the command line are applied last; they are bound
// to cfg, so that is the only config loadConfig can fill. pflag.Parse must
// have been called.
func loadConfig(path string) error {
	var changed [][2]string
	pflag.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			changed = append(changed, [2]string{f.Name, f.Value.String()})
		}
	})

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return fmt.Errorf("failed to parse config %q: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	for _, flag := range changed {
		if err := pflag.Set(flag[0], flag[1]); err != nil {
			return fmt.Errorf("failed to reapply flag --%s: %w", flag[0], err)
		}
	}

	if cfg.NumLEDs <= 0 {
		return fmt.Errorf("invalid number of LEDs: %d", cfg.NumLEDs)
	}
	if cfg.FrameRate <= 0 {
		return fmt.Errorf("invalid frame rate: %d", cfg.FrameRate)
	}

	return nil
}
