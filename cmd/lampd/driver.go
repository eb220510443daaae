package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dev.acmcsuf.com/christmas/lib/leddraw"
	"dev.acmcsuf.com/lampd"
	"libdb.so/ledctl"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/host/v3"
)

// RGBController is a controller for RGB LEDs.
type RGBController interface {
	SetRGBAt(i int, color ledctl.RGB)
	Flush() error
}

// stripDriver pushes frames to the hardware at most FrameRate times per
// second. Frames written in between replace each other.
type stripDriver struct {
	logger *slog.Logger

	drawCh chan struct{}
	ctrl   RGBController
	ctrlMu sync.Mutex

	cfg stripDriverConfig
}

var _ lampd.PixelSink = (*stripDriver)(nil)

type stripDriverConfig struct {
	Controller RGBController
	FrameRate  int

	Logger *slog.Logger
}

func newStripDriver(cfg stripDriverConfig) *stripDriver {
	return &stripDriver{
		logger: cfg.Logger,
		drawCh: make(chan struct{}, 1),
		ctrl:   cfg.Controller,
		cfg:    cfg,
	}
}

func (c *stripDriver) start(ctx context.Context) error {
	drawCh := c.drawCh

	frameTicker := time.NewTicker(time.Second / time.Duration(c.cfg.FrameRate))
	defer frameTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-frameTicker.C:
			drawCh = c.drawCh
			continue
		case <-drawCh:
			drawCh = nil
		}

		c.ctrlMu.Lock()
		if err := c.ctrl.Flush(); err != nil {
			c.logger.Error(
				"error writing LED strip",
				"error", err)
		}
		c.ctrlMu.Unlock()
	}
}

// SetLEDs implements lampd.PixelSink.
func (c *stripDriver) SetLEDs(strip leddraw.LEDStrip) error {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()

	for i, color := range strip {
		c.ctrl.SetRGBAt(i, ledctl.RGB(color))
	}

	c.queueDraw()
	return nil
}

func (c *stripDriver) queueDraw() {
	select {
	case c.drawCh <- struct{}{}:
	default:
	}
}

var ws281xConfig = ledctl.WS281xConfig{
	ColorOrder:   ledctl.BGROrder,
	ColorModel:   ledctl.RGBModel,
	PWMFrequency: 800000,
}

func newWS281xController(cfg config) (RGBController, error) {
	ws281xCfg := ws281xConfig
	ws281xCfg.NumPixels = cfg.NumLEDs
	ws281xCfg.DMAChannel = cfg.DMAChannel
	ws281xCfg.GPIOPins = []int{cfg.GPIOPin}

	ws281x, err := ledctl.NewWS281x(ws281xCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create a WS281x controller: %w", err)
	}
	return ws281x, nil
}

// nrzledController drives NRZ LEDs (WS2812 and friends) over SPI.
type nrzledController struct {
	port spi.PortCloser
	dev  *nrzled.Dev
	buf  []byte
}

func newNRZLEDController(cfg config) (*nrzledController, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	port, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", cfg.SPIPort, err)
	}

	dev, err := nrzled.NewSPI(port, &nrzled.Opts{
		NumPixels: cfg.NumLEDs,
		Channels:  3,
		Freq:      800 * physic.KiloHertz,
	})
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to create nrzled device: %w", err)
	}

	return &nrzledController{
		port: port,
		dev:  dev,
		buf:  make([]byte, cfg.NumLEDs*3),
	}, nil
}

func (c *nrzledController) SetRGBAt(i int, color ledctl.RGB) {
	c.buf[i*3+0] = color.R
	c.buf[i*3+1] = color.G
	c.buf[i*3+2] = color.B
}

func (c *nrzledController) Flush() error {
	_, err := c.dev.Write(c.buf)
	return err
}

func (c *nrzledController) Close() error {
	if err := c.dev.Halt(); err != nil {
		return err
	}
	return c.port.Close()
}

// nopController is used when no strip is attached; frames only reach the
// viewers.
type nopController struct{}

func (nopController) SetRGBAt(int, ledctl.RGB) {}
func (nopController) Flush() error             { return nil }

func newRGBController(cfg config) (RGBController, error) {
	switch cfg.Driver {
	case "ws281x":
		return newWS281xController(cfg)
	case "nrzled":
		ctrl, err := newNRZLEDController(cfg)
		if err != nil {
			return nil, err
		}
		return ctrl, nil
	case "none":
		return nopController{}, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}
