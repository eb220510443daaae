package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dev.acmcsuf.com/christmas/lib/leddraw"
	"dev.acmcsuf.com/christmas/lib/xcolor"
	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
	"libdb.so/ledctl"
)

type fakeRGBController struct {
	mu      sync.Mutex
	pixels  []ledctl.RGB
	flushed [][]ledctl.RGB
	err     error
}

func newFakeRGBController(n int) *fakeRGBController {
	return &fakeRGBController{pixels: make([]ledctl.RGB, n)}
}

func (c *fakeRGBController) SetRGBAt(i int, color ledctl.RGB) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pixels[i] = color
}

func (c *fakeRGBController) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.flushed = append(c.flushed, append([]ledctl.RGB(nil), c.pixels...))
	return c.err
}

func (c *fakeRGBController) frames() [][]ledctl.RGB {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([][]ledctl.RGB(nil), c.flushed...)
}

func startTestDriver(t *testing.T, ctrl RGBController, frameRate int) *stripDriver {
	t.Helper()

	driver := newStripDriver(stripDriverConfig{
		Controller: ctrl,
		FrameRate:  frameRate,
		Logger:     slogt.New(t),
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- driver.start(ctx) }()

	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Error("driver error:", err)
		}
	})

	return driver
}

func TestStripDriverCoalescesFrames(t *testing.T) {
	ctrl := newFakeRGBController(2)
	driver := startTestDriver(t, ctrl, 1)

	for i := 1; i <= 5; i++ {
		driver.SetLEDs(leddraw.LEDStrip{
			{R: uint8(i)},
			{B: uint8(i)},
		})
	}

	last := []ledctl.RGB{{R: 5}, {B: 5}}
	require.Eventually(t, func() bool {
		frames := ctrl.frames()
		return len(frames) > 0 && cmp.Equal(last, frames[len(frames)-1])
	}, 5*time.Second, time.Millisecond)

	// At most the first frame and the coalesced rest.
	if n := len(ctrl.frames()); n > 2 {
		t.Errorf("expected at most 2 flushes, got %d", n)
	}
}

func TestStripDriverFlushError(t *testing.T) {
	ctrl := newFakeRGBController(1)
	ctrl.err = errors.New("strip unplugged")
	driver := startTestDriver(t, ctrl, 100)

	driver.SetLEDs(leddraw.LEDStrip{xcolor.RGB{G: 1}})
	require.Eventually(t, func() bool { return len(ctrl.frames()) == 1 }, 5*time.Second, time.Millisecond)

	// The driver keeps going after a failed write.
	driver.SetLEDs(leddraw.LEDStrip{xcolor.RGB{G: 2}})
	require.Eventually(t, func() bool { return len(ctrl.frames()) == 2 }, 5*time.Second, time.Millisecond)
}

func TestNewRGBControllerNone(t *testing.T) {
	c := cfg
	c.Driver = "none"

	ctrl, err := newRGBController(c)
	if err != nil {
		t.Fatal("unexpected error:", err)
	}
	ctrl.SetRGBAt(0, ledctl.RGB{R: 1})
	if err := ctrl.Flush(); err != nil {
		t.Error("unexpected flush error:", err)
	}

	c.Driver = "dmx"
	if _, err := newRGBController(c); err == nil {
		t.Error("expected an error for an unknown driver")
	}
}
