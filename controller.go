package lampd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dev.acmcsuf.com/christmas/lib/leddraw"
	"dev.acmcsuf.com/christmas/lib/xcolor"
)

// State is the controller's effect state.
type State struct {
	Power      bool
	BaseColor  RGB
	Brightness Brightness
	Effect     Effect
}

// DefaultState is the state a lamp starts in.
var DefaultState = State{
	Power:      false,
	BaseColor:  DefaultColor,
	Brightness: DefaultBrightness,
	Effect:     EffectOff,
}

// ControllerOpts are options for a controller.
type ControllerOpts struct {
	// Sink receives every flushed frame.
	Sink PixelSink
	// NumLEDs is the length of the strip.
	NumLEDs int
	// FrameInterval is the delay between frames of the fluid rainbow and
	// the color fade. Defaults to DefaultFrameInterval.
	FrameInterval time.Duration
	// LavaInterval is the delay between frames of the lava effect.
	// Defaults to DefaultLavaInterval.
	LavaInterval time.Duration
	// OnStateChange is called when the state changes outside of Apply, for
	// example when a color fade finishes. It is called without any
	// controller lock held.
	OnStateChange func(State)
	// Logger is the logger to use for the controller.
	Logger *slog.Logger
}

const (
	DefaultFrameInterval = time.Second / 50
	DefaultLavaInterval  = 15 * time.Millisecond
)

// Controller is the effect state machine. It owns the strip and hands
// write ownership of it to at most one renderer at a time.
type Controller struct {
	opts   ControllerOpts
	logger *slog.Logger

	mu    sync.Mutex
	state State
	strip leddraw.LEDStrip
	owner *task
	gen   uint64

	tasks sync.WaitGroup
}

// task is the handle of a running renderer. A renderer may only write to
// the strip while the controller's owner is its handle.
type task struct {
	gen    uint64
	effect Effect
	cancel context.CancelFunc
}

// frameFunc renders one frame into the strip. It is called with the
// controller lock held and returns true once the renderer is finished.
type frameFunc func(frame int) (done bool)

// NewController creates a new controller in DefaultState. The strip starts
// black and nothing is written until the first update.
func NewController(opts ControllerOpts) *Controller {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = DefaultFrameInterval
	}
	if opts.LavaInterval <= 0 {
		opts.LavaInterval = DefaultLavaInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Controller{
		opts:   opts,
		logger: opts.Logger,
		state:  DefaultState,
		strip:  make(leddraw.LEDStrip, opts.NumLEDs),
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// LEDs returns a copy of the strip.
func (c *Controller) LEDs() leddraw.LEDStrip {
	c.mu.Lock()
	defer c.mu.Unlock()

	strip := make(leddraw.LEDStrip, len(c.strip))
	copy(strip, c.strip)
	return strip
}

// Apply applies an update and returns the resulting state. It never waits
// for a running renderer.
func (c *Controller) Apply(u Update) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch u := u.(type) {
	case PowerUpdate:
		c.setPower(u.On)
	case ColorUpdate:
		c.setColor(u.Color)
	case BrightnessUpdate:
		c.setBrightness(ClampBrightness(int(u.Level)))
	case EffectUpdate:
		c.setEffect(u.Effect)
	default:
		panic(fmt.Sprintf("lampd: unknown update %T", u))
	}

	return c.state
}

// Close stops the running renderer, if any, and waits for it to exit.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.revoke()
	c.mu.Unlock()

	c.tasks.Wait()
	return nil
}

// setPower stops the running renderer on power off and resumes the recorded
// effect on power on. A color fade is not resumed.
func (c *Controller) setPower(on bool) {
	c.state.Power = on

	if !on {
		c.revoke()
		if c.state.Effect == EffectColorFade {
			c.state.Effect = EffectOff
		}
		c.fill(xcolor.RGB{})
		c.flush()
		return
	}

	if c.owner != nil && c.state.Effect.Animated() {
		// Started while powered off; keep it running.
		return
	}
	c.setEffect(c.state.Effect)
}

func (c *Controller) setColor(rgb RGB) {
	c.state.BaseColor = rgb
	c.state.Effect = EffectOff
	c.revoke()

	if c.state.Power {
		c.renderStatic()
	}
}

func (c *Controller) setBrightness(level Brightness) {
	c.state.Brightness = level

	switch {
	case c.state.Effect == EffectSolidRainbow:
		c.renderRainbow()
	case c.owner != nil && c.owner.effect == EffectFluidRainbow:
		// The running task keeps rotating whatever is in the strip.
		c.renderRainbow()
	case c.owner != nil:
		// Lava and the color fade do not depend on brightness.
	case c.state.Power:
		c.renderStatic()
	}
}

func (c *Controller) setEffect(effect Effect) {
	c.state.Effect = effect
	c.revoke()

	switch effect {
	case EffectSolidRainbow:
		c.renderRainbow()
	case EffectFluidRainbow:
		c.renderRainbow()
		c.start(effect, c.opts.FrameInterval, c.fluidRainbow())
	case EffectLava:
		c.start(effect, c.opts.LavaInterval, c.lava())
	case EffectColorFade:
		c.start(effect, c.opts.FrameInterval, c.colorFade(c.state.BaseColor))
	default:
		c.state.Effect = EffectOff
		c.renderStatic()
	}
}

// revoke takes write ownership away from the running renderer. The
// renderer notices on its next frame and exits without writing.
func (c *Controller) revoke() {
	if c.owner == nil {
		return
	}

	c.logger.Debug(
		"revoking effect task",
		"effect", c.owner.effect,
		"gen", c.owner.gen)

	c.owner.cancel()
	c.owner = nil
}

// start hands write ownership to a new renderer task.
func (c *Controller) start(effect Effect, interval time.Duration, render frameFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	c.gen++
	t := &task{
		gen:    c.gen,
		effect: effect,
		cancel: cancel,
	}
	c.owner = t

	c.logger.Debug(
		"starting effect task",
		"effect", effect,
		"gen", t.gen)

	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		defer cancel()

		c.run(ctx, t, interval, render)
	}()
}

func (c *Controller) run(ctx context.Context, t *task, interval time.Duration, render frameFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for frame := 0; ; frame++ {
		c.mu.Lock()
		if c.owner != t {
			c.mu.Unlock()

			c.logger.Debug(
				"effect task superseded",
				"effect", t.effect,
				"gen", t.gen,
				"frames", frame)
			return
		}

		done := render(frame)
		c.flush()

		var state State
		if done {
			c.owner = nil
			c.state.Effect = EffectOff
			state = c.state
		}
		c.mu.Unlock()

		if done {
			c.logger.Debug(
				"effect task finished",
				"effect", t.effect,
				"gen", t.gen,
				"frames", frame+1)

			if c.opts.OnStateChange != nil {
				c.opts.OnStateChange(state)
			}
			return
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

func (c *Controller) fill(color xcolor.RGB) {
	for i := range c.strip {
		c.strip[i] = color
	}
}

func (c *Controller) flush() {
	if c.opts.Sink == nil {
		return
	}
	if err := c.opts.Sink.SetLEDs(c.strip); err != nil {
		c.logger.Error(
			"error writing LED strip",
			"error", err)
	}
}
