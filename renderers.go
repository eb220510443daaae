package lampd

import "dev.acmcsuf.com/christmas/lib/xcolor"

// lavaPalette runs from black through deep red and orange to a pale
// yellow-green.
var lavaPalette = [8]xcolor.RGB{
	{R: 0, G: 0, B: 0},
	{R: 46, G: 18, B: 0},
	{R: 96, G: 113, B: 0},
	{R: 108, G: 142, B: 3},
	{R: 119, G: 175, B: 17},
	{R: 146, G: 213, B: 44},
	{R: 174, G: 255, B: 82},
	{R: 188, G: 255, B: 115},
}

const (
	colorFadeSpan = 1024
	colorFadeStep = 8
	// colorFadeFrames counts the ramp steps plus the final clear.
	colorFadeFrames = colorFadeSpan/colorFadeStep + 1
)

func (c *Controller) renderStatic() {
	c.fill(c.state.Brightness.Apply(c.state.BaseColor))
	c.flush()
}

func (c *Controller) renderRainbow() {
	n := len(c.strip)
	for i := range c.strip {
		c.strip[i] = HueToRGB(i, n, c.state.Brightness)
	}
	c.flush()
}

// fluidRainbow rotates the strip one pixel toward index 0 per frame.
func (c *Controller) fluidRainbow() frameFunc {
	return func(int) bool {
		if len(c.strip) == 0 {
			return false
		}
		first := c.strip[0]
		copy(c.strip, c.strip[1:])
		c.strip[len(c.strip)-1] = first
		return false
	}
}

// lava walks a single write position along the strip, laying down the
// palette one entry per frame, starting from the hottest entry.
func (c *Controller) lava() frameFunc {
	pos, entry := 0, len(lavaPalette)-1
	return func(frame int) bool {
		if len(c.strip) == 0 {
			return false
		}
		if frame == 0 {
			c.fill(xcolor.RGB{})
		}

		c.strip[pos] = lavaPalette[entry]
		entry = (entry + 1) % len(lavaPalette)
		pos = (pos + 1) % len(c.strip)
		return false
	}
}

// colorFade ramps base up and down twice as a triangle wave, then clears
// the strip. The base color is not scaled by brightness.
func (c *Controller) colorFade(base RGB) frameFunc {
	base8 := clampRGB(base)
	return func(frame int) bool {
		if frame >= colorFadeFrames-1 {
			c.fill(xcolor.RGB{})
			return true
		}
		c.fill(fadeColor(base8, colorFadeIntensity(frame)))
		return false
	}
}

// colorFadeIntensity returns the triangle wave intensity for a fade step.
func colorFadeIntensity(step int) int {
	i := step * colorFadeStep
	b := i & 0xff
	if (i/256)%2 == 1 {
		b = 255 - b
	}
	return b
}

func fadeColor(c xcolor.RGB, intensity int) xcolor.RGB {
	return xcolor.RGB{
		R: uint8(int(c.R) * intensity / 255),
		G: uint8(int(c.G) * intensity / 255),
		B: uint8(int(c.B) * intensity / 255),
	}
}
