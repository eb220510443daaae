package lampd

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"dev.acmcsuf.com/christmas/lib/xcolor"
	"github.com/lucasb-eyer/go-colorful"
)

// ErrMalformedColor is returned by ParseColor for payloads that are not
// three comma-separated integers.
var ErrMalformedColor = errors.New("malformed color")

// DefaultColor is the base color a lamp starts with.
var DefaultColor = RGB{171, 20, 158}

// RGB is a color as set through the color property. Channels are kept as
// parsed and are only clamped when the color is applied to a pixel.
type RGB struct {
	R, G, B int
}

// ParseColor parses an "R,G,B" string. Whitespace around each field is
// ignored.
func ParseColor(text string) (RGB, error) {
	fields := strings.Split(text, ",")
	if len(fields) != 3 {
		return RGB{}, fmt.Errorf("%w: expected 3 fields, got %d", ErrMalformedColor, len(fields))
	}

	var channels [3]int
	for i, field := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return RGB{}, fmt.Errorf("%w: field %d: %v", ErrMalformedColor, i, err)
		}
		channels[i] = v
	}

	return RGB{channels[0], channels[1], channels[2]}, nil
}

// String formats the color the way ParseColor reads it.
func (c RGB) String() string {
	return fmt.Sprintf("%d,%d,%d", c.R, c.G, c.B)
}

// Brightness is a brightness level between MinBrightness and
// MaxBrightness.
type Brightness int

const (
	MinBrightness     Brightness = 1
	MaxBrightness     Brightness = 8
	DefaultBrightness Brightness = 4
)

// ClampBrightness clamps n into the valid brightness range.
func ClampBrightness(n int) Brightness {
	switch {
	case n < int(MinBrightness):
		return MinBrightness
	case n > int(MaxBrightness):
		return MaxBrightness
	default:
		return Brightness(n)
	}
}

// Scale returns the channel numerator for the brightness level. The curve
// is quadratic so that the low levels stay distinguishable.
func (b Brightness) Scale() int {
	l := float64(b + 1)
	return int(math.Round(4 + 3.1*l*l))
}

// Apply scales c by the brightness curve.
func (b Brightness) Apply(c RGB) xcolor.RGB {
	scale := b.Scale()
	return xcolor.RGB{
		R: clampChannel(scale * c.R / 255),
		G: clampChannel(scale * c.G / 255),
		B: clampChannel(scale * c.B / 255),
	}
}

func (b Brightness) String() string {
	return strconv.Itoa(int(b))
}

// HueToRGB returns the rainbow color for position index out of count,
// scaled by the brightness level. Positions wrap around, so index count is
// the same color as index 0.
func HueToRGB(index, count int, b Brightness) xcolor.RGB {
	if count <= 0 {
		return xcolor.RGB{}
	}

	index %= count
	if index < 0 {
		index += count
	}

	hue := 360 * float64(index) / float64(count)
	r, g, bl := colorful.Hsv(hue, 1, 1).RGB255()
	return b.Apply(RGB{int(r), int(g), int(bl)})
}

func clampChannel(v int) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v)
	}
}

// clampRGB converts c into a pixel without scaling it.
func clampRGB(c RGB) xcolor.RGB {
	return xcolor.RGB{
		R: clampChannel(c.R),
		G: clampChannel(c.G),
		B: clampChannel(c.B),
	}
}
