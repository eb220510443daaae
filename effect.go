package lampd

import "fmt"

// Effect is a rendering behavior applied to the strip.
type Effect int

const (
	// EffectOff shows the base color without animation.
	EffectOff Effect = iota
	EffectSolidRainbow
	EffectFluidRainbow
	EffectColorFade
	EffectLava
)

var effectNames = [...]string{
	EffectOff:          "Off",
	EffectSolidRainbow: "Solid Rainbow",
	EffectFluidRainbow: "Fluid Rainbow",
	EffectColorFade:    "ColorFade",
	EffectLava:         "Lava",
}

// EffectNames returns the names of all effects in declaration order.
func EffectNames() []string {
	names := make([]string, len(effectNames))
	copy(names, effectNames[:])
	return names
}

// ParseEffect looks up an effect by name. "Aus" is accepted as an alias of
// "Off" for lamps configured by older firmware.
func ParseEffect(name string) (Effect, bool) {
	if name == "Aus" {
		return EffectOff, true
	}
	for e, n := range effectNames {
		if n == name {
			return Effect(e), true
		}
	}
	return EffectOff, false
}

func (e Effect) String() string {
	if e < 0 || int(e) >= len(effectNames) {
		return fmt.Sprintf("Effect(%d)", int(e))
	}
	return effectNames[e]
}

// Animated reports whether the effect renders frames from a background
// task rather than once inside the property handler.
func (e Effect) Animated() bool {
	switch e {
	case EffectFluidRainbow, EffectLava, EffectColorFade:
		return true
	default:
		return false
	}
}

// Update is a parsed property change. The set of updates is closed: only
// the types in this package implement it.
type Update interface {
	update()
}

// PowerUpdate turns the lamp on or off.
type PowerUpdate struct {
	On bool
}

// ColorUpdate sets the base color.
type ColorUpdate struct {
	Color RGB
}

// BrightnessUpdate sets the brightness level.
type BrightnessUpdate struct {
	Level Brightness
}

// EffectUpdate requests an effect.
type EffectUpdate struct {
	Effect Effect
}

func (PowerUpdate) update()      {}
func (ColorUpdate) update()      {}
func (BrightnessUpdate) update() {}
func (EffectUpdate) update()     {}
