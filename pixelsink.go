package lampd

import (
	"errors"

	"dev.acmcsuf.com/christmas/lib/leddraw"
)

// PixelSink is where finished frames go.
type PixelSink interface {
	// SetLEDs writes the whole strip at once. The sink must not keep a
	// reference to strip after it returns.
	SetLEDs(strip leddraw.LEDStrip) error
}

// MultiSink writes every frame to all of its sinks.
type MultiSink []PixelSink

var _ PixelSink = MultiSink(nil)

// SetLEDs implements PixelSink.
func (m MultiSink) SetLEDs(strip leddraw.LEDStrip) error {
	var errs []error
	for _, sink := range m {
		if err := sink.SetLEDs(strip); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
