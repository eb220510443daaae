package lampd

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/typ.v4/sync2"
)

var (
	// ErrUnknownProperty is returned when setting a property that does
	// not exist.
	ErrUnknownProperty = errors.New("unknown property")
	// ErrNotSettable is returned when setting a read-only property.
	ErrNotSettable = errors.New("property is not settable")
)

// ParseError is returned for payloads that cannot be parsed. The update is
// dropped and the property keeps its previous value.
type ParseError struct {
	Property PropertyID
	Payload  string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid %s payload %q: %v", e.Property, e.Payload, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// PropertyID identifies a lamp property.
type PropertyID string

const (
	PropertyPower      PropertyID = "power"
	PropertyColor      PropertyID = "color"
	PropertyBrightness PropertyID = "brightness"
	PropertyEffect     PropertyID = "effect"
)

// Datatype is the datatype of a property value.
type Datatype string

const (
	DatatypeBoolean Datatype = "boolean"
	DatatypeColor   Datatype = "color"
	DatatypeEnum    Datatype = "enum"
)

// Property describes a lamp property.
type Property struct {
	ID       PropertyID
	Name     string
	Datatype Datatype
	Format   string
	Settable bool
	Default  string

	parse  func(payload string) (Update, error)
	format func(State) string
}

var properties = [...]Property{
	{
		ID:       PropertyPower,
		Name:     "Light power",
		Datatype: DatatypeBoolean,
		Settable: true,
		Default:  strconv.FormatBool(DefaultState.Power),
		parse: func(payload string) (Update, error) {
			switch payload {
			case "true":
				return PowerUpdate{On: true}, nil
			case "false":
				return PowerUpdate{On: false}, nil
			default:
				return nil, errors.New("expected true or false")
			}
		},
		format: func(s State) string { return strconv.FormatBool(s.Power) },
	},
	{
		ID:       PropertyColor,
		Name:     "RGB Color",
		Datatype: DatatypeColor,
		Format:   "rgb",
		Settable: true,
		Default:  DefaultState.BaseColor.String(),
		parse: func(payload string) (Update, error) {
			rgb, err := ParseColor(payload)
			if err != nil {
				return nil, err
			}
			return ColorUpdate{Color: rgb}, nil
		},
		format: func(s State) string { return s.BaseColor.String() },
	},
	{
		ID:       PropertyBrightness,
		Name:     "LED brightness",
		Datatype: DatatypeEnum,
		Format:   brightnessFormat(),
		Settable: true,
		Default:  DefaultState.Brightness.String(),
		parse: func(payload string) (Update, error) {
			n, err := strconv.Atoi(strings.TrimSpace(payload))
			if err != nil {
				return nil, err
			}
			return BrightnessUpdate{Level: ClampBrightness(n)}, nil
		},
		format: func(s State) string { return s.Brightness.String() },
	},
	{
		ID:       PropertyEffect,
		Name:     "Effect",
		Datatype: DatatypeEnum,
		Format:   strings.Join(EffectNames(), ","),
		Settable: true,
		Default:  DefaultState.Effect.String(),
		parse: func(payload string) (Update, error) {
			// Unknown effects fall back to the static color.
			effect, _ := ParseEffect(payload)
			return EffectUpdate{Effect: effect}, nil
		},
		format: func(s State) string { return s.Effect.String() },
	},
}

func brightnessFormat() string {
	levels := make([]string, 0, MaxBrightness-MinBrightness+1)
	for b := MinBrightness; b <= MaxBrightness; b++ {
		levels = append(levels, b.String())
	}
	return strings.Join(levels, ",")
}

// Properties returns all lamp properties.
func Properties() []Property {
	props := make([]Property, len(properties))
	copy(props, properties[:])
	return props
}

// LookupProperty returns the property with the given ID.
func LookupProperty(id PropertyID) (Property, bool) {
	for _, p := range properties {
		if p.ID == id {
			return p, true
		}
	}
	return Property{}, false
}

// ParseUpdate parses a payload for the given property.
func ParseUpdate(id PropertyID, payload string) (Update, error) {
	prop, ok := LookupProperty(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProperty, id)
	}
	if !prop.Settable {
		return nil, fmt.Errorf("%w: %q", ErrNotSettable, id)
	}

	u, err := prop.parse(payload)
	if err != nil {
		return nil, &ParseError{Property: id, Payload: payload, Err: err}
	}
	return u, nil
}

// Applier applies updates. *Controller implements it.
type Applier interface {
	Apply(Update) State
	State() State
}

var _ Applier = (*Controller)(nil)

// PropertyChangeFunc is called with a property and its new value.
type PropertyChangeFunc func(id PropertyID, value string)

// PropertyStore holds the current value of every property and applies
// updates to an Applier one at a time.
type PropertyStore struct {
	applier Applier
	logger  *slog.Logger

	setMu sync.Mutex

	valuesMu sync.RWMutex
	values   map[PropertyID]string

	subscribers sync2.Map[*subscription, struct{}]
}

type subscription struct {
	fn PropertyChangeFunc
}

// NewPropertyStore creates a store whose values reflect the initial state.
func NewPropertyStore(applier Applier, initial State, logger *slog.Logger) *PropertyStore {
	if logger == nil {
		logger = slog.Default()
	}

	s := &PropertyStore{
		applier: applier,
		logger:  logger,
		values:  make(map[PropertyID]string, len(properties)),
	}
	for _, p := range properties {
		s.values[p.ID] = p.format(initial)
	}
	return s
}

// Get returns the current value of a property.
func (s *PropertyStore) Get(id PropertyID) (string, bool) {
	s.valuesMu.RLock()
	defer s.valuesMu.RUnlock()

	v, ok := s.values[id]
	return v, ok
}

// Values returns a copy of all current values.
func (s *PropertyStore) Values() map[PropertyID]string {
	s.valuesMu.RLock()
	defer s.valuesMu.RUnlock()

	values := make(map[PropertyID]string, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	return values
}

// Set parses payload and applies it. Invalid payloads are dropped and
// returned as a *ParseError. The property that was set is always reported
// to subscribers, even when its value did not change, so that transports
// can confirm the update.
func (s *PropertyStore) Set(id PropertyID, payload string) error {
	u, err := ParseUpdate(id, payload)
	if err != nil {
		s.logger.Debug(
			"dropping property update",
			"property", id,
			"payload", payload,
			"error", err)
		return err
	}

	s.setMu.Lock()
	defer s.setMu.Unlock()

	state := s.applier.Apply(u)
	s.sync(state, id)
	return nil
}

// SyncState records a state change that happened outside of Set, such as
// a finished color fade. The state is read back from the applier under the
// same lock as Set, so a Set that raced with the change is never undone.
func (s *PropertyStore) SyncState() {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	s.sync(s.applier.State(), "")
}

func (s *PropertyStore) sync(state State, always PropertyID) {
	type change struct {
		id    PropertyID
		value string
	}

	var changes []change

	s.valuesMu.Lock()
	for _, p := range properties {
		v := p.format(state)
		if s.values[p.ID] != v || p.ID == always {
			s.values[p.ID] = v
			changes = append(changes, change{p.ID, v})
		}
	}
	s.valuesMu.Unlock()

	for _, ch := range changes {
		s.logger.Debug(
			"property changed",
			"property", ch.id,
			"value", ch.value)

		s.subscribers.Range(func(sub *subscription, _ struct{}) bool {
			sub.fn(ch.id, ch.value)
			return true
		})
	}
}

// Subscribe calls fn on every property change until the returned function
// is called. fn must not call Set.
func (s *PropertyStore) Subscribe(fn PropertyChangeFunc) (unsubscribe func()) {
	sub := &subscription{fn: fn}
	s.subscribers.Store(sub, struct{}{})
	return func() { s.subscribers.Delete(sub) }
}
