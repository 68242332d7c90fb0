package policy

import (
	"telemetry-hub/internal/telemetry"
)

// Kind selects the evaluation rule of a Policy. The set is closed; Evaluate
// dispatches with a switch rather than an interface hierarchy.
type Kind int

const (
	// ThresholdAbove fires when a numeric value is strictly greater than
	// Threshold. Equal values do not fire.
	ThresholdAbove Kind = iota
	// StateMismatch fires when a boolean value differs from the configured
	// normal (at-rest) state.
	StateMismatch
)

// Policy decides whether a single reading warrants an alert. Policies are
// built once at startup (or on a settings update) and never mutated, so
// concurrent Evaluate calls need no synchronization.
type Policy struct {
	Kind      Kind
	Threshold float64
	Normal    bool
}

// Evaluate reports whether v should generate an alert. A value whose type
// does not match the rule (bool against a threshold, number against a state
// rule) never fires.
func (p Policy) Evaluate(v telemetry.Value) bool {
	switch p.Kind {
	case ThresholdAbove:
		return v.Kind == telemetry.ValueNumber && v.Num > p.Threshold
	case StateMismatch:
		return v.Kind == telemetry.ValueBool && v.Flag != p.Normal
	}
	return false
}

// Config carries the per-device-type tunables for building a Registry.
type Config struct {
	TemperatureThreshold float64
	WattageThreshold     float64
	MotionNormal         bool
}

// Defaults match the reference deployment: thermometers alert above 100,
// smart plugs above 450 W, motion sensors when motion is observed.
func Defaults() Config {
	return Config{
		TemperatureThreshold: 100,
		WattageThreshold:     450,
		MotionNormal:         false,
	}
}

// Registry is a fixed device-type → policy mapping. Construction is the only
// write; lookups are unsynchronized reads.
type Registry struct {
	byType map[telemetry.DeviceType]Policy
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{byType: map[telemetry.DeviceType]Policy{
		telemetry.Thermometer:  {Kind: ThresholdAbove, Threshold: cfg.TemperatureThreshold},
		telemetry.SmartPlug:    {Kind: ThresholdAbove, Threshold: cfg.WattageThreshold},
		telemetry.MotionSensor: {Kind: StateMismatch, Normal: cfg.MotionNormal},
	}}
}

// Resolve returns the policy for a device type. ok is false for unknown
// types; callers treat that as "never alert", not an error.
func (r *Registry) Resolve(t telemetry.DeviceType) (Policy, bool) {
	p, ok := r.byType[t]
	return p, ok
}
