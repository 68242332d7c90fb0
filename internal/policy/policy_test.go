package policy

import (
	"testing"

	"telemetry-hub/internal/telemetry"
)

func TestThresholdAbove_StrictlyGreater(t *testing.T) {
	p := Policy{Kind: ThresholdAbove, Threshold: 100}

	if p.Evaluate(telemetry.Number(100)) {
		t.Error("value equal to threshold must not fire")
	}
	if !p.Evaluate(telemetry.Number(100.1)) {
		t.Error("value above threshold must fire")
	}
	if p.Evaluate(telemetry.Number(99.9)) {
		t.Error("value below threshold must not fire")
	}
}

func TestThresholdAbove_IgnoresBoolValues(t *testing.T) {
	p := Policy{Kind: ThresholdAbove, Threshold: 0}
	if p.Evaluate(telemetry.Bool(true)) {
		t.Error("bool value against a threshold rule must not fire")
	}
}

func TestStateMismatch(t *testing.T) {
	tests := []struct {
		name   string
		normal bool
		value  bool
		want   bool
	}{
		{"motion while at rest", false, true, true},
		{"no motion while at rest", false, false, false},
		{"no motion while expected", true, false, true},
		{"motion while expected", true, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Policy{Kind: StateMismatch, Normal: tt.normal}
			if got := p.Evaluate(telemetry.Bool(tt.value)); got != tt.want {
				t.Errorf("Evaluate(%v) with normal=%v: got %v, want %v", tt.value, tt.normal, got, tt.want)
			}
		})
	}
}

func TestStateMismatch_IgnoresNumberValues(t *testing.T) {
	p := Policy{Kind: StateMismatch, Normal: false}
	if p.Evaluate(telemetry.Number(1)) {
		t.Error("number value against a state rule must not fire")
	}
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry(Defaults())

	p, ok := r.Resolve(telemetry.Thermometer)
	if !ok {
		t.Fatal("thermometer policy missing")
	}
	if p.Kind != ThresholdAbove || p.Threshold != 100 {
		t.Errorf("thermometer policy: got %+v", p)
	}

	p, ok = r.Resolve(telemetry.SmartPlug)
	if !ok || p.Threshold != 450 {
		t.Errorf("smart plug policy: got %+v ok=%v", p, ok)
	}

	p, ok = r.Resolve(telemetry.MotionSensor)
	if !ok || p.Kind != StateMismatch || p.Normal != false {
		t.Errorf("motion policy: got %+v ok=%v", p, ok)
	}

	if _, ok := r.Resolve(telemetry.DeviceType("FRIDGE")); ok {
		t.Error("unknown device type must not resolve")
	}
}
