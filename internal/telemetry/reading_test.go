package telemetry

import (
	"encoding/json"
	"testing"
)

func TestReading_Value(t *testing.T) {
	temp := 72.5
	motion := true

	v, ok := Reading{Temperature: &temp}.Value()
	if !ok || v.Kind != ValueNumber || v.Num != 72.5 {
		t.Errorf("temperature payload: got %+v ok=%v", v, ok)
	}

	v, ok = Reading{Motion: &motion}.Value()
	if !ok || v.Kind != ValueBool || !v.Flag {
		t.Errorf("motion payload: got %+v ok=%v", v, ok)
	}

	if _, ok := (Reading{}).Value(); ok {
		t.Error("reading without payload must not extract")
	}
	if _, ok := (Reading{Temperature: &temp, Motion: &motion}).Value(); ok {
		t.Error("reading with two payloads must not extract")
	}
}

func TestValue_String(t *testing.T) {
	if got := Number(300).String(); got != "300" {
		t.Errorf("Number(300): got %q", got)
	}
	if got := Number(100.1).String(); got != "100.1" {
		t.Errorf("Number(100.1): got %q", got)
	}
	if got := Bool(true).String(); got != "true" {
		t.Errorf("Bool(true): got %q", got)
	}
}

func TestParseDeviceType(t *testing.T) {
	for _, s := range []string{"THERMOMETER", "SMART_PLUG", "MOTION_SENSOR"} {
		if _, ok := ParseDeviceType(s); !ok {
			t.Errorf("ParseDeviceType(%q): not recognized", s)
		}
	}
	if _, ok := ParseDeviceType("TOASTER"); ok {
		t.Error("unknown type must not parse")
	}
}

func TestReading_WireDecode(t *testing.T) {
	frame := `{"device_id":"plug_2","device_type":"SMART_PLUG","timestamp":"2026-01-02T03:04:05Z","wattage":300}`
	var r Reading
	if err := json.Unmarshal([]byte(frame), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.DeviceID != "plug_2" || r.Wattage == nil || *r.Wattage != 300 {
		t.Errorf("decoded reading: %+v", r)
	}
	if r.Temperature != nil || r.Motion != nil {
		t.Error("absent payload fields must stay nil")
	}
}
