package telemetry

import "strconv"

// DeviceType identifies the kind of device a reading came from. The wire
// values match the ingest stream's device_type field.
type DeviceType string

const (
	Thermometer  DeviceType = "THERMOMETER"
	SmartPlug    DeviceType = "SMART_PLUG"
	MotionSensor DeviceType = "MOTION_SENSOR"
)

// ParseDeviceType maps a wire string to a known device type.
func ParseDeviceType(s string) (DeviceType, bool) {
	switch DeviceType(s) {
	case Thermometer, SmartPlug, MotionSensor:
		return DeviceType(s), true
	}
	return "", false
}

// Reading is one telemetry sample from a device connection. Exactly one of
// the payload fields is set on a well-formed reading.
type Reading struct {
	DeviceID   string `json:"device_id"`
	DeviceType string `json:"device_type"`
	Timestamp  string `json:"timestamp"` // RFC3339 UTC, produced by the device

	Temperature *float64 `json:"temperature,omitempty"`
	Wattage     *float64 `json:"wattage,omitempty"`
	Motion      *bool    `json:"motion,omitempty"`
}

type ValueKind int

const (
	ValueNumber ValueKind = iota
	ValueBool
)

// Value is the typed payload extracted from a reading.
type Value struct {
	Kind ValueKind
	Num  float64
	Flag bool
}

func Number(v float64) Value { return Value{Kind: ValueNumber, Num: v} }
func Bool(v bool) Value      { return Value{Kind: ValueBool, Flag: v} }

func (v Value) String() string {
	if v.Kind == ValueBool {
		return strconv.FormatBool(v.Flag)
	}
	return strconv.FormatFloat(v.Num, 'g', -1, 64)
}

// Value extracts the payload. ok is false when the reading carries zero or
// more than one payload field.
func (r Reading) Value() (Value, bool) {
	n := 0
	var v Value
	if r.Temperature != nil {
		n++
		v = Number(*r.Temperature)
	}
	if r.Wattage != nil {
		n++
		v = Number(*r.Wattage)
	}
	if r.Motion != nil {
		n++
		v = Bool(*r.Motion)
	}
	if n != 1 {
		return Value{}, false
	}
	return v, true
}
