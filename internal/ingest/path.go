package ingest

import (
	"sync/atomic"

	"go.uber.org/zap"

	"telemetry-hub/internal/dispatch"
	"telemetry-hub/internal/policy"
	"telemetry-hub/internal/telemetry"
)

// Path evaluates readings from device connections against the alert
// policies and hands triggering ones to the dispatcher. One Path instance
// serves all device connections; it keeps no per-connection state, so
// connections stay independent of each other.
type Path struct {
	policies *policy.Source
	disp     *dispatch.Dispatcher
	log      *zap.Logger

	readings atomic.Int64
	alerts   atomic.Int64
}

func New(policies *policy.Source, disp *dispatch.Dispatcher, log *zap.Logger) *Path {
	return &Path{policies: policies, disp: disp, log: log}
}

// HandleReading processes one reading in arrival order. A reading with an
// unknown device type or a malformed payload is never alertable; neither is
// an error to the connection.
func (p *Path) HandleReading(r telemetry.Reading) {
	p.readings.Add(1)

	v, ok := r.Value()
	if !ok {
		p.log.Warn("reading without a single payload",
			zap.String("device_id", r.DeviceID),
			zap.String("device_type", r.DeviceType),
		)
		return
	}

	p.log.Debug("reading received",
		zap.String("device_id", r.DeviceID),
		zap.String("device_type", r.DeviceType),
		zap.String("timestamp", r.Timestamp),
		zap.String("value", v.String()),
	)

	p.disp.PublishTelemetry(r.DeviceID, r.DeviceType, v.String(), r.Timestamp)

	t, ok := telemetry.ParseDeviceType(r.DeviceType)
	if !ok {
		return
	}
	pol, ok := p.policies.Current().Resolve(t)
	if !ok {
		return
	}
	if !pol.Evaluate(v) {
		return
	}

	p.alerts.Add(1)
	p.disp.Dispatch(r.DeviceID, "Alert! Value = "+v.String(), r.Timestamp)
}

// Counters for the status surface.
func (p *Path) Readings() int64 { return p.readings.Load() }
func (p *Path) Alerts() int64   { return p.alerts.Load() }
