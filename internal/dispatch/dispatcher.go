package dispatch

import (
	"context"
	"sync"

	"github.com/jhump/protoreflect/dynamic"
	"go.uber.org/zap"

	"telemetry-hub/internal/bus"
	"telemetry-hub/internal/core/registry"
	"telemetry-hub/internal/events"
)

// Dispatcher fans a triggering reading out to every subscribed client's
// delivery channel and mirrors the alert onto the event bus. It never blocks
// on a recipient: an absent or saturated channel is skipped.
type Dispatcher struct {
	reg    *registry.Store
	schema *events.Schema
	log    *zap.Logger

	pubMu sync.RWMutex
	pub   bus.Publisher
}

func New(reg *registry.Store, schema *events.Schema, log *zap.Logger) *Dispatcher {
	return &Dispatcher{reg: reg, schema: schema, log: log}
}

// SetPublisher installs (or clears, with nil) the bus publisher. The bus is
// optional at runtime; dispatch to clients works the same without it.
func (d *Dispatcher) SetPublisher(p bus.Publisher) {
	d.pubMu.Lock()
	d.pub = p
	d.pubMu.Unlock()
}

// Dispatch delivers one Notification per currently subscribed client.
// At-most-once per client per call; no retry, no persistence.
func (d *Dispatcher) Dispatch(deviceID, message, timestamp string) {
	subs := d.reg.SubscribersOf(deviceID)

	delivered := 0
	for _, clientID := range subs {
		ok := d.reg.Enqueue(clientID, registry.Message{Notification: &registry.Notification{
			DeviceID:  deviceID,
			Message:   message,
			Timestamp: timestamp,
		}})
		if !ok {
			d.log.Warn("alert delivery skipped",
				zap.String("client_id", clientID),
				zap.String("device_id", deviceID),
			)
			continue
		}
		delivered++
	}

	d.log.Debug("alert dispatched",
		zap.String("device_id", deviceID),
		zap.Int("subscribers", len(subs)),
		zap.Int("delivered", delivered),
	)

	d.publishRaised(deviceID, message, timestamp, len(subs))
}

// PublishTelemetry mirrors one ingested reading onto the bus. Best-effort:
// a down bus never affects the ingest path.
func (d *Dispatcher) PublishTelemetry(deviceID, deviceType, value, timestamp string) {
	d.pubMu.RLock()
	pub := d.pub
	d.pubMu.RUnlock()
	if pub == nil || d.schema == nil {
		return
	}

	env := d.schema.NewEnvelope(events.TelemetryReceived)
	env.SetFieldByName("device_id", deviceID)
	tr := dynamic.NewMessage(d.schema.TelemetryReceived)
	tr.SetFieldByName("device_id", deviceID)
	tr.SetFieldByName("device_type", deviceType)
	tr.SetFieldByName("value", value)
	tr.SetFieldByName("timestamp", timestamp)
	env.SetFieldByName("telemetry_received", tr)

	b, err := events.Marshal(env)
	if err != nil {
		d.log.Warn("telemetry envelope marshal", zap.Error(err))
		return
	}
	if err := pub.Publish(context.Background(), events.TelemetryReceived, b); err != nil {
		d.log.Debug("telemetry bus publish", zap.Error(err))
	}
}

func (d *Dispatcher) publishRaised(deviceID, message, timestamp string, fanout int) {
	d.pubMu.RLock()
	pub := d.pub
	d.pubMu.RUnlock()
	if pub == nil || d.schema == nil {
		return
	}

	env := d.schema.NewEnvelope(events.AlertRaised)
	env.SetFieldByName("device_id", deviceID)
	ar := dynamic.NewMessage(d.schema.AlertRaised)
	ar.SetFieldByName("device_id", deviceID)
	ar.SetFieldByName("message", message)
	ar.SetFieldByName("timestamp", timestamp)
	ar.SetFieldByName("fanout", int32(fanout))
	env.SetFieldByName("alert_raised", ar)

	b, err := events.Marshal(env)
	if err != nil {
		d.log.Warn("alert envelope marshal", zap.Error(err))
		return
	}
	if err := pub.Publish(context.Background(), events.AlertRaised, b); err != nil {
		d.log.Debug("alert bus publish", zap.Error(err))
	}
}
