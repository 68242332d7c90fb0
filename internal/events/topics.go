package events

// Subject naming: <prefix>.<domain>.<name>
// Prefix is configured per deployment (e.g. "hub").

const (
	DomainTelemetry = "telemetry"
	DomainAlert     = "alert"
)

const (
	TelemetryReceived = DomainTelemetry + ".received"

	AlertRaised = DomainAlert + ".raised"
)
