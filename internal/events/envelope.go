package events

import (
	"github.com/google/uuid"
)

// NewID mints an envelope id.
func NewID() string { return uuid.NewString() }

// Subject joins the deployment prefix with a topic, e.g. "hub.alert.raised".
func Subject(prefix, topic string) string {
	if prefix == "" {
		return topic
	}
	return prefix + "." + topic
}
