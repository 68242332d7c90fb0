package natsjs

import (
	"context"
	"testing"
	"time"

	"telemetry-hub/internal/bus/embeddednats"
	"telemetry-hub/internal/events"
)

func startBus(t *testing.T) *Client {
	t.Helper()
	srv, err := embeddednats.Start(embeddednats.Config{
		Host:     "127.0.0.1",
		Port:     14231,
		HTTPPort: 18231,
		StoreDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	c, err := Connect(Config{URL: srv.ClientURL(), Prefix: "hubtest", Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if err := c.EnsureStreams(); err != nil {
		t.Fatalf("ensure streams: %v", err)
	}
	return c
}

func TestPublishFetchRoundTrip(t *testing.T) {
	c := startBus(t)
	ctx := context.Background()

	schema, err := events.LoadSchema()
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	env := schema.NewEnvelope(events.AlertRaised)
	env.SetFieldByName("device_id", "plug_2")
	b, err := events.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if err := c.Publish(ctx, events.AlertRaised, b); err != nil {
		t.Fatalf("publish: %v", err)
	}

	consumer, err := c.NewPullConsumer("hub-alerts", events.DomainAlert+".*", 64)
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	msgs, err := consumer.Fetch(ctx, 10, 2*time.Second)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("fetched %d messages, want 1", len(msgs))
	}

	got, err := events.UnmarshalEnvelope(schema, msgs[0].Data())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if subj, _ := got.TryGetFieldByName("subject"); subj != events.AlertRaised {
		t.Errorf("subject: got %v", subj)
	}
	if dev, _ := got.TryGetFieldByName("device_id"); dev != "plug_2" {
		t.Errorf("device_id: got %v", dev)
	}
	if err := msgs[0].Ack(); err != nil {
		t.Errorf("ack: %v", err)
	}
}

func TestFetchEmptyTimesOut(t *testing.T) {
	c := startBus(t)

	consumer, err := c.NewPullConsumer("hub-alerts", events.DomainAlert+".*", 64)
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}

	start := time.Now()
	msgs, err := consumer.Fetch(context.Background(), 10, 300*time.Millisecond)
	if err == nil {
		t.Fatalf("empty fetch must error, got %d messages", len(msgs))
	}
	if time.Since(start) > 2*time.Second {
		t.Error("empty fetch did not respect the wait bound")
	}
}
