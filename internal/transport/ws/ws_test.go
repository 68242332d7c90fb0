package ws_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"telemetry-hub/internal/core/registry"
	"telemetry-hub/internal/dispatch"
	"telemetry-hub/internal/ingest"
	"telemetry-hub/internal/policy"
	"telemetry-hub/internal/session"
	"telemetry-hub/internal/transport/ws"
)

// alertFrame mirrors the alert stream wire format from the client side.
type alertFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Success   *bool  `json:"success"`
	DeviceID  string `json:"device_id"`
	Timestamp string `json:"timestamp"`
}

type statusFrame struct {
	Status string `json:"status"`
}

func newHub(t *testing.T) (*registry.Store, *httptest.Server) {
	t.Helper()
	log := zap.NewNop()
	reg := registry.NewStore(16)
	d := dispatch.New(reg, nil, log)
	path := ingest.New(policy.NewSource(policy.NewRegistry(policy.Defaults())), d, log)
	sessions := session.New(reg, log)

	mux := http.NewServeMux()
	mux.Handle("/ws/device", ws.NewDeviceHandler(path, log))
	mux.Handle("/ws/alerts", ws.NewAlertHandler(sessions, log))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return reg, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readAlertFrame(t *testing.T, conn *websocket.Conn) alertFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f alertFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func subscribe(t *testing.T, conn *websocket.Conn, clientID, deviceID string) {
	t.Helper()
	err := conn.WriteJSON(map[string]string{
		"action": "subscribe", "client_id": clientID, "device_id": deviceID,
	})
	if err != nil {
		t.Fatalf("subscribe write: %v", err)
	}
	f := readAlertFrame(t, conn)
	if f.Type != "ack" || f.Success == nil || !*f.Success {
		t.Fatalf("subscribe ack: %+v", f)
	}
	if f.Message != "Subscribed to "+deviceID {
		t.Errorf("ack message: %q", f.Message)
	}
}

func TestAlertDeliveredEndToEnd(t *testing.T) {
	_, srv := newHub(t)

	alerts := dial(t, srv, "/ws/alerts")
	subscribe(t, alerts, "c1", "plug_2")

	device := dial(t, srv, "/ws/device")
	err := device.WriteJSON(map[string]any{
		"device_id":   "plug_2",
		"device_type": "SMART_PLUG",
		"timestamp":   "2026-01-02T03:04:05Z",
		"wattage":     500,
	})
	if err != nil {
		t.Fatalf("device write: %v", err)
	}

	f := readAlertFrame(t, alerts)
	if f.Type != "alert" || f.DeviceID != "plug_2" {
		t.Fatalf("alert frame: %+v", f)
	}
	if f.Message != "Alert! Value = 500" || f.Timestamp != "2026-01-02T03:04:05Z" {
		t.Errorf("alert frame: %+v", f)
	}
}

func TestReadingBelowThresholdStaysQuiet(t *testing.T) {
	_, srv := newHub(t)

	alerts := dial(t, srv, "/ws/alerts")
	subscribe(t, alerts, "c1", "plug_2")

	device := dial(t, srv, "/ws/device")
	if err := device.WriteJSON(map[string]any{
		"device_id":   "plug_2",
		"device_type": "SMART_PLUG",
		"timestamp":   "ts",
		"wattage":     10,
	}); err != nil {
		t.Fatalf("device write: %v", err)
	}

	_ = alerts.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var f alertFrame
	if err := alerts.ReadJSON(&f); err == nil {
		t.Errorf("unexpected frame for in-range reading: %+v", f)
	}
}

func TestDeviceCloseGetsTerminalStatus(t *testing.T) {
	_, srv := newHub(t)

	device := dial(t, srv, "/ws/device")
	if err := device.WriteJSON(map[string]any{
		"device_id":   "therm_1",
		"device_type": "THERMOMETER",
		"timestamp":   "ts",
		"temperature": 42,
	}); err != nil {
		t.Fatalf("device write: %v", err)
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := device.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("close control: %v", err)
	}

	_ = device.SetReadDeadline(time.Now().Add(2 * time.Second))
	var status statusFrame
	if err := device.ReadJSON(&status); err != nil {
		t.Fatalf("terminal status: %v", err)
	}
	if status.Status != "Success" {
		t.Errorf("terminal status: %q", status.Status)
	}
}

func TestMalformedFramesKeepStreamsAlive(t *testing.T) {
	_, srv := newHub(t)

	alerts := dial(t, srv, "/ws/alerts")
	if err := alerts.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := readAlertFrame(t, alerts)
	if f.Type != "ack" || f.Success == nil || *f.Success {
		t.Fatalf("garbled command must yield a failure ack, got %+v", f)
	}
	if f.Message != "malformed command" {
		t.Errorf("failure ack must name the decode problem, got %q", f.Message)
	}
	// The session is still usable.
	subscribe(t, alerts, "c1", "d1")

	device := dial(t, srv, "/ws/device")
	if err := device.WriteMessage(websocket.TextMessage, []byte("{broken")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := device.WriteJSON(map[string]any{
		"device_id":   "d1",
		"device_type": "THERMOMETER",
		"timestamp":   "ts",
		"temperature": 300,
	}); err != nil {
		t.Fatalf("write after garbage: %v", err)
	}

	f = readAlertFrame(t, alerts)
	if f.Type != "alert" || f.DeviceID != "d1" {
		t.Errorf("reading after garbled frame must still ingest, got %+v", f)
	}
}

func TestDisconnectKeepsSubscriptions(t *testing.T) {
	reg, srv := newHub(t)

	alerts := dial(t, srv, "/ws/alerts")
	subscribe(t, alerts, "c1", "d1")
	alerts.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := reg.ChannelOf("c1"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("delivery channel not released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if subs := reg.SubscribersOf("d1"); len(subs) != 1 || subs[0] != "c1" {
		t.Errorf("subscriptions must survive disconnect: %v", subs)
	}
}
