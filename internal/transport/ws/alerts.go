package ws

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"telemetry-hub/internal/core/registry"
	"telemetry-hub/internal/session"
)

// alertRequest is one inbound frame on the alert stream.
type alertRequest struct {
	Action   string `json:"action"`
	ClientID string `json:"client_id"`
	DeviceID string `json:"device_id"`
}

// alertResponse is one outbound frame: an ack or an alert, tagged by type.
type alertResponse struct {
	Type string `json:"type"`

	// ack fields
	Message string `json:"message,omitempty"`
	Success *bool  `json:"success,omitempty"`

	// alert fields
	DeviceID  string `json:"device_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// AlertHandler serves the full-duplex alert subscription stream by running a
// session.Handler over each upgraded connection.
type AlertHandler struct {
	sessions *session.Handler
	log      *zap.Logger

	active atomic.Int64
}

func NewAlertHandler(sessions *session.Handler, log *zap.Logger) *AlertHandler {
	return &AlertHandler{sessions: sessions, log: log}
}

// Active returns the number of open alert sessions.
func (h *AlertHandler) Active() int64 { return h.active.Load() }

func (h *AlertHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := newPeer(conn)
	defer p.close()

	h.active.Add(1)
	defer h.active.Add(-1)

	done := make(chan struct{})
	defer close(done)
	go p.pingLoop(done)

	sessionID := uuid.NewString()
	h.log.Debug("alert stream opened",
		zap.String("session_id", sessionID),
		zap.String("remote", conn.RemoteAddr().String()),
	)

	h.sessions.Run(r.Context(), sessionID, &sessionConn{peer: p})
}

// sessionConn adapts a websocket peer to session.Conn.
type sessionConn struct {
	peer *peer
}

func (c *sessionConn) ReadCommand() (session.Command, error) {
	_, frame, err := c.peer.conn.ReadMessage()
	if err != nil {
		return session.Command{}, err
	}
	_ = c.peer.conn.SetReadDeadline(time.Now().Add(pongWait))

	var req alertRequest
	if err := json.Unmarshal(frame, &req); err != nil {
		// Deliver a marked command the session rejects with a failure ack;
		// a garbled frame must not end the session.
		return session.Command{Malformed: true}, nil
	}
	return session.Command{
		Action:   req.Action,
		ClientID: req.ClientID,
		DeviceID: req.DeviceID,
	}, nil
}

func (c *sessionConn) WriteMessage(m registry.Message) error {
	var resp alertResponse
	switch {
	case m.Ack != nil:
		success := m.Ack.Success
		resp = alertResponse{Type: "ack", Message: m.Ack.Message, Success: &success}
	case m.Notification != nil:
		resp = alertResponse{
			Type:      "alert",
			DeviceID:  m.Notification.DeviceID,
			Message:   m.Notification.Message,
			Timestamp: m.Notification.Timestamp,
		}
	default:
		return nil
	}
	return c.peer.writeJSON(resp)
}

func (c *sessionConn) Close() error { return c.peer.close() }
