package ws

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"telemetry-hub/internal/ingest"
	"telemetry-hub/internal/telemetry"
)

// deviceResponse is the terminal frame of a device stream.
type deviceResponse struct {
	Status string `json:"status"`
}

// DeviceHandler serves the device ingestion stream: a client-to-server
// sequence of readings answered by one terminal status frame. Each
// connection runs its own ingest loop; connections are independent.
type DeviceHandler struct {
	path *ingest.Path
	log  *zap.Logger

	active atomic.Int64
}

func NewDeviceHandler(path *ingest.Path, log *zap.Logger) *DeviceHandler {
	return &DeviceHandler{path: path, log: log}
}

// Active returns the number of device connections currently streaming.
func (h *DeviceHandler) Active() int64 { return h.active.Load() }

func (h *DeviceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}
	p := newPeer(conn)
	defer p.close()

	// The peer ends the stream with a close frame. Suppress the automatic
	// close echo so the terminal status frame goes out before our close.
	conn.SetCloseHandler(func(int, string) error { return nil })

	h.active.Add(1)
	defer h.active.Add(-1)

	done := make(chan struct{})
	defer close(done)
	go p.pingLoop(done)

	remote := conn.RemoteAddr().String()
	h.log.Debug("device stream opened", zap.String("remote", remote))

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			// End of stream. On a clean close the terminal status goes out
			// before our own close frame; on an abrupt disconnect the write
			// fails and that is fine.
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				_ = p.writeJSON(deviceResponse{Status: "Success"})
				_ = p.writeClose(websocket.CloseNormalClosure)
			}
			h.log.Debug("device stream ended", zap.String("remote", remote), zap.Error(err))
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var reading telemetry.Reading
		if err := json.Unmarshal(frame, &reading); err != nil {
			// Malformed frame: skip it, keep the stream alive.
			h.log.Warn("unparsable device frame", zap.String("remote", remote), zap.Error(err))
			continue
		}
		h.path.HandleReading(reading)
	}
}
