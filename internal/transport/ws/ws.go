package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeTimeout is the deadline for a single write to a peer.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for traffic (including pongs) before
	// treating the connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often ping frames go out. Must be less than
	// pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxFrameSize bounds inbound frames; commands and readings are tiny.
	maxFrameSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins — callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// peer wraps a websocket connection with a write lock so the data path and
// the ping ticker never interleave frames.
type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newPeer(conn *websocket.Conn) *peer {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &peer{conn: conn}
}

func (p *peer) writeJSON(v any) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteJSON(v)
}

func (p *peer) ping() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteMessage(websocket.PingMessage, nil)
}

// pingLoop keeps the connection alive until done is closed or a ping fails.
func (p *peer) pingLoop(done <-chan struct{}) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := p.ping(); err != nil {
				return
			}
		}
	}
}

func (p *peer) writeClose(code int) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(code, "")
	return p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
}

func (p *peer) close() error { return p.conn.Close() }
