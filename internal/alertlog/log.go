package alertlog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is one alert as read back from the bus.
type Entry struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	Message    string    `json:"message"`
	Timestamp  string    `json:"timestamp"`
	Fanout     int       `json:"fanout"`
	ReceivedAt time.Time `json:"received_at"`
}

// Log is a bounded in-memory ring of recent alerts, newest first. It backs
// the /api/alerts endpoint and the UI stream; it is not persistence.
type Log struct {
	mu      sync.Mutex
	cap     int
	entries []Entry

	subMu sync.Mutex
	watch map[int64]chan struct{}
	subID atomic.Int64
}

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = 200
	}
	return &Log{cap: capacity, watch: map[int64]chan struct{}{}}
}

func (l *Log) Append(e Entry) {
	l.mu.Lock()
	l.entries = append([]Entry{e}, l.entries...)
	if len(l.entries) > l.cap {
		l.entries = l.entries[:l.cap]
	}
	l.mu.Unlock()

	l.notify()
}

// List returns a copy of the ring, newest first.
func (l *Log) List() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Watch emits a signal (coalesced) when an entry is appended.
func (l *Log) Watch(ctx context.Context) <-chan struct{} {
	id := l.subID.Add(1)
	ch := make(chan struct{}, 1)

	l.subMu.Lock()
	l.watch[id] = ch
	l.subMu.Unlock()

	go func() {
		<-ctx.Done()
		l.subMu.Lock()
		delete(l.watch, id)
		close(ch)
		l.subMu.Unlock()
	}()

	return ch
}

func (l *Log) notify() {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for _, ch := range l.watch {
		select {
		case ch <- struct{}{}:
		default:
			// drop (coalesce)
		}
	}
}
