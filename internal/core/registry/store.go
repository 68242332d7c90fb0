package registry

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// Ack confirms a subscribe/unsubscribe command back to the client.
type Ack struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// Notification is one alert delivered to a subscribed client.
type Notification struct {
	DeviceID  string `json:"device_id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Message is the delivery-channel element: exactly one of Ack or
// Notification is set.
type Message struct {
	Ack          *Ack
	Notification *Notification
}

// Store is the subscription registry: which devices each client watches and
// each connected client's delivery channel. One mutex serializes every read
// and write so dispatch never observes a half-applied subscribe, and a
// Detach can never close a channel while an Enqueue is sending on it.
type Store struct {
	mu       sync.Mutex
	subs     map[string]map[string]struct{} // client_id -> device_id set
	channels map[string]chan Message        // client_id -> delivery channel
	depth    int

	subMu sync.Mutex
	watch map[int64]chan struct{}
	subID atomic.Int64
}

func NewStore(depth int) *Store {
	if depth <= 0 {
		depth = 64
	}
	return &Store{
		subs:     map[string]map[string]struct{}{},
		channels: map[string]chan Message{},
		depth:    depth,
		watch:    map[int64]chan struct{}{},
	}
}

// Subscribe adds deviceID to clientID's watch set. Idempotent. Creates the
// client's delivery channel if this is its first subscription command.
func (s *Store) Subscribe(clientID, deviceID string) {
	s.mu.Lock()
	set := s.subs[clientID]
	if set == nil {
		set = map[string]struct{}{}
		s.subs[clientID] = set
	}
	set[deviceID] = struct{}{}
	s.ensureChannelLocked(clientID)
	s.mu.Unlock()

	s.notify()
}

// Unsubscribe removes deviceID from clientID's watch set. Removing an absent
// entry is a no-op. The delivery channel stays: an empty set is a valid
// state and the client may resubscribe on the same session.
func (s *Store) Unsubscribe(clientID, deviceID string) {
	s.mu.Lock()
	if set := s.subs[clientID]; set != nil {
		delete(set, deviceID)
	}
	s.ensureChannelLocked(clientID)
	s.mu.Unlock()

	s.notify()
}

// SubscribeAck adds the subscription and enqueues the ack under one lock
// hold. A dispatch that observes the new subscription therefore cannot place
// its notification ahead of the ack on the delivery channel. Returns false
// when the ack did not fit.
func (s *Store) SubscribeAck(clientID, deviceID string, ack Message) bool {
	s.mu.Lock()
	set := s.subs[clientID]
	if set == nil {
		set = map[string]struct{}{}
		s.subs[clientID] = set
	}
	set[deviceID] = struct{}{}
	ch := s.ensureChannelLocked(clientID)
	ok := enqueueLocked(ch, ack)
	s.mu.Unlock()

	s.notify()
	return ok
}

// UnsubscribeAck removes the subscription and enqueues the ack under one lock
// hold, mirroring SubscribeAck.
func (s *Store) UnsubscribeAck(clientID, deviceID string, ack Message) bool {
	s.mu.Lock()
	if set := s.subs[clientID]; set != nil {
		delete(set, deviceID)
	}
	ch := s.ensureChannelLocked(clientID)
	ok := enqueueLocked(ch, ack)
	s.mu.Unlock()

	s.notify()
	return ok
}

// SubscribersOf returns every client currently watching deviceID, snapshotted
// under the registry lock.
func (s *Store) SubscribersOf(deviceID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for clientID, set := range s.subs {
		if _, ok := set[deviceID]; ok {
			out = append(out, clientID)
		}
	}
	return out
}

// ChannelOf returns clientID's delivery channel, if a session holds one.
func (s *Store) ChannelOf(clientID string) (<-chan Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[clientID]
	return ch, ok
}

// Attach binds a session to clientID and returns its delivery channel,
// creating it if absent.
func (s *Store) Attach(clientID string) <-chan Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureChannelLocked(clientID)
}

// Detach discards clientID's delivery channel at session end. Subscription
// entries are kept so the client resumes them on reconnect; with no channel
// present, dispatch simply skips it.
func (s *Store) Detach(clientID string) {
	s.mu.Lock()
	if ch, ok := s.channels[clientID]; ok {
		delete(s.channels, clientID)
		close(ch)
	}
	s.mu.Unlock()

	s.notify()
}

// Enqueue places m on clientID's delivery channel without blocking. Returns
// false when the client has no channel (session torn down) or the channel is
// full; either way the caller moves on.
func (s *Store) Enqueue(clientID string, m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[clientID]
	if !ok {
		return false
	}
	return enqueueLocked(ch, m)
}

func enqueueLocked(ch chan Message, m Message) bool {
	select {
	case ch <- m:
		return true
	default:
		return false
	}
}

// Snapshot returns every client's watch set, device ids sorted.
func (s *Store) Snapshot() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]string, len(s.subs))
	for clientID, set := range s.subs {
		devices := make([]string, 0, len(set))
		for d := range set {
			devices = append(devices, d)
		}
		sort.Strings(devices)
		out[clientID] = devices
	}
	return out
}

// Attached returns the clients currently holding a delivery channel, sorted.
func (s *Store) Attached() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.channels))
	for clientID := range s.channels {
		out = append(out, clientID)
	}
	sort.Strings(out)
	return out
}

// Watch emits a signal (coalesced) when registry state changes.
func (s *Store) Watch(ctx context.Context) <-chan struct{} {
	id := s.subID.Add(1)
	ch := make(chan struct{}, 1)

	s.subMu.Lock()
	s.watch[id] = ch
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.watch, id)
		close(ch)
		s.subMu.Unlock()
	}()

	return ch
}

func (s *Store) ensureChannelLocked(clientID string) chan Message {
	ch, ok := s.channels[clientID]
	if !ok {
		ch = make(chan Message, s.depth)
		s.channels[clientID] = ch
	}
	return ch
}

func (s *Store) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.watch {
		select {
		case ch <- struct{}{}:
		default:
			// drop (coalesce)
		}
	}
}
