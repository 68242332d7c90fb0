package session

import (
	"context"

	"go.uber.org/zap"

	"telemetry-hub/internal/core/registry"
)

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Command is one decoded request from the alert stream. Validation happens
// here, not in the transport: an unrecognized action still arrives as a
// Command so the session can reject it with a failure ack.
type Command struct {
	Action   string
	ClientID string
	DeviceID string

	// Malformed marks a frame the transport could not decode. The session
	// rejects it with a failure ack naming the decode problem, regardless of
	// its binding state.
	Malformed bool
}

// Conn is the session's view of one alert-stream connection.
// ReadCommand blocks until the next command or a transport error; Close
// unblocks a pending ReadCommand, which is how cancellation propagates from
// the outbound loop to the inbound one.
type Conn interface {
	ReadCommand() (Command, error)
	WriteMessage(registry.Message) error
	Close() error
}

// Handler runs one client session: an inbound loop applying commands to the
// registry and an outbound loop draining the client's delivery channel.
// Either loop ending tears the whole session down.
type Handler struct {
	reg *registry.Store
	log *zap.Logger
}

func New(reg *registry.Store, log *zap.Logger) *Handler {
	return &Handler{reg: reg, log: log}
}

// Run blocks until the session is over. The session binds to the client_id
// of the first command carrying one; the delivery channel is created at that
// point and discarded on return. Registry subscription entries survive the
// session.
func (h *Handler) Run(ctx context.Context, sessionID string, conn Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Done-signal: whoever cancels the session also unblocks ReadCommand.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	var (
		clientID string
		bound    bool
		outDone  chan struct{}
	)
	log := h.log.With(zap.String("session_id", sessionID))

	defer func() {
		cancel()
		if bound {
			h.reg.Detach(clientID)
			<-outDone
		}
		log.Info("session closed", zap.String("client_id", clientID))
	}()

	for {
		cmd, err := conn.ReadCommand()
		if err != nil {
			// Transport-level disconnect; not an application error.
			log.Debug("alert stream read ended", zap.Error(err))
			return
		}

		if !bound {
			if cmd.Malformed {
				_ = conn.WriteMessage(ackMessage("malformed command", false))
				continue
			}
			if cmd.ClientID == "" {
				// No identity yet, so no channel to queue the ack on.
				_ = conn.WriteMessage(ackMessage("client_id required", false))
				continue
			}
			clientID = cmd.ClientID
			ch := h.reg.Attach(clientID)
			outDone = make(chan struct{})
			bound = true
			log.Info("session bound", zap.String("client_id", clientID))
			go h.outbound(ctx, cancel, conn, ch, outDone, log)
		}

		h.apply(clientID, cmd, log)
	}
}

// apply mutates the registry for one command and queues the ack on the
// session's delivery channel. Subscribe and unsubscribe go through the
// registry's combined mutate-and-ack operations so the ack is on the channel
// before any alert a concurrent dispatch raises against the new state.
func (h *Handler) apply(clientID string, cmd Command, log *zap.Logger) {
	var ok bool
	switch {
	case cmd.Malformed:
		ok = h.reg.Enqueue(clientID, ackMessage("malformed command", false))
	case cmd.ClientID != clientID:
		ok = h.reg.Enqueue(clientID, ackMessage("session is bound to "+clientID, false))
	case cmd.DeviceID == "":
		ok = h.reg.Enqueue(clientID, ackMessage("device_id required", false))
	case cmd.Action == ActionSubscribe:
		ok = h.reg.SubscribeAck(clientID, cmd.DeviceID, ackMessage("Subscribed to "+cmd.DeviceID, true))
	case cmd.Action == ActionUnsubscribe:
		ok = h.reg.UnsubscribeAck(clientID, cmd.DeviceID, ackMessage("Unsubscribed from "+cmd.DeviceID, true))
	default:
		ok = h.reg.Enqueue(clientID, ackMessage("unknown action: "+cmd.Action, false))
	}

	if !ok {
		log.Warn("ack dropped, delivery channel unavailable",
			zap.String("client_id", clientID),
			zap.String("action", cmd.Action),
		)
	}
}

func (h *Handler) outbound(ctx context.Context, cancel context.CancelFunc, conn Conn, ch <-chan registry.Message, done chan struct{}, log *zap.Logger) {
	defer close(done)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				// Channel closed by Detach: session teardown.
				return
			}
			if err := conn.WriteMessage(m); err != nil {
				log.Debug("alert stream write ended", zap.Error(err))
				return
			}
		}
	}
}

func ackMessage(text string, success bool) registry.Message {
	return registry.Message{Ack: &registry.Ack{Message: text, Success: success}}
}
