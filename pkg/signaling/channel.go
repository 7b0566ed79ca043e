package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/kw-m/meshcall/pkg/util"
)

// ErrSignalingTransport is returned/reported when the relay server connection
// cannot be established or dies mid-session. There is no automatic reconnect:
// a channel that failed is unusable and the whole call session must be torn down.
var ErrSignalingTransport = errors.New("signaling transport failed")

// Channel is the persistent bidirectional connection to the relay server. It
// carries room membership events, opaque negotiation payloads and chat events.
//
// All inbound events are decoded and dispatched from a single goroutine (the one
// running Listen), one event at a time in the order the relay delivered them.
// That single-threaded dispatch is what lets the mesh state machine run without
// per-event locking against other signaling events.
type Channel struct {
	conn        *websocket.Conn
	writeMu     sync.Mutex
	handlersMu  sync.RWMutex
	handlers    map[string]func(json.RawMessage)
	onTransport func(error)
	closeSignal *util.UnblockSignal
	log         *log.Entry
}

// Connect dials the relay server. On failure the session must not proceed to a
// room join.
func Connect(serverURL string) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.Dial(serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrSignalingTransport, serverURL, err)
	}
	return &Channel{
		conn:        conn,
		handlers:    make(map[string]func(json.RawMessage)),
		closeSignal: util.NewUnblockSignal(),
		log:         log.WithField("|", "signaling"),
	}, nil
}

// OnEvent registers the handler for an inbound named event. Register all
// handlers before calling Listen; events without a handler are dropped with a
// debug log. Handlers run on the Listen goroutine and must not block forever.
func (c *Channel) OnEvent(event string, handler func(data json.RawMessage)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[event] = handler
}

// OnTransportError registers the callback invoked (once) when the connection
// dies for any reason other than a local Close().
func (c *Channel) OnTransportError(handler func(err error)) {
	c.onTransport = handler
}

// Send emits a named event with the given payload, addressed to the room (or to
// a specific peer when the payload carries a "to" PeerId).
func (c *Channel) Send(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(envelope{Event: event, Data: data}); err != nil {
		return fmt.Errorf("%w: send %s: %v", ErrSignalingTransport, event, err)
	}
	return nil
}

// SendTo emits a negotiation payload addressed to one peer. The relay fills in
// the sender id on the way through.
func (c *Channel) SendTo(toPeerId string, signal json.RawMessage) error {
	return c.Send(EventSignal, SignalPayload{To: toPeerId, Signal: signal})
}

// Join emits the join intent for a room. The relay answers with the
// existing-users snapshot followed by the chat-history replay.
func (c *Channel) Join(roomId string, participantId string, displayName string) error {
	return c.Send(EventJoinRoom, JoinRoomPayload{
		RoomId:        roomId,
		ParticipantId: participantId,
		DisplayName:   displayName,
	})
}

// Listen runs the read/dispatch loop until the channel is closed locally or the
// transport fails. Should be called as a goroutine (blocking).
func (c *Channel) Listen() {
	for {
		_, msgBytes, err := c.conn.ReadMessage()
		if err != nil {
			if c.closeSignal.HasTriggered() {
				return // local Close(), not a transport failure
			}
			c.log.Error("signaling read loop ended: ", err)
			c.closeSignal.TriggerWithError(err)
			if c.onTransport != nil {
				c.onTransport(fmt.Errorf("%w: %v", ErrSignalingTransport, err))
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(msgBytes, &env); err != nil {
			c.log.Warn("dropping malformed signaling frame: ", err)
			continue
		}

		c.handlersMu.RLock()
		handler, ok := c.handlers[env.Event]
		c.handlersMu.RUnlock()
		if !ok {
			c.log.Debug("no handler for signaling event: ", env.Event)
			continue
		}
		handler(env.Data)
	}
}

// Close shuts the connection down cleanly. Safe to call more than once.
func (c *Channel) Close() {
	c.closeSignal.Trigger()
	_ = c.conn.Close()
}

// Closed reports whether the channel has been closed or has failed.
func (c *Channel) Closed() bool {
	return c.closeSignal.HasTriggered()
}
