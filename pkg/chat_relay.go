package meshcall

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/kw-m/meshcall/pkg/signaling"
)

// chatSender is the slice of the signaling channel the chat relay needs.
type chatSender interface {
	Send(event string, payload interface{}) error
}

// ChatRelay keeps the local view of the room's text chat: the history snapshot
// received on join plus every message appended since, in arrival order. Own
// messages are echoed into the log immediately on send; the relay does not loop
// them back, and any broadcast matching the local display name is suppressed to
// keep the echo from doubling.
type ChatRelay struct {
	mu       sync.Mutex
	messages []signaling.ChatMessage

	roomId      string
	displayName string
	sender      chatSender
	onUpdated   func(messages []signaling.ChatMessage)

	log *log.Entry
}

func newChatRelay(roomId string, displayName string, sender chatSender) *ChatRelay {
	return &ChatRelay{
		messages:    make([]signaling.ChatMessage, 0),
		roomId:      roomId,
		displayName: displayName,
		sender:      sender,
		log:         log.WithField("|", "chat"),
	}
}

func (c *ChatRelay) OnUpdated(handler func(messages []signaling.ChatMessage)) {
	c.onUpdated = handler
}

// SendMessage appends the message to the local log immediately (optimistic
// echo) and broadcasts it through the relay. The send error is returned but the
// local echo is kept either way; the caller decides whether to surface it.
func (c *ChatRelay) SendMessage(body string) error {
	c.append(signaling.ChatMessage{SenderName: c.displayName, Body: body})
	return c.sender.Send(signaling.EventSendMessage, signaling.SendMessagePayload{
		RoomId:      c.roomId,
		Body:        body,
		DisplayName: c.displayName,
	})
}

// HandleBroadcast appends a message relayed from another participant. A message
// carrying the local display name is assumed to be our own echo and dropped.
func (c *ChatRelay) HandleBroadcast(msg signaling.ChatMessage) {
	if msg.SenderName == c.displayName {
		c.log.Debug("suppressing echoed own message")
		return
	}
	c.append(msg)
}

// HandleHistory replaces the local log wholesale with the snapshot delivered on
// join. Messages sent before joining are not merged in.
func (c *ChatRelay) HandleHistory(history []signaling.ChatMessage) {
	c.mu.Lock()
	c.messages = append([]signaling.ChatMessage(nil), history...)
	c.mu.Unlock()
	c.notify()
}

// Messages returns a copy of the current chat log in arrival order.
func (c *ChatRelay) Messages() []signaling.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]signaling.ChatMessage(nil), c.messages...)
}

func (c *ChatRelay) append(msg signaling.ChatMessage) {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	c.notify()
}

func (c *ChatRelay) notify() {
	if c.onUpdated != nil {
		c.onUpdated(c.Messages())
	}
}
