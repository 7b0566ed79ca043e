package signaling

import (
	"encoding/json"
	"time"
)

// Wire event names. These are the authoritative protocol shared with the relay
// server and every other client implementation; changing one breaks relay
// compatibility.
const (
	EventJoinRoom         = "join-room"
	EventExistingUsers    = "existing-users"
	EventUserConnected    = "user-connected"
	EventSignal           = "signal"
	EventUserDisconnected = "user-disconnected"
	EventToggleAudio      = "toggle-audio"
	EventToggleVideo      = "toggle-video"
	EventSendMessage      = "send-message"
	EventChatHistory      = "chat-history"
	EventNewMessage       = "new-message"
)

// envelope wraps every message on the websocket as {"event": ..., "data": ...}.
// The data member stays raw until the registered handler for the event decodes it.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinRoomPayload is sent client->relay to enter a room. The room id is expected
// to already be case-normalized (uppercase) by the caller.
type JoinRoomPayload struct {
	RoomId        string `json:"roomId"`
	ParticipantId string `json:"participantId"`
	DisplayName   string `json:"displayName"`
}

// MemberInfo describes one current room member in the existing-users snapshot.
type MemberInfo struct {
	PeerId      string `json:"peerId"`
	DisplayName string `json:"displayName"`
}

// UserConnectedPayload announces a newcomer to the peers already in the room,
// carrying the newcomer's first negotiation payload (its offer).
type UserConnectedPayload struct {
	PeerId      string          `json:"peerId"`
	DisplayName string          `json:"displayName"`
	Signal      json.RawMessage `json:"signal"`
}

// SignalPayload carries an opaque negotiation payload between two peers,
// addressed by relay-assigned PeerId. The relay stamps From with the sender's
// PeerId when forwarding, so clients never need to learn their own id.
type SignalPayload struct {
	To     string          `json:"to"`
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

type UserDisconnectedPayload struct {
	PeerId string `json:"peerId"`
}

// TogglePayload is sent client->relay when the local mic or camera is
// muted/unmuted. The relay rebroadcasts it to the rest of the room with the
// sender's PeerId filled in so peers can attribute it.
type TogglePayload struct {
	RoomId  string `json:"roomId"`
	PeerId  string `json:"peerId,omitempty"`
	Enabled bool   `json:"enabled"`
}

type SendMessagePayload struct {
	RoomId      string `json:"roomId"`
	Body        string `json:"body"`
	DisplayName string `json:"displayName"`
}

// ChatMessage is one entry of the room chat log. The log is append-only and
// ordered per client; there is no message id, so receivers identify their own
// echoes by sender name only.
type ChatMessage struct {
	SenderName string    `json:"senderName"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sentAt"`
}
