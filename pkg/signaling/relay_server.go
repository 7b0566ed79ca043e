package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// RelayServer is an in-process implementation of the relay side of the wire
// protocol: room membership bookkeeping, negotiation payload routing and chat
// history replay. A production deployment normally runs an external relay; this
// one exists for offline use (StartLocalRelayServer) and for tests, the same
// way the upstream relay tooling ships an embeddable signaling server.
type RelayServer struct {
	upgrader   websocket.Upgrader
	mu         sync.Mutex
	rooms      map[string]*relayRoom
	members    map[*relayMember]bool // every live socket, joined to a room or not
	httpServer *http.Server
	log        *log.Entry
}

type relayRoom struct {
	id      string
	members []*relayMember // join order, which fixes the existing-users snapshot order
	history []ChatMessage
}

type relayMember struct {
	peerId        string
	participantId string
	displayName   string
	conn          *websocket.Conn
	writeMu       sync.Mutex
	// knows marks the remote PeerIds this member's client has been told about,
	// either via its join snapshot or via a user-connected announcement. The
	// first negotiation payload toward a client that does not yet know the
	// sender is upgraded to a user-connected event carrying that payload.
	knows map[string]bool
	room  *relayRoom
}

func NewRelayServer() *RelayServer {
	return &RelayServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rooms:   make(map[string]*relayRoom),
		members: make(map[*relayMember]bool),
		log:     log.WithField("|", "relay-server"),
	}
}

// Start runs the relay on the given port (non-blocking).
func (s *RelayServer) Start(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	s.httpServer = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("local relay server stopped: ", err)
		}
	}()
	return nil
}

// Stop shuts the relay down and disconnects every member.
func (s *RelayServer) Stop() {
	s.DisconnectAll()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(ctx)
	}
}

// DisconnectAll force-closes every member socket. Clients see a transport
// failure, exactly as if the relay process had died.
func (s *RelayServer) DisconnectAll() {
	s.mu.Lock()
	members := make([]*relayMember, 0, len(s.members))
	for member := range s.members {
		members = append(members, member)
	}
	s.mu.Unlock()

	for _, member := range members {
		_ = member.conn.Close()
	}
}

// ServeHTTP upgrades the connection and runs the per-socket read loop. Each
// socket gets a fresh PeerId; a participant that reconnects is a new peer as
// far as the mesh is concerned.
func (s *RelayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed: ", err)
		return
	}

	member := &relayMember{
		peerId: uuid.NewString(),
		conn:   conn,
		knows:  make(map[string]bool),
	}
	s.mu.Lock()
	s.members[member] = true
	s.mu.Unlock()
	defer s.dropMember(member)

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(msgBytes, &env); err != nil {
			s.log.Warn("dropping malformed frame from ", member.peerId, ": ", err)
			continue
		}
		s.handleEvent(member, env)
	}
}

func (s *RelayServer) handleEvent(member *relayMember, env envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch env.Event {
	case EventJoinRoom:
		var payload JoinRoomPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			s.log.Warn("bad join-room payload: ", err)
			return
		}
		s.joinRoom(member, payload)

	case EventSignal:
		var payload SignalPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			s.log.Warn("bad signal payload: ", err)
			return
		}
		s.routeSignal(member, payload)

	case EventToggleAudio, EventToggleVideo:
		var payload TogglePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			s.log.Warn("bad toggle payload: ", err)
			return
		}
		payload.PeerId = member.peerId
		s.broadcastExcept(member, env.Event, payload)

	case EventSendMessage:
		var payload SendMessagePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			s.log.Warn("bad send-message payload: ", err)
			return
		}
		msg := ChatMessage{
			SenderName: payload.DisplayName,
			Body:       payload.Body,
			SentAt:     time.Now().UTC(),
		}
		if member.room != nil {
			member.room.history = append(member.room.history, msg)
			// broadcast to the room except the sender, which already echoed locally
			s.broadcastExcept(member, EventNewMessage, msg)
		}

	default:
		s.log.Debug("ignoring unsupported event from ", member.peerId, ": ", env.Event)
	}
}

func (s *RelayServer) joinRoom(member *relayMember, payload JoinRoomPayload) {
	// Room codes are case-normalized at the join boundary; the relay enforces it
	// too so mixed-case clients still land in the same room.
	roomId := strings.ToUpper(payload.RoomId)

	room, ok := s.rooms[roomId]
	if !ok {
		room = &relayRoom{id: roomId}
		s.rooms[roomId] = room
	}

	member.participantId = payload.ParticipantId
	member.displayName = payload.DisplayName
	member.room = room

	// snapshot of the members already present, in join order
	snapshot := make([]MemberInfo, 0, len(room.members))
	for _, existing := range room.members {
		snapshot = append(snapshot, MemberInfo{PeerId: existing.peerId, DisplayName: existing.displayName})
		member.knows[existing.peerId] = true
	}
	room.members = append(room.members, member)

	s.sendTo(member, EventExistingUsers, snapshot)
	s.sendTo(member, EventChatHistory, room.history)
}

func (s *RelayServer) routeSignal(member *relayMember, payload SignalPayload) {
	if member.room == nil {
		s.log.Warn("signal from ", member.peerId, " before join-room, dropping")
		return
	}
	// The relay stamps the sender id; clients cannot speak for another peer.
	payload.From = member.peerId

	var target *relayMember
	for _, m := range member.room.members {
		if m.peerId == payload.To {
			target = m
			break
		}
	}
	if target == nil {
		s.log.Warn("signal addressed to unknown peer ", payload.To, ", dropping")
		return
	}

	if !target.knows[member.peerId] {
		// first contact: announce the newcomer along with its offer
		target.knows[member.peerId] = true
		s.sendTo(target, EventUserConnected, UserConnectedPayload{
			PeerId:      member.peerId,
			DisplayName: member.displayName,
			Signal:      payload.Signal,
		})
		return
	}
	s.sendTo(target, EventSignal, payload)
}

func (s *RelayServer) dropMember(member *relayMember) {
	_ = member.conn.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, member)

	room := member.room
	if room == nil {
		return
	}
	for i, m := range room.members {
		if m == member {
			room.members = append(room.members[:i], room.members[i+1:]...)
			break
		}
	}
	for _, m := range room.members {
		delete(m.knows, member.peerId)
		s.sendTo(m, EventUserDisconnected, UserDisconnectedPayload{PeerId: member.peerId})
	}
	if len(room.members) == 0 {
		// chat history lives only as long as the room has members
		delete(s.rooms, room.id)
	}
}

func (s *RelayServer) broadcastExcept(sender *relayMember, event string, payload interface{}) {
	if sender.room == nil {
		return
	}
	for _, m := range sender.room.members {
		if m != sender {
			s.sendTo(m, event, payload)
		}
	}
}

func (s *RelayServer) sendTo(member *relayMember, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("marshal ", event, " payload: ", err)
		return
	}
	member.writeMu.Lock()
	defer member.writeMu.Unlock()
	if err := member.conn.WriteJSON(envelope{Event: event, Data: data}); err != nil {
		s.log.Warn("write ", event, " to ", member.peerId, " failed: ", err)
	}
}
