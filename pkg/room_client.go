package meshcall

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	webrtc "github.com/pion/webrtc/v3"
	log "github.com/sirupsen/logrus"

	"github.com/kw-m/meshcall/pkg/config"
	"github.com/kw-m/meshcall/pkg/media"
	"github.com/kw-m/meshcall/pkg/signaling"
	"github.com/kw-m/meshcall/pkg/util"
)

// Identity is the self-chosen half of a participant's identity: the
// ParticipantId generated at client startup and the display name. The
// relay-assigned PeerId is deliberately absent; a client never learns its own.
type Identity struct {
	ParticipantId string
	DisplayName   string
}

// NewIdentity makes a fresh identity for this client instance.
func NewIdentity(displayName string) Identity {
	return Identity{ParticipantId: uuid.NewString(), DisplayName: displayName}
}

// RoomClient is the top-level handle for one participant in one room: it ties
// the signaling channel, the peer mesh, the local media controller and the chat
// relay together and owns their shared lifecycle. Join/Leave bracket
// everything; between them the delegating operations are safe to call from any
// goroutine.
type RoomClient struct {
	// Log: the logrus logger used by all room client components
	Log *log.Entry

	config   config.MeshcallConfig
	identity Identity

	mu         sync.Mutex
	joined     bool
	closed     bool
	roomId     string
	channel    *signaling.Channel
	mesh       *MeshManager
	chat       *ChatRelay
	localRelay *signaling.RelayServer

	mediaCtrl   *media.Controller
	eventStream *util.EventSub[RoomEvent]

	onRemoteTrack     func(peerId string, track *webrtc.TrackRemote)
	onPeerListChanged func(peers []PeerInfo)
	onChatUpdated     func(messages []signaling.ChatMessage)
}

func NewRoomClient(configOptions config.MeshcallConfig, identity Identity, provider media.Provider) *RoomClient {

	// Set up the logrus logger
	var lo *log.Entry = log.WithField("|", "meshcall")
	level, err := config.StringToLogLevel(configOptions.LogLevel)
	if err != nil {
		lo.Warn(err)
	}
	lo.Logger.SetLevel(level)
	lo.Logger.SetFormatter(&log.TextFormatter{
		DisableColors:    true,
		DisableTimestamp: true,
		DisableQuote:     true,
	})

	return &RoomClient{
		Log:         lo,
		config:      configOptions,
		identity:    identity,
		mediaCtrl:   media.NewController(provider),
		eventStream: util.NewEventSub[RoomEvent](16),
	}
}

// Join enters a room: acquire mic and camera first, then connect signaling,
// then announce the join. Media failure aborts before any signaling happens.
// Joining while already joined is rejected, and a client that has Left is
// finished for good (its event stream is closed); make a new one to rejoin.
func (rc *RoomClient) Join(roomId string) error {
	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return ErrClientClosed
	}
	if rc.joined {
		rc.mu.Unlock()
		rc.Log.Warn("already joined a room, ignoring join")
		return nil
	}
	rc.joined = true
	rc.mu.Unlock()

	roomId = strings.ToUpper(roomId)

	if err := rc.mediaCtrl.Acquire(); err != nil {
		rc.setJoined(false)
		return err
	}

	serverURL := rc.config.SignalingServerURL
	var localRelay *signaling.RelayServer
	if rc.config.StartLocalRelayServer {
		localRelay = signaling.NewRelayServer()
		if err := localRelay.Start(rc.config.LocalRelayPort); err != nil {
			rc.mediaCtrl.StopAll()
			rc.setJoined(false)
			return err
		}
		serverURL = fmt.Sprintf("ws://localhost:%d/ws", rc.config.LocalRelayPort)
	}

	channel, err := signaling.Connect(serverURL)
	if err != nil {
		if localRelay != nil {
			localRelay.Stop()
		}
		rc.mediaCtrl.StopAll()
		rc.setJoined(false)
		return err
	}

	mesh := newMeshManager(
		rc.config.WebrtcConfig,
		time.Duration(rc.config.NegotiationTimeoutSec)*time.Second,
		rc.mediaCtrl,
		func(toPeerId string, sig PeerSignal) {
			raw, err := sig.marshal()
			if err != nil {
				rc.Log.Error("marshal signal for ", toPeerId, ": ", err)
				return
			}
			if err := channel.SendTo(toPeerId, raw); err != nil {
				rc.Log.Error("send signal to ", toPeerId, ": ", err)
			}
		},
		rc.eventStream,
	)
	mesh.OnRemoteTrack(func(peerId string, track *webrtc.TrackRemote) {
		if rc.onRemoteTrack != nil {
			rc.onRemoteTrack(peerId, track)
		}
	})
	mesh.OnPeerListChanged(func(peers []PeerInfo) {
		if rc.onPeerListChanged != nil {
			rc.onPeerListChanged(peers)
		}
	})

	chat := newChatRelay(roomId, rc.identity.DisplayName, channel)
	chat.OnUpdated(func(messages []signaling.ChatMessage) {
		if rc.onChatUpdated != nil {
			rc.onChatUpdated(messages)
		}
	})

	rc.mediaCtrl.SetTrackReplacer(mesh)
	rc.mediaCtrl.OnToggle(func(kind string, enabled bool) {
		event := signaling.EventToggleAudio
		if kind == "video" {
			event = signaling.EventToggleVideo
		}
		if err := channel.Send(event, signaling.TogglePayload{RoomId: roomId, Enabled: enabled}); err != nil {
			rc.Log.Error("announce ", kind, " toggle: ", err)
		}
	})

	rc.registerEventHandlers(channel, mesh, chat)
	channel.OnTransportError(func(err error) {
		rc.Log.Error("signaling transport lost: ", err)
		rc.eventStream.Push(&RoomEvent{Type: RoomEventTransportError, Err: err})
		rc.Leave()
	})

	rc.mu.Lock()
	rc.roomId = roomId
	rc.channel = channel
	rc.mesh = mesh
	rc.chat = chat
	rc.localRelay = localRelay
	rc.mu.Unlock()

	go channel.Listen()

	if err := channel.Join(roomId, rc.identity.ParticipantId, rc.identity.DisplayName); err != nil {
		rc.Leave()
		return err
	}
	rc.Log.Info("joined room ", roomId)
	return nil
}

func (rc *RoomClient) registerEventHandlers(channel *signaling.Channel, mesh *MeshManager, chat *ChatRelay) {
	channel.OnEvent(signaling.EventExistingUsers, func(data json.RawMessage) {
		var members []signaling.MemberInfo
		if err := json.Unmarshal(data, &members); err != nil {
			rc.Log.Error("bad existing-users payload: ", err)
			return
		}
		mesh.HandleExistingUsers(members)
	})
	channel.OnEvent(signaling.EventUserConnected, func(data json.RawMessage) {
		var payload signaling.UserConnectedPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			rc.Log.Error("bad user-connected payload: ", err)
			return
		}
		mesh.HandleUserConnected(payload)
	})
	channel.OnEvent(signaling.EventSignal, func(data json.RawMessage) {
		var payload signaling.SignalPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			rc.Log.Error("bad signal payload: ", err)
			return
		}
		mesh.HandleSignal(payload)
	})
	channel.OnEvent(signaling.EventUserDisconnected, func(data json.RawMessage) {
		var payload signaling.UserDisconnectedPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			rc.Log.Error("bad user-disconnected payload: ", err)
			return
		}
		mesh.HandleUserDisconnected(payload.PeerId)
	})
	channel.OnEvent(signaling.EventToggleAudio, func(data json.RawMessage) {
		var payload signaling.TogglePayload
		if err := json.Unmarshal(data, &payload); err != nil {
			rc.Log.Error("bad toggle-audio payload: ", err)
			return
		}
		mesh.HandleRemoteToggle(payload.PeerId, "audio", payload.Enabled)
	})
	channel.OnEvent(signaling.EventToggleVideo, func(data json.RawMessage) {
		var payload signaling.TogglePayload
		if err := json.Unmarshal(data, &payload); err != nil {
			rc.Log.Error("bad toggle-video payload: ", err)
			return
		}
		mesh.HandleRemoteToggle(payload.PeerId, "video", payload.Enabled)
	})
	channel.OnEvent(signaling.EventChatHistory, func(data json.RawMessage) {
		var history []signaling.ChatMessage
		if err := json.Unmarshal(data, &history); err != nil {
			rc.Log.Error("bad chat-history payload: ", err)
			return
		}
		chat.HandleHistory(history)
	})
	channel.OnEvent(signaling.EventNewMessage, func(data json.RawMessage) {
		var msg signaling.ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			rc.Log.Error("bad new-message payload: ", err)
			return
		}
		chat.HandleBroadcast(msg)
	})
}

// Leave tears the whole session down: every peer session, every capture track,
// the signaling connection, the local relay (if one was started) and the event
// stream, whose subscribers see their channels close. Safe to call more than
// once; also runs on transport failure.
func (rc *RoomClient) Leave() {
	rc.mu.Lock()
	if !rc.joined {
		rc.mu.Unlock()
		return
	}
	rc.joined = false
	rc.closed = true
	roomId := rc.roomId
	channel := rc.channel
	mesh := rc.mesh
	localRelay := rc.localRelay
	rc.roomId = ""
	rc.channel = nil
	rc.mesh = nil
	rc.chat = nil
	rc.localRelay = nil
	rc.mu.Unlock()

	if mesh != nil {
		mesh.CloseAll()
	}
	rc.mediaCtrl.StopAll()
	if channel != nil {
		channel.Close()
	}
	if localRelay != nil {
		localRelay.Stop()
	}
	rc.eventStream.Close()
	rc.Log.Info("left room ", roomId)
}

// ToggleAudio flips the local mic mute flag and announces it to the room.
func (rc *RoomClient) ToggleAudio() bool {
	return rc.mediaCtrl.ToggleAudio()
}

// ToggleVideo flips the local camera mute flag and announces it to the room.
func (rc *RoomClient) ToggleVideo() bool {
	return rc.mediaCtrl.ToggleVideo()
}

// StartScreenShare swaps the outbound video to screen capture on every peer
// connection, without renegotiating.
func (rc *RoomClient) StartScreenShare() error {
	return rc.mediaCtrl.StartScreenShare()
}

// StopScreenShare reverts the outbound video to the camera.
func (rc *RoomClient) StopScreenShare() error {
	return rc.mediaCtrl.StopScreenShare()
}

// SwitchVideoSource toggles the outbound video between camera and screen.
func (rc *RoomClient) SwitchVideoSource() error {
	return rc.mediaCtrl.SwitchVideoSource()
}

// SendChatMessage broadcasts a text message to the room (echoed into the local
// chat log immediately).
func (rc *RoomClient) SendChatMessage(body string) error {
	rc.mu.Lock()
	chat := rc.chat
	rc.mu.Unlock()
	if chat == nil {
		return ErrNotInRoom
	}
	return chat.SendMessage(body)
}

// Peers returns the current mesh snapshot, ordered by PeerId.
func (rc *RoomClient) Peers() []PeerInfo {
	rc.mu.Lock()
	mesh := rc.mesh
	rc.mu.Unlock()
	if mesh == nil {
		return nil
	}
	return mesh.Peers()
}

// ConnectedPeerCount reports how many peer sessions are fully connected. In a
// settled room of n participants this is n-1.
func (rc *RoomClient) ConnectedPeerCount() int {
	rc.mu.Lock()
	mesh := rc.mesh
	rc.mu.Unlock()
	if mesh == nil {
		return 0
	}
	return mesh.ConnectedCount()
}

// ChatMessages returns the current chat log in arrival order.
func (rc *RoomClient) ChatMessages() []signaling.ChatMessage {
	rc.mu.Lock()
	chat := rc.chat
	rc.mu.Unlock()
	if chat == nil {
		return nil
	}
	return chat.Messages()
}

// MediaState returns the local media control snapshot.
func (rc *RoomClient) MediaState() media.State {
	return rc.mediaCtrl.State()
}

// RoomId returns the joined room's code ("" when not joined).
func (rc *RoomClient) RoomId() string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.roomId
}

// GetEventStream exposes the room event stream (peer connects/disconnects,
// stalled negotiations, transport failures). Subscribe before Join to see
// everything.
func (rc *RoomClient) GetEventStream() *util.EventSub[RoomEvent] {
	return rc.eventStream
}

func (rc *RoomClient) OnRemoteTrack(handler func(peerId string, track *webrtc.TrackRemote)) {
	rc.onRemoteTrack = handler
}

func (rc *RoomClient) OnPeerListChanged(handler func(peers []PeerInfo)) {
	rc.onPeerListChanged = handler
}

func (rc *RoomClient) OnChatUpdated(handler func(messages []signaling.ChatMessage)) {
	rc.onChatUpdated = handler
}

// OnLocalMediaError registers a handler for capture failures that happen off
// any caller's stack (e.g. the camera cannot be re-acquired after a screen
// share ends on its own).
func (rc *RoomClient) OnLocalMediaError(handler func(err error)) {
	rc.mediaCtrl.OnError(handler)
}

func (rc *RoomClient) setJoined(joined bool) {
	rc.mu.Lock()
	rc.joined = joined
	rc.mu.Unlock()
}
