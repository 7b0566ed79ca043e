package meshcall

import (
	"sort"
	"sync"
	"time"

	webrtc "github.com/pion/webrtc/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"

	"github.com/kw-m/meshcall/pkg/media"
	"github.com/kw-m/meshcall/pkg/signaling"
	"github.com/kw-m/meshcall/pkg/util"
)

// MeshManager owns the full-mesh collection of PeerSessions for the active
// room, keyed by relay-assigned PeerId. It is the only component that creates,
// looks up or destroys sessions; everything else goes through its operations.
//
// Role assignment is derived locally and deterministically: every member listed
// in the existing-users snapshot gets an initiator session (we offer), and a
// peer first seen through a user-connected announcement gets a responder
// session (we answer its offer). No role is ever negotiated over the wire.
type MeshManager struct {
	mu       sync.Mutex
	sessions map[string]*PeerSession

	webrtcConfig       webrtc.Configuration
	negotiationTimeout time.Duration
	mediaCtrl          *media.Controller

	sendSignal        func(toPeerId string, sig PeerSignal)
	onRemoteTrack     func(peerId string, track *webrtc.TrackRemote)
	onPeerListChanged func(peers []PeerInfo)
	eventStream       *util.EventSub[RoomEvent]

	log *log.Entry
}

func newMeshManager(
	webrtcConfig webrtc.Configuration,
	negotiationTimeout time.Duration,
	mediaCtrl *media.Controller,
	sendSignal func(toPeerId string, sig PeerSignal),
	eventStream *util.EventSub[RoomEvent],
) *MeshManager {
	return &MeshManager{
		sessions:           make(map[string]*PeerSession),
		webrtcConfig:       webrtcConfig,
		negotiationTimeout: negotiationTimeout,
		mediaCtrl:          mediaCtrl,
		sendSignal:         sendSignal,
		eventStream:        eventStream,
		log:                log.WithField("|", "mesh"),
	}
}

func (m *MeshManager) OnRemoteTrack(handler func(peerId string, track *webrtc.TrackRemote)) {
	m.onRemoteTrack = handler
}

func (m *MeshManager) OnPeerListChanged(handler func(peers []PeerInfo)) {
	m.onPeerListChanged = handler
}

// HandleExistingUsers reacts to the room snapshot sent on join: one initiator
// session per listed member, each producing a single offer.
func (m *MeshManager) HandleExistingUsers(members []signaling.MemberInfo) {
	for _, member := range members {
		session := m.createSession(member.PeerId, member.DisplayName, ROLE_INITIATOR)
		if session == nil {
			continue
		}
		go session.startOffer()
	}
	m.notifyPeerListChanged()
}

// HandleUserConnected reacts to a newcomer announcement carrying its offer: one
// responder session that applies the offer and answers.
func (m *MeshManager) HandleUserConnected(payload signaling.UserConnectedPayload) {
	session := m.createSession(payload.PeerId, payload.DisplayName, ROLE_RESPONDER)
	if session == nil {
		return
	}
	m.notifyPeerListChanged()

	sig, err := parsePeerSignal(payload.Signal)
	if err != nil {
		m.log.Error("bad offer from newcomer ", payload.PeerId, ": ", err)
		return
	}
	// answering blocks on candidate gathering, keep it off the dispatch goroutine
	go func() {
		if err := session.handleSignal(sig); err != nil {
			m.log.Error("answering offer from ", payload.PeerId, ": ", err)
		}
	}()
}

// HandleSignal routes an addressed negotiation payload to the session it
// belongs to. A payload for an unknown PeerId is an anomaly (signal raced ahead
// of the membership event); it is logged and dropped, never buffered.
func (m *MeshManager) HandleSignal(payload signaling.SignalPayload) {
	m.mu.Lock()
	session, ok := m.sessions[payload.From]
	m.mu.Unlock()
	if !ok {
		m.log.Warnf("dropping signal from unknown peer %s: %v", payload.From, ErrOrphanSignal)
		m.eventStream.Push(&RoomEvent{Type: RoomEventOrphanSignal, PeerId: payload.From, Err: ErrOrphanSignal})
		return
	}

	sig, err := parsePeerSignal(payload.Signal)
	if err != nil {
		m.log.Error("bad signal from ", payload.From, ": ", err)
		return
	}
	// answers and late candidates apply in place; they never block
	if err := session.handleSignal(sig); err != nil {
		m.log.Error("applying signal from ", payload.From, ": ", err)
	}
}

// HandleUserDisconnected destroys exactly the session for the departed peer.
// The rest of the mesh is never renegotiated; it just shrinks by one.
func (m *MeshManager) HandleUserDisconnected(peerId string) {
	m.destroySession(peerId)
}

// HandleRemoteToggle records a peer's announced mute state so the upward peer
// list reflects it.
func (m *MeshManager) HandleRemoteToggle(peerId string, kind string, enabled bool) {
	m.mu.Lock()
	session, ok := m.sessions[peerId]
	m.mu.Unlock()
	if !ok {
		return
	}
	session.setRemoteToggle(kind, enabled)
	m.notifyPeerListChanged()
}

// createSession makes the one session allowed per remote PeerId. A duplicate
// create is ignored with a warning (the existing session stays authoritative).
func (m *MeshManager) createSession(peerId string, displayName string, role PeerRole) *PeerSession {
	m.mu.Lock()
	if _, exists := m.sessions[peerId]; exists {
		m.mu.Unlock()
		m.log.Warn("session already exists for peer ", peerId, ", ignoring duplicate create")
		return nil
	}
	m.mu.Unlock()

	session, err := newPeerSession(
		m.webrtcConfig,
		peerId,
		displayName,
		role,
		m.negotiationTimeout,
		m.sendSignal,
		m.handleSessionStateChange,
		m.handleRemoteTrack,
		m.handleSessionStalled,
	)
	if err != nil {
		m.log.Error("creating peer session for ", peerId, ": ", err)
		return nil
	}

	audio, video, source := m.mediaCtrl.Tracks()
	if err := session.attachLocalTracks(audio, video, source); err != nil {
		m.log.Error("attaching local tracks for ", peerId, ": ", err)
		session.Close()
		return nil
	}

	m.mu.Lock()
	if _, exists := m.sessions[peerId]; exists {
		// lost a create race while the session was being built
		m.mu.Unlock()
		m.log.Warn("session appeared concurrently for peer ", peerId, ", discarding duplicate")
		session.Close()
		return nil
	}
	m.sessions[peerId] = session
	m.mu.Unlock()

	m.log.Infof("created %s session for peer %s (%s)", role, peerId, displayName)
	return session
}

func (m *MeshManager) destroySession(peerId string) {
	m.mu.Lock()
	session, ok := m.sessions[peerId]
	if ok {
		delete(m.sessions, peerId)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	info := session.Info()
	session.Close()
	m.log.Info("destroyed session for peer ", peerId)
	m.eventStream.Push(&RoomEvent{Type: RoomEventPeerDisconnected, PeerId: peerId, DisplayName: info.DisplayName})
	m.notifyPeerListChanged()
}

func (m *MeshManager) handleSessionStateChange(ps *PeerSession, state string) {
	switch state {
	case PEER_STATE_CONNECTED:
		m.eventStream.Push(&RoomEvent{Type: RoomEventPeerConnected, PeerId: ps.peerId, DisplayName: ps.displayName})
		m.notifyPeerListChanged()
	case PEER_STATE_CLOSED:
		// transport-level failure or close; drop the session if we still own it
		m.destroySession(ps.peerId)
	}
}

func (m *MeshManager) handleRemoteTrack(peerId string, track *webrtc.TrackRemote) {
	if m.onRemoteTrack != nil {
		m.onRemoteTrack(peerId, track)
	}
}

func (m *MeshManager) handleSessionStalled(ps *PeerSession) {
	m.eventStream.Push(&RoomEvent{Type: RoomEventNegotiationStalled, PeerId: ps.peerId, DisplayName: ps.displayName, Err: ErrNegotiationStalled})
}

// ReplaceVideoTrack pushes the new outbound video track to every live session
// in place. Implements the media controller's TrackReplacer; a source switch is
// complete only once every session has been updated.
func (m *MeshManager) ReplaceVideoTrack(track webrtc.TrackLocal, source media.VideoSource) {
	m.mu.Lock()
	sessions := maps.Values(m.sessions)
	m.mu.Unlock()

	for _, session := range sessions {
		if session.State() == PEER_STATE_CLOSED {
			continue
		}
		if err := session.replaceVideoTrack(track, source); err != nil {
			m.log.Error("replacing video track for ", session.peerId, ": ", err)
		}
	}
}

// Peers returns the upward-facing snapshot of the mesh, ordered by PeerId.
func (m *MeshManager) Peers() []PeerInfo {
	m.mu.Lock()
	sessions := maps.Values(m.sessions)
	m.mu.Unlock()

	peers := make([]PeerInfo, 0, len(sessions))
	for _, session := range sessions {
		peers = append(peers, session.Info())
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].PeerId < peers[j].PeerId })
	return peers
}

// ConnectedCount reports how many sessions have reached the connected state.
func (m *MeshManager) ConnectedCount() int {
	count := 0
	for _, peer := range m.Peers() {
		if peer.State == PEER_STATE_CONNECTED {
			count++
		}
	}
	return count
}

// CloseAll tears down every session (local leave). All media resources tied to
// the sessions are released.
func (m *MeshManager) CloseAll() {
	m.mu.Lock()
	sessions := maps.Values(m.sessions)
	m.sessions = make(map[string]*PeerSession)
	m.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	if len(sessions) > 0 {
		m.notifyPeerListChanged()
	}
}

func (m *MeshManager) notifyPeerListChanged() {
	if m.onPeerListChanged != nil {
		m.onPeerListChanged(m.Peers())
	}
}
