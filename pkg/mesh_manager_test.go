package meshcall

import (
	"encoding/json"
	"testing"
	"time"

	webrtc "github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kw-m/meshcall/pkg/media"
	"github.com/kw-m/meshcall/pkg/signaling"
	"github.com/kw-m/meshcall/pkg/util"
)

type sentSignal struct {
	to  string
	sig PeerSignal
}

type meshHarness struct {
	mesh    *MeshManager
	signals chan sentSignal
	events  <-chan *RoomEvent
}

func newMeshHarness(t *testing.T) *meshHarness {
	ctrl := media.NewController(&fakeProvider{t: t})
	require.NoError(t, ctrl.Acquire())
	t.Cleanup(ctrl.StopAll)

	signals := make(chan sentSignal, 16)
	eventStream := util.NewEventSub[RoomEvent](16)
	mesh := newMeshManager(
		webrtc.Configuration{},
		0,
		ctrl,
		func(toPeerId string, sig PeerSignal) {
			signals <- sentSignal{to: toPeerId, sig: sig}
		},
		eventStream,
	)
	t.Cleanup(mesh.CloseAll)
	return &meshHarness{mesh: mesh, signals: signals, events: eventStream.Subscribe()}
}

func (h *meshHarness) waitSignal(t *testing.T) sentSignal {
	select {
	case s := <-h.signals:
		return s
	case <-time.After(10 * time.Second):
		t.Fatal("no signal emitted")
		return sentSignal{}
	}
}

func (h *meshHarness) waitEvent(t *testing.T, eventType RoomEventType) *RoomEvent {
	deadline := time.After(10 * time.Second)
	for {
		select {
		case event := <-h.events:
			if event.Type == eventType {
				return event
			}
		case <-deadline:
			t.Fatal("no ", eventType, " event")
			return nil
		}
	}
}

func TestSnapshotMembersGetInitiatorOffers(t *testing.T) {
	h := newMeshHarness(t)

	h.mesh.HandleExistingUsers([]signaling.MemberInfo{
		{PeerId: "p1", DisplayName: "Ann"},
		{PeerId: "p2", DisplayName: "Ben"},
	})

	offered := map[string]bool{}
	for i := 0; i < 2; i++ {
		s := h.waitSignal(t)
		assert.Equal(t, "offer", s.sig.Type)
		assert.NotEmpty(t, s.sig.SDP)
		offered[s.to] = true
	}
	assert.True(t, offered["p1"] && offered["p2"], "one offer per snapshot member")

	peers := h.mesh.Peers()
	require.Len(t, peers, 2)
	for _, peer := range peers {
		assert.Equal(t, ROLE_INITIATOR, peer.Role)
		assert.Equal(t, PEER_STATE_NEGOTIATING, peer.State)
		assert.True(t, peer.AudioEnabled)
		assert.True(t, peer.VideoEnabled)
	}
}

func TestAnnouncedNewcomerGetsResponderAnswer(t *testing.T) {
	h := newMeshHarness(t)

	h.mesh.HandleUserConnected(signaling.UserConnectedPayload{
		PeerId:      "newcomer",
		DisplayName: "Cam",
		Signal:      makeRemoteOffer(t),
	})

	s := h.waitSignal(t)
	assert.Equal(t, "newcomer", s.to)
	assert.Equal(t, "answer", s.sig.Type)
	assert.NotEmpty(t, s.sig.SDP)

	peers := h.mesh.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, ROLE_RESPONDER, peers[0].Role)
}

func TestOrphanSignalIsDropped(t *testing.T) {
	h := newMeshHarness(t)

	h.mesh.HandleSignal(signaling.SignalPayload{
		From:   "ghost",
		Signal: json.RawMessage(`{"candidate":{"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host"}}`),
	})

	event := h.waitEvent(t, RoomEventOrphanSignal)
	assert.Equal(t, "ghost", event.PeerId)
	assert.ErrorIs(t, event.Err, ErrOrphanSignal)
	assert.Empty(t, h.mesh.Peers(), "an orphan signal must never create a session")
}

func TestDuplicateSessionCreateIgnored(t *testing.T) {
	h := newMeshHarness(t)

	h.mesh.HandleExistingUsers([]signaling.MemberInfo{{PeerId: "p1", DisplayName: "Ann"}})
	h.waitSignal(t)
	h.mesh.HandleExistingUsers([]signaling.MemberInfo{{PeerId: "p1", DisplayName: "Ann"}})

	assert.Len(t, h.mesh.Peers(), 1)
}

func TestUserDisconnectedDestroysOnlyThatSession(t *testing.T) {
	h := newMeshHarness(t)

	h.mesh.HandleExistingUsers([]signaling.MemberInfo{
		{PeerId: "p1", DisplayName: "Ann"},
		{PeerId: "p2", DisplayName: "Ben"},
	})
	h.waitSignal(t)
	h.waitSignal(t)

	h.mesh.HandleUserDisconnected("p1")

	event := h.waitEvent(t, RoomEventPeerDisconnected)
	assert.Equal(t, "p1", event.PeerId)

	peers := h.mesh.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "p2", peers[0].PeerId)

	// a repeat disconnect for the same peer is a no-op
	h.mesh.HandleUserDisconnected("p1")
	assert.Len(t, h.mesh.Peers(), 1)
}

func TestRemoteToggleReflectedInPeerList(t *testing.T) {
	h := newMeshHarness(t)

	h.mesh.HandleExistingUsers([]signaling.MemberInfo{{PeerId: "p1", DisplayName: "Ann"}})
	h.waitSignal(t)

	h.mesh.HandleRemoteToggle("p1", "audio", false)
	peers := h.mesh.Peers()
	require.Len(t, peers, 1)
	assert.False(t, peers[0].AudioEnabled)
	assert.True(t, peers[0].VideoEnabled)

	h.mesh.HandleRemoteToggle("p1", "video", false)
	assert.False(t, h.mesh.Peers()[0].VideoEnabled)

	// toggles for unknown peers are ignored
	h.mesh.HandleRemoteToggle("ghost", "audio", false)
}

func TestReplaceVideoTrackFansOutToEverySession(t *testing.T) {
	h := newMeshHarness(t)

	h.mesh.HandleExistingUsers([]signaling.MemberInfo{
		{PeerId: "p1", DisplayName: "Ann"},
		{PeerId: "p2", DisplayName: "Ben"},
	})
	h.waitSignal(t)
	h.waitSignal(t)

	screen := newFakeTrack(t, "video")
	h.mesh.ReplaceVideoTrack(screen, media.SOURCE_SCREEN)

	h.mesh.mu.Lock()
	defer h.mesh.mu.Unlock()
	require.Len(t, h.mesh.sessions, 2)
	for _, session := range h.mesh.sessions {
		assert.Equal(t, media.SOURCE_SCREEN, session.OutboundVideoSource())
	}
}

func TestCloseAllEmptiesTheMesh(t *testing.T) {
	h := newMeshHarness(t)

	h.mesh.HandleExistingUsers([]signaling.MemberInfo{
		{PeerId: "p1", DisplayName: "Ann"},
		{PeerId: "p2", DisplayName: "Ben"},
	})
	h.waitSignal(t)
	h.waitSignal(t)

	h.mesh.CloseAll()
	assert.Empty(t, h.mesh.Peers())
}

func TestNegotiationTimeoutClosesSession(t *testing.T) {
	ctrl := media.NewController(&fakeProvider{t: t})
	require.NoError(t, ctrl.Acquire())
	t.Cleanup(ctrl.StopAll)

	eventStream := util.NewEventSub[RoomEvent](16)
	events := eventStream.Subscribe()
	mesh := newMeshManager(webrtc.Configuration{}, 200*time.Millisecond, ctrl,
		func(string, PeerSignal) {}, eventStream)
	t.Cleanup(mesh.CloseAll)

	mesh.HandleExistingUsers([]signaling.MemberInfo{{PeerId: "p1", DisplayName: "Ann"}})

	deadline := time.After(10 * time.Second)
	sawStalled := false
	for !sawStalled {
		select {
		case event := <-events:
			if event.Type == RoomEventNegotiationStalled {
				assert.Equal(t, "p1", event.PeerId)
				assert.ErrorIs(t, event.Err, ErrNegotiationStalled)
				sawStalled = true
			}
		case <-deadline:
			t.Fatal("no stalled event")
		}
	}

	// the stalled session is closed and removed
	assert.Eventually(t, func() bool { return len(mesh.Peers()) == 0 },
		5*time.Second, 50*time.Millisecond)
}
