package signaling

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConn is a raw websocket client for poking at the relay wire protocol
// directly, without going through the Channel type.
type testConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialRelay(t *testing.T, srv *httptest.Server) *testConn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testConn{t: t, conn: conn}
}

func (tc *testConn) send(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	require.NoError(tc.t, err)
	require.NoError(tc.t, tc.conn.WriteJSON(envelope{Event: event, Data: data}))
}

// next reads the next frame and requires it to be the named event.
func (tc *testConn) next(event string) json.RawMessage {
	require.NoError(tc.t, tc.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env envelope
	_, msgBytes, err := tc.conn.ReadMessage()
	require.NoError(tc.t, err)
	require.NoError(tc.t, json.Unmarshal(msgBytes, &env))
	require.Equal(tc.t, event, env.Event)
	return env.Data
}

func (tc *testConn) join(roomId string, participantId string, displayName string) []MemberInfo {
	tc.send(EventJoinRoom, JoinRoomPayload{RoomId: roomId, ParticipantId: participantId, DisplayName: displayName})
	var snapshot []MemberInfo
	require.NoError(tc.t, json.Unmarshal(tc.next(EventExistingUsers), &snapshot))
	tc.next(EventChatHistory)
	return snapshot
}

func startRelay(t *testing.T) (*RelayServer, *httptest.Server) {
	relay := NewRelayServer()
	srv := httptest.NewServer(relay)
	t.Cleanup(srv.Close)
	return relay, srv
}

func TestJoinSnapshotOrderAndCaseNormalization(t *testing.T) {
	_, srv := startRelay(t)

	alice := dialRelay(t, srv)
	assert.Empty(t, alice.join("misty-lake-01", "pa", "Alice"))

	bob := dialRelay(t, srv)
	snapshot := bob.join("MISTY-Lake-01", "pb", "Bob")
	require.Len(t, snapshot, 1)
	assert.Equal(t, "Alice", snapshot[0].DisplayName)
	assert.NotEmpty(t, snapshot[0].PeerId)

	carol := dialRelay(t, srv)
	snapshot = carol.join("misty-lake-01", "pc", "Carol")
	require.Len(t, snapshot, 2)
	assert.Equal(t, "Alice", snapshot[0].DisplayName)
	assert.Equal(t, "Bob", snapshot[1].DisplayName)
}

func TestFirstSignalUpgradedToUserConnected(t *testing.T) {
	_, srv := startRelay(t)

	alice := dialRelay(t, srv)
	alice.join("room", "pa", "Alice")
	bob := dialRelay(t, srv)
	snapshot := bob.join("room", "pb", "Bob")
	alicePeerId := snapshot[0].PeerId

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0 bob"}`)
	bob.send(EventSignal, SignalPayload{To: alicePeerId, Signal: offer})

	// Alice never heard of Bob, so the offer arrives as a user-connected announcement
	var announced UserConnectedPayload
	require.NoError(t, json.Unmarshal(alice.next(EventUserConnected), &announced))
	assert.Equal(t, "Bob", announced.DisplayName)
	assert.NotEmpty(t, announced.PeerId)
	assert.JSONEq(t, string(offer), string(announced.Signal))

	// Alice answers; Bob already knows Alice (from the snapshot) so it stays a plain signal
	answer := json.RawMessage(`{"type":"answer","sdp":"v=0 alice"}`)
	alice.send(EventSignal, SignalPayload{To: announced.PeerId, Signal: answer})
	var routed SignalPayload
	require.NoError(t, json.Unmarshal(bob.next(EventSignal), &routed))
	assert.Equal(t, alicePeerId, routed.From, "relay must stamp the sender id")
	assert.JSONEq(t, string(answer), string(routed.Signal))

	// a second payload from Bob is no longer first contact
	bob.send(EventSignal, SignalPayload{To: alicePeerId, Signal: answer})
	require.NoError(t, json.Unmarshal(alice.next(EventSignal), &routed))
	assert.Equal(t, announced.PeerId, routed.From)
}

func TestSignalSenderIdCannotBeForged(t *testing.T) {
	_, srv := startRelay(t)

	alice := dialRelay(t, srv)
	alice.join("room", "pa", "Alice")
	bob := dialRelay(t, srv)
	snapshot := bob.join("room", "pb", "Bob")

	bob.send(EventSignal, SignalPayload{
		To:     snapshot[0].PeerId,
		From:   "someone-else",
		Signal: json.RawMessage(`{"type":"offer","sdp":"x"}`),
	})
	var announced UserConnectedPayload
	require.NoError(t, json.Unmarshal(alice.next(EventUserConnected), &announced))
	assert.NotEqual(t, "someone-else", announced.PeerId)
}

func TestToggleRebroadcastStampsPeerId(t *testing.T) {
	_, srv := startRelay(t)

	alice := dialRelay(t, srv)
	alice.join("room", "pa", "Alice")
	bob := dialRelay(t, srv)
	snapshot := bob.join("room", "pb", "Bob")
	alicePeerId := snapshot[0].PeerId

	alice.send(EventToggleAudio, TogglePayload{RoomId: "room", Enabled: false})

	var toggled TogglePayload
	require.NoError(t, json.Unmarshal(bob.next(EventToggleAudio), &toggled))
	assert.Equal(t, alicePeerId, toggled.PeerId)
	assert.False(t, toggled.Enabled)
}

func TestChatBroadcastAndHistoryReplay(t *testing.T) {
	_, srv := startRelay(t)

	alice := dialRelay(t, srv)
	alice.join("room", "pa", "Alice")
	bob := dialRelay(t, srv)
	bob.join("room", "pb", "Bob")

	alice.send(EventSendMessage, SendMessagePayload{RoomId: "room", Body: "hello", DisplayName: "Alice"})

	// the sender already echoed locally, everyone else gets the broadcast
	var msg ChatMessage
	require.NoError(t, json.Unmarshal(bob.next(EventNewMessage), &msg))
	assert.Equal(t, "Alice", msg.SenderName)
	assert.Equal(t, "hello", msg.Body)
	assert.False(t, msg.SentAt.IsZero())

	// a late joiner gets the message in the history replay
	carol := dialRelay(t, srv)
	carol.send(EventJoinRoom, JoinRoomPayload{RoomId: "room", ParticipantId: "pc", DisplayName: "Carol"})
	carol.next(EventExistingUsers)
	var history []ChatMessage
	require.NoError(t, json.Unmarshal(carol.next(EventChatHistory), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Body)
}

func TestDisconnectBroadcast(t *testing.T) {
	_, srv := startRelay(t)

	alice := dialRelay(t, srv)
	alice.join("room", "pa", "Alice")
	bob := dialRelay(t, srv)
	snapshot := bob.join("room", "pb", "Bob")

	// Alice learns Bob's PeerId through his first signal
	bob.send(EventSignal, SignalPayload{To: snapshot[0].PeerId, Signal: json.RawMessage(`{"type":"offer","sdp":"x"}`)})
	var announced UserConnectedPayload
	require.NoError(t, json.Unmarshal(alice.next(EventUserConnected), &announced))

	bob.conn.Close()

	var gone UserDisconnectedPayload
	require.NoError(t, json.Unmarshal(alice.next(EventUserDisconnected), &gone))
	assert.Equal(t, announced.PeerId, gone.PeerId)
}
