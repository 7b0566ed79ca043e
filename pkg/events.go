package meshcall

// RoomEventType enumerates the session-level events pushed onto the room event
// stream (see RoomClient.GetEventStream).
type RoomEventType string

const (
	RoomEventPeerConnected      RoomEventType = "peer-connected"
	RoomEventPeerDisconnected   RoomEventType = "peer-disconnected"
	RoomEventNegotiationStalled RoomEventType = "negotiation-stalled"
	RoomEventOrphanSignal       RoomEventType = "orphan-signal"
	RoomEventTransportError     RoomEventType = "transport-error"
)

// RoomEvent is one entry on the room event stream. PeerId/DisplayName are set
// for peer-scoped events; Err is set for stalled/orphan/transport events.
type RoomEvent struct {
	Type        RoomEventType
	PeerId      string
	DisplayName string
	Err         error
}
