package meshcall

import "errors"

// ErrOrphanSignal marks a negotiation payload that arrived for a PeerId with no
// live session (a race between signal delivery and membership events). Orphans
// are logged and dropped; the rest of the room is unaffected.
var ErrOrphanSignal = errors.New("signal for unknown peer")

// ErrNegotiationStalled marks a peer session that reached neither connected nor
// closed within the configured negotiation timeout.
var ErrNegotiationStalled = errors.New("peer negotiation stalled")

// ErrNotInRoom is returned by room-scoped operations called before Join (or
// after Leave).
var ErrNotInRoom = errors.New("not in a room")

// ErrClientClosed is returned by Join once Leave has run: a RoomClient hosts at
// most one room session, and its event stream ends with it.
var ErrClientClosed = errors.New("room client is closed")
