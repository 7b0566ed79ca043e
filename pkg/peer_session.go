package meshcall

import (
	"errors"
	"sync"
	"time"

	webrtc "github.com/pion/webrtc/v3"
	log "github.com/sirupsen/logrus"

	"github.com/kw-m/meshcall/pkg/media"
)

const (
	PEER_STATE_NEGOTIATING = "negotiating"
	PEER_STATE_CONNECTED   = "connected"
	PEER_STATE_CLOSED      = "closed"
)

// PeerRole records which side of the offer/answer exchange this session took.
// The role is derived locally from how the peer was first learned about (room
// snapshot vs announcement) and is never negotiated over the wire.
type PeerRole string

const (
	ROLE_INITIATOR PeerRole = "initiator"
	ROLE_RESPONDER PeerRole = "responder"
)

// PeerInfo is the upward-facing snapshot of one remote participant.
type PeerInfo struct {
	PeerId       string
	DisplayName  string
	Role         PeerRole
	State        string
	AudioEnabled bool
	VideoEnabled bool
}

// PeerSession wraps one webrtc peer connection to a single remote participant.
// Instances are owned exclusively by the MeshManager; nothing else may hold a
// reference that outlives destruction.
type PeerSession struct {
	peerId      string
	displayName string
	role        PeerRole
	pc          *webrtc.PeerConnection

	mu                  sync.Mutex
	state               string
	outboundVideoSource media.VideoSource
	audioSender         *webrtc.RTPSender
	videoSender         *webrtc.RTPSender
	remoteAudioEnabled  bool
	remoteVideoEnabled  bool
	negotiationTimer    *time.Timer

	// sendSignal: emits a negotiation payload addressed to this session's peer
	sendSignal func(toPeerId string, sig PeerSignal)
	// onStateChange: called (off the session lock) whenever the session state moves
	onStateChange func(ps *PeerSession, state string)
	// onRemoteTrack: called for every inbound media track from this peer
	onRemoteTrack func(peerId string, track *webrtc.TrackRemote)
	// onStalled: called when the negotiation timeout fires before a terminal state
	onStalled func(ps *PeerSession)

	log *log.Entry
}

func newPeerSession(
	webrtcConfig webrtc.Configuration,
	peerId string,
	displayName string,
	role PeerRole,
	negotiationTimeout time.Duration,
	sendSignal func(toPeerId string, sig PeerSignal),
	onStateChange func(ps *PeerSession, state string),
	onRemoteTrack func(peerId string, track *webrtc.TrackRemote),
	onStalled func(ps *PeerSession),
) (*PeerSession, error) {
	pc, err := webrtc.NewPeerConnection(webrtcConfig)
	if err != nil {
		return nil, err
	}

	ps := &PeerSession{
		peerId:             peerId,
		displayName:        displayName,
		role:               role,
		pc:                 pc,
		state:              PEER_STATE_NEGOTIATING,
		remoteAudioEnabled: true,
		remoteVideoEnabled: true,
		sendSignal:         sendSignal,
		onStateChange:      onStateChange,
		onRemoteTrack:      onRemoteTrack,
		onStalled:          onStalled,
		log:                log.WithField("|", "peer-session").WithField("peer", peerId),
	}

	pc.OnConnectionStateChange(func(connState webrtc.PeerConnectionState) {
		ps.log.Debug("connection state: ", connState.String())
		switch connState {
		case webrtc.PeerConnectionStateConnected:
			ps.setState(PEER_STATE_CONNECTED)
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			ps.setState(PEER_STATE_CLOSED)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		ps.log.Info("remote track: ", track.Kind().String())
		if ps.onRemoteTrack != nil {
			ps.onRemoteTrack(ps.peerId, track)
		}
	})

	if negotiationTimeout > 0 {
		ps.negotiationTimer = time.AfterFunc(negotiationTimeout, func() {
			if ps.State() != PEER_STATE_NEGOTIATING {
				return
			}
			ps.log.Errorf("negotiation with %s did not complete within %s", peerId, negotiationTimeout)
			ps.Close()
			if ps.onStalled != nil {
				ps.onStalled(ps)
			}
		})
	}

	return ps, nil
}

// setState moves the session state and notifies off-lock. A closed session
// never transitions again.
func (ps *PeerSession) setState(state string) {
	ps.mu.Lock()
	if ps.state == state || ps.state == PEER_STATE_CLOSED {
		ps.mu.Unlock()
		return
	}
	ps.state = state
	if state != PEER_STATE_NEGOTIATING && ps.negotiationTimer != nil {
		ps.negotiationTimer.Stop()
	}
	notify := ps.onStateChange
	ps.mu.Unlock()

	if notify != nil {
		notify(ps, state)
	}
}

func (ps *PeerSession) State() string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.state
}

func (ps *PeerSession) Info() PeerInfo {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return PeerInfo{
		PeerId:       ps.peerId,
		DisplayName:  ps.displayName,
		Role:         ps.role,
		State:        ps.state,
		AudioEnabled: ps.remoteAudioEnabled,
		VideoEnabled: ps.remoteVideoEnabled,
	}
}

// attachLocalTracks adds the local outbound tracks before negotiation starts.
// Every session's outbound video is derived from the shared local media state,
// never set independently.
func (ps *PeerSession) attachLocalTracks(audio webrtc.TrackLocal, video webrtc.TrackLocal, source media.VideoSource) error {
	if audio != nil {
		sender, err := ps.pc.AddTrack(audio)
		if err != nil {
			return err
		}
		ps.audioSender = sender
		go drainRTCP(sender)
	}
	if video != nil {
		sender, err := ps.pc.AddTrack(video)
		if err != nil {
			return err
		}
		ps.videoSender = sender
		go drainRTCP(sender)
	}
	ps.mu.Lock()
	ps.outboundVideoSource = source
	ps.mu.Unlock()
	return nil
}

// drainRTCP reads and discards RTCP packets so interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// startOffer runs the initiator half of the non-trickle exchange: gather every
// candidate first, then emit a single offer payload. Blocking (candidate
// gathering can take a while); call as a goroutine.
func (ps *PeerSession) startOffer() {
	// the data channel keeps an application m-line in the SDP alongside the media tracks
	if _, err := ps.pc.CreateDataChannel("meshcall", nil); err != nil {
		ps.log.Error("create data channel: ", err)
		return
	}

	offer, err := ps.pc.CreateOffer(nil)
	if err != nil {
		ps.log.Error("create offer: ", err)
		return
	}
	gatherComplete := webrtc.GatheringCompletePromise(ps.pc)
	if err := ps.pc.SetLocalDescription(offer); err != nil {
		ps.log.Error("set local offer: ", err)
		return
	}
	<-gatherComplete

	ps.sendSignal(ps.peerId, offerSignal(ps.pc.LocalDescription()))
}

// handleSignal applies one inbound negotiation payload to this session.
// Answers and candidates apply quickly; an offer (responder side) blocks on
// candidate gathering for the answer and should run off the dispatch goroutine.
func (ps *PeerSession) handleSignal(sig PeerSignal) error {
	switch sig.Type {
	case signalTypeOffer:
		desc, err := sig.sessionDescription()
		if err != nil {
			return err
		}
		if err := ps.pc.SetRemoteDescription(desc); err != nil {
			return err
		}
		answer, err := ps.pc.CreateAnswer(nil)
		if err != nil {
			return err
		}
		gatherComplete := webrtc.GatheringCompletePromise(ps.pc)
		if err := ps.pc.SetLocalDescription(answer); err != nil {
			return err
		}
		<-gatherComplete
		ps.sendSignal(ps.peerId, answerSignal(ps.pc.LocalDescription()))
		return nil

	case signalTypeAnswer:
		desc, err := sig.sessionDescription()
		if err != nil {
			return err
		}
		return ps.pc.SetRemoteDescription(desc)

	case signalTypeCandidate:
		return ps.pc.AddICECandidate(*sig.Candidate)

	default:
		return errors.New("unsupported signal type " + sig.Type)
	}
}

// replaceVideoTrack swaps the outbound video source in place, without a new
// offer/answer round trip. Audio and the data channel are untouched.
func (ps *PeerSession) replaceVideoTrack(track webrtc.TrackLocal, source media.VideoSource) error {
	ps.mu.Lock()
	sender := ps.videoSender
	ps.mu.Unlock()
	if sender == nil {
		return errors.New("no outbound video sender on session " + ps.peerId)
	}
	if err := sender.ReplaceTrack(track); err != nil {
		return err
	}
	ps.mu.Lock()
	ps.outboundVideoSource = source
	ps.mu.Unlock()
	return nil
}

// OutboundVideoSource reports the kind of video this session currently sends.
func (ps *PeerSession) OutboundVideoSource() media.VideoSource {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.outboundVideoSource
}

func (ps *PeerSession) setRemoteToggle(kind string, enabled bool) {
	ps.mu.Lock()
	if kind == "audio" {
		ps.remoteAudioEnabled = enabled
	} else {
		ps.remoteVideoEnabled = enabled
	}
	ps.mu.Unlock()
}

// Close releases the peer connection and all media resources tied to it. Safe
// to call more than once.
func (ps *PeerSession) Close() {
	ps.mu.Lock()
	if ps.state == PEER_STATE_CLOSED {
		ps.mu.Unlock()
		return
	}
	ps.state = PEER_STATE_CLOSED
	if ps.negotiationTimer != nil {
		ps.negotiationTimer.Stop()
	}
	ps.mu.Unlock()

	if err := ps.pc.Close(); err != nil {
		ps.log.Warn("closing peer connection: ", err)
	}
	if ps.onStateChange != nil {
		ps.onStateChange(ps, PEER_STATE_CLOSED)
	}
}
