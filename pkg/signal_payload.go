package meshcall

import (
	"encoding/json"
	"fmt"

	webrtc "github.com/pion/webrtc/v3"
)

const (
	signalTypeOffer     = "offer"
	signalTypeAnswer    = "answer"
	signalTypeCandidate = "candidate"
)

// PeerSignal is the negotiation payload carried opaquely inside the relay's
// signal/user-connected events. With trickle disabled there is exactly one
// offer or answer per session and direction, each carrying the fully gathered
// candidate set inside its SDP; standalone candidate payloads are still decoded
// and applied in case a remote implementation trickles anyway.
type PeerSignal struct {
	Type      string                   `json:"type,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

func offerSignal(desc *webrtc.SessionDescription) PeerSignal {
	return PeerSignal{Type: signalTypeOffer, SDP: desc.SDP}
}

func answerSignal(desc *webrtc.SessionDescription) PeerSignal {
	return PeerSignal{Type: signalTypeAnswer, SDP: desc.SDP}
}

func (s PeerSignal) sessionDescription() (webrtc.SessionDescription, error) {
	switch s.Type {
	case signalTypeOffer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: s.SDP}, nil
	case signalTypeAnswer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: s.SDP}, nil
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
}

func (s PeerSignal) marshal() (json.RawMessage, error) {
	return json.Marshal(s)
}

func parsePeerSignal(raw json.RawMessage) (PeerSignal, error) {
	var sig PeerSignal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return PeerSignal{}, err
	}
	switch sig.Type {
	case signalTypeOffer, signalTypeAnswer:
		if sig.SDP == "" {
			return PeerSignal{}, fmt.Errorf("%s payload missing sdp", sig.Type)
		}
	case signalTypeCandidate, "":
		if sig.Candidate == nil {
			return PeerSignal{}, fmt.Errorf("candidate payload missing candidate")
		}
		sig.Type = signalTypeCandidate
	default:
		return PeerSignal{}, fmt.Errorf("unsupported signal type %q", sig.Type)
	}
	return sig, nil
}
