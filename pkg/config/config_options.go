package config

import (
	webrtc "github.com/pion/webrtc/v3"
)

// configuration for the meshcall room client
type MeshcallConfig struct {

	// SignalingServerURL: websocket url of the relay/signaling server that forwards room membership,
	// negotiation payloads and chat events between clients (it never touches media).
	// Default: "ws://localhost:5000/ws"
	SignalingServerURL string

	// StartLocalRelayServer: if true, an in-process relay server is started on LocalRelayPort and the
	// client connects to it instead of SignalingServerURL. Useful when no external relay is reachable
	// (and for tests).
	// Default: false
	StartLocalRelayServer bool

	// LocalRelayPort: the port the in-process relay server listens on when StartLocalRelayServer is true.
	// Default: 5000
	LocalRelayPort int

	// WebrtcConfig: struct passed to every pion RTCPeerConnection in the mesh. This contains any custom
	// STUN/TURN server configuration. Defaults to { 'iceServers': [{ 'urls': 'stun:stun.l.google.com:19302' }], 'sdpSemantics': 'unified-plan' }
	WebrtcConfig webrtc.Configuration

	// NegotiationTimeoutSec: how long a peer session may sit in the negotiating state before it is
	// closed and reported as stalled. 0 disables the timeout (a stalled session then parks forever,
	// which is how the original design behaved).
	// Default: 30
	NegotiationTimeoutSec int

	// LogLevel: The log verbosity to use. Must be one of: critical, error, warn, info, debug. (debug is most verbose)
	// Default: "warn"
	LogLevel string
}

func GetDefaultMeshcallConfig() MeshcallConfig {
	return MeshcallConfig{
		SignalingServerURL:    "ws://localhost:5000/ws",
		StartLocalRelayServer: false,
		LocalRelayPort:        5000,
		WebrtcConfig: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{
				{
					URLs: []string{"stun:stun.l.google.com:19302"},
				},
			},
			SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
		},
		NegotiationTimeoutSec: 30,
		LogLevel:              "warn",
	}
}
