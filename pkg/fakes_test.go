package meshcall

import (
	"encoding/json"
	"sync"
	"testing"

	webrtc "github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"

	"github.com/kw-m/meshcall/pkg/media"
)

// fakeTrack satisfies media.Track without capture hardware by wrapping a real
// static sample track.
type fakeTrack struct {
	*webrtc.TrackLocalStaticSample
	mu      sync.Mutex
	stopped bool
	ended   bool
	onEnded func(error)
}

func newFakeTrack(t *testing.T, kind string) *fakeTrack {
	mimeType := webrtc.MimeTypeVP8
	if kind == "audio" {
		mimeType = webrtc.MimeTypeOpus
	}
	inner, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mimeType}, kind, "fake-stream")
	require.NoError(t, err)
	return &fakeTrack{TrackLocalStaticSample: inner}
}

// OnEnded mirrors the mediadevices contract: an already-ended track fires the
// handler immediately on registration.
func (f *fakeTrack) OnEnded(handler func(error)) {
	f.mu.Lock()
	f.onEnded = handler
	ended := f.ended
	f.mu.Unlock()
	if ended && handler != nil {
		handler(nil)
	}
}

func (f *fakeTrack) Stop() error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

type fakeProvider struct {
	t            *testing.T
	userMediaErr error
}

func (p *fakeProvider) UserMedia() (media.Track, media.Track, error) {
	if p.userMediaErr != nil {
		return nil, nil, p.userMediaErr
	}
	return newFakeTrack(p.t, "audio"), newFakeTrack(p.t, "video"), nil
}

func (p *fakeProvider) CameraVideo() (media.Track, error) {
	return newFakeTrack(p.t, "video"), nil
}

func (p *fakeProvider) DisplayVideo() (media.Track, error) {
	return newFakeTrack(p.t, "video"), nil
}

// makeRemoteOffer produces a real, fully gathered offer SDP the way a remote
// initiator would: data channel plus audio and video tracks.
func makeRemoteOffer(t *testing.T) json.RawMessage {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	_, err = pc.CreateDataChannel("meshcall", nil)
	require.NoError(t, err)
	_, err = pc.AddTrack(newFakeTrack(t, "audio"))
	require.NoError(t, err)
	_, err = pc.AddTrack(newFakeTrack(t, "video"))
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	require.NoError(t, pc.SetLocalDescription(offer))
	<-gatherComplete

	raw, err := offerSignal(pc.LocalDescription()).marshal()
	require.NoError(t, err)
	return raw
}
