package media

import (
	"errors"
	"fmt"
	"sync"

	webrtc "github.com/pion/webrtc/v3"
	log "github.com/sirupsen/logrus"
)

// VideoSource names the kind of outbound video currently being captured.
type VideoSource string

const (
	SOURCE_CAMERA VideoSource = "camera"
	SOURCE_SCREEN VideoSource = "screen"
)

// ErrMediaAccess marks a capture-device acquisition failure (device missing,
// busy or permission denied). Wrapped around the driver error.
var ErrMediaAccess = errors.New("media device access failed")

// Track is one live local capture track: sendable over a peer connection,
// stoppable, and able to report when its source ends on its own (e.g. the user
// ends a screen share from outside the app). OnEnded fires the handler
// immediately when the track has already ended at registration time, the way
// mediadevices tracks behave.
type Track interface {
	webrtc.TrackLocal
	OnEnded(handler func(error))
	Stop() error
}

// Provider acquires capture tracks from the platform. The production provider
// wraps pion/mediadevices; tests substitute their own.
type Provider interface {
	// UserMedia acquires the microphone and camera together (initial join).
	UserMedia() (audio Track, video Track, err error)
	// CameraVideo acquires a fresh camera track (used when a screen share ends).
	CameraVideo() (Track, error)
	// DisplayVideo acquires a screen capture track.
	DisplayVideo() (Track, error)
}

// TrackReplacer swaps the outbound video track on every live peer connection in
// place. Implemented by the mesh manager.
type TrackReplacer interface {
	ReplaceVideoTrack(track webrtc.TrackLocal, source VideoSource)
}

// State is the snapshot of the local media controls. AudioEnabled/VideoEnabled
// are intent flags announced to the room, independent of which video source is
// active: a muted participant who starts a screen share stays muted.
type State struct {
	AudioEnabled      bool
	VideoEnabled      bool
	ActiveVideoSource VideoSource
	ScreenSharing     bool
}

// Controller owns the local capture tracks and the authoritative local media
// state. All mute toggles and source switches go through it; peers only ever
// see the results (replaced tracks, announced toggles).
type Controller struct {
	mu            sync.Mutex
	provider      Provider
	acquired      bool
	switchPending bool
	audioTrack    Track
	videoTrack    Track
	state         State

	replacer TrackReplacer
	// onToggle announces a local mute flip to the room (kind is "audio"/"video")
	onToggle func(kind string, enabled bool)
	// onError surfaces capture failures that happen off any caller's stack
	onError func(err error)

	log *log.Entry
}

func NewController(provider Provider) *Controller {
	return &Controller{
		provider: provider,
		state:    State{ActiveVideoSource: SOURCE_CAMERA},
		log:      log.WithField("|", "media"),
	}
}

func (c *Controller) SetTrackReplacer(replacer TrackReplacer) {
	c.mu.Lock()
	c.replacer = replacer
	c.mu.Unlock()
}

func (c *Controller) OnToggle(handler func(kind string, enabled bool)) {
	c.mu.Lock()
	c.onToggle = handler
	c.mu.Unlock()
}

func (c *Controller) OnError(handler func(err error)) {
	c.mu.Lock()
	c.onError = handler
	c.mu.Unlock()
}

// Acquire grabs the microphone and camera. It must succeed before any peer
// negotiation starts; a second call on an already-acquired controller is a
// no-op. Failure leaves the controller unacquired.
func (c *Controller) Acquire() error {
	c.mu.Lock()
	if c.acquired {
		c.mu.Unlock()
		c.log.Warn("media already acquired, ignoring")
		return nil
	}
	c.mu.Unlock()

	audio, video, err := c.provider.UserMedia()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrMediaAccess, err)
	}

	c.mu.Lock()
	c.acquired = true
	c.audioTrack = audio
	c.videoTrack = video
	c.state = State{AudioEnabled: true, VideoEnabled: true, ActiveVideoSource: SOURCE_CAMERA}
	c.mu.Unlock()
	c.log.Info("acquired microphone and camera")
	return nil
}

// ToggleAudio flips the local audio mute flag and announces it. The track keeps
// running; only the flag (and the announcement) changes. Returns the new value.
func (c *Controller) ToggleAudio() bool {
	c.mu.Lock()
	c.state.AudioEnabled = !c.state.AudioEnabled
	enabled := c.state.AudioEnabled
	notify := c.onToggle
	c.mu.Unlock()

	c.log.Info("audio enabled: ", enabled)
	if notify != nil {
		notify("audio", enabled)
	}
	return enabled
}

// ToggleVideo flips the local video mute flag and announces it. Independent of
// the active video source.
func (c *Controller) ToggleVideo() bool {
	c.mu.Lock()
	c.state.VideoEnabled = !c.state.VideoEnabled
	enabled := c.state.VideoEnabled
	notify := c.onToggle
	c.mu.Unlock()

	c.log.Info("video enabled: ", enabled)
	if notify != nil {
		notify("video", enabled)
	}
	return enabled
}

// StartScreenShare acquires a screen track and swaps it into every live peer
// connection in place of the camera. No renegotiation happens. Starting while
// already sharing is a no-op; a failed acquisition leaves the camera running.
func (c *Controller) StartScreenShare() error {
	c.mu.Lock()
	if !c.acquired {
		c.mu.Unlock()
		return fmt.Errorf("%w: media not acquired", ErrMediaAccess)
	}
	if c.state.ScreenSharing || c.switchPending {
		c.mu.Unlock()
		c.log.Warn("screen share already active, ignoring")
		return nil
	}
	c.switchPending = true
	c.mu.Unlock()

	screen, err := c.provider.DisplayVideo()
	if err != nil {
		c.mu.Lock()
		c.switchPending = false
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMediaAccess, err)
	}

	c.mu.Lock()
	camera := c.videoTrack
	c.videoTrack = screen
	c.state.ActiveVideoSource = SOURCE_SCREEN
	c.state.ScreenSharing = true
	c.switchPending = false
	replacer := c.replacer
	c.mu.Unlock()

	if replacer != nil {
		replacer.ReplaceVideoTrack(screen, SOURCE_SCREEN)
	}
	if camera != nil {
		if err := camera.Stop(); err != nil {
			c.log.Warn("stopping camera track: ", err)
		}
	}

	// a share ended outside the app (platform picker, window closed) unwinds
	// through the same path as an explicit stop. Registered only after the
	// screen replacement is published, so the revert can never be overtaken by
	// a stale screen replacement; a track that already ended fires right here.
	screen.OnEnded(func(err error) {
		if err != nil {
			c.log.Warn("screen track ended: ", err)
		}
		if stopErr := c.StopScreenShare(); stopErr != nil {
			c.log.Error("reverting to camera after screen end: ", stopErr)
			c.mu.Lock()
			notify := c.onError
			c.mu.Unlock()
			if notify != nil {
				notify(stopErr)
			}
		}
	})

	c.log.Info("screen share started")
	return nil
}

// StopScreenShare reverts to a freshly acquired camera track. Stopping while
// not sharing is a no-op, so the external-end path and an explicit stop can
// race safely.
func (c *Controller) StopScreenShare() error {
	c.mu.Lock()
	if !c.state.ScreenSharing || c.switchPending {
		c.mu.Unlock()
		return nil
	}
	c.switchPending = true
	c.mu.Unlock()

	camera, err := c.provider.CameraVideo()
	if err != nil {
		c.mu.Lock()
		c.switchPending = false
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMediaAccess, err)
	}

	c.mu.Lock()
	screen := c.videoTrack
	c.videoTrack = camera
	c.state.ActiveVideoSource = SOURCE_CAMERA
	c.state.ScreenSharing = false
	c.switchPending = false
	replacer := c.replacer
	c.mu.Unlock()

	if replacer != nil {
		replacer.ReplaceVideoTrack(camera, SOURCE_CAMERA)
	}
	if screen != nil {
		if err := screen.Stop(); err != nil {
			c.log.Warn("stopping screen track: ", err)
		}
	}
	c.log.Info("screen share stopped, camera restored")
	return nil
}

// SwitchVideoSource toggles between camera and screen capture.
func (c *Controller) SwitchVideoSource() error {
	if c.State().ScreenSharing {
		return c.StopScreenShare()
	}
	return c.StartScreenShare()
}

// Tracks returns the current outbound tracks for attaching to a new peer
// connection, plus the source kind of the video track.
func (c *Controller) Tracks() (audio webrtc.TrackLocal, video webrtc.TrackLocal, source VideoSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.audioTrack != nil {
		audio = c.audioTrack
	}
	if c.videoTrack != nil {
		video = c.videoTrack
	}
	return audio, video, c.state.ActiveVideoSource
}

// State returns a snapshot of the local media controls.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StopAll releases every capture track and resets the controller (local
// leave). A later Acquire starts fresh.
func (c *Controller) StopAll() {
	c.mu.Lock()
	tracks := []Track{}
	if c.audioTrack != nil {
		tracks = append(tracks, c.audioTrack)
	}
	if c.videoTrack != nil {
		tracks = append(tracks, c.videoTrack)
	}
	c.audioTrack = nil
	c.videoTrack = nil
	c.acquired = false
	c.switchPending = false
	c.state = State{ActiveVideoSource: SOURCE_CAMERA}
	c.mu.Unlock()

	for _, track := range tracks {
		if err := track.Stop(); err != nil {
			c.log.Warn("stopping track: ", err)
		}
	}
	c.log.Info("released all capture tracks")
}
