package media

import (
	"errors"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/codec/x264"
	"github.com/pion/mediadevices/pkg/prop"

	// register the platform capture adapters
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
)

// DeviceProvider is the production Provider backed by pion/mediadevices: real
// camera, microphone and screen capture with VP8/H264 video and opus audio.
type DeviceProvider struct {
	codecSelector *mediadevices.CodecSelector
}

func NewDeviceProvider() (*DeviceProvider, error) {
	x264Params, err := x264.NewParams()
	if err != nil {
		return nil, err
	}
	x264Params.Preset = x264.PresetMedium
	x264Params.BitRate = 1_000_000 // 1mbps

	vp8Params, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vp8Params.BitRate = 1_000_000 // 1mbps
	vp8Params.ErrorResilient = vpx.ErrorResilientPartitions
	vp8Params.LagInFrames = 1

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &DeviceProvider{
		codecSelector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vp8Params, &x264Params),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// CodecSelector exposes the configured encoders so the webrtc MediaEngine can
// be populated with matching codecs.
func (p *DeviceProvider) CodecSelector() *mediadevices.CodecSelector {
	return p.codecSelector
}

func (p *DeviceProvider) UserMedia() (Track, Track, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {},
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(640)
			c.Height = prop.Int(480)
		},
		Codec: p.codecSelector,
	})
	if err != nil {
		return nil, nil, err
	}

	audioTracks := stream.GetAudioTracks()
	videoTracks := stream.GetVideoTracks()
	if len(audioTracks) == 0 || len(videoTracks) == 0 {
		return nil, nil, errors.New("user media stream missing audio or video track")
	}
	return deviceTrack{audioTracks[0]}, deviceTrack{videoTracks[0]}, nil
}

func (p *DeviceProvider) CameraVideo() (Track, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(640)
			c.Height = prop.Int(480)
		},
		Codec: p.codecSelector,
	})
	if err != nil {
		return nil, err
	}
	videoTracks := stream.GetVideoTracks()
	if len(videoTracks) == 0 {
		return nil, errors.New("camera stream missing video track")
	}
	return deviceTrack{videoTracks[0]}, nil
}

func (p *DeviceProvider) DisplayVideo() (Track, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {},
		Codec: p.codecSelector,
	})
	if err != nil {
		return nil, err
	}
	videoTracks := stream.GetVideoTracks()
	if len(videoTracks) == 0 {
		return nil, errors.New("display stream missing video track")
	}
	return deviceTrack{videoTracks[0]}, nil
}

// deviceTrack adapts a mediadevices capture track to the Track interface
// (mediadevices names releasing a track Close, we name it Stop).
type deviceTrack struct {
	mediadevices.Track
}

func (t deviceTrack) Stop() error {
	return t.Track.Close()
}
