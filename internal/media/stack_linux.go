//go:build linux && cgo

package media

import (
	"fmt"
	"time"

	"peercall/internal/domain/call"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// NewWebRTC builds the pion stack with VP8+Opus encoders and the V4L2/
// malgo/X11 capture drivers.
func NewWebRTC() (*WebRTC, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	selector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	// Generous ICE timeouts so a brief relay/NAT hiccup does not
	// immediately terminate the call.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	return &WebRTC{api: api, selector: selector}, nil
}

func (w *WebRTC) OpenUserMedia(media call.MediaType) ([]LocalTrack, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: w.selector}
	constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	if media == call.MediaVideo {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// Raw formats only — some cameras expose an MJPEG node that
			// produces malformed frames and poisons the VP8 encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}

	tracks := stream.GetTracks()
	out := make([]LocalTrack, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, newPionTrack(t))
	}
	return out, nil
}

func (w *WebRTC) OpenDisplayMedia() (LocalTrack, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: w.selector,
		Video: func(_ *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, fmt.Errorf("get display media: %w", err)
	}
	for _, t := range stream.GetVideoTracks() {
		return newPionTrack(t), nil
	}
	return nil, fmt.Errorf("display capture produced no video track")
}
