//go:build !linux || !cgo

package media

import (
	"fmt"

	"peercall/internal/domain/call"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// NewWebRTC builds a pion stack without capture drivers. The V4L2/malgo/
// X11 drivers are Linux-only; on other platforms the connection is
// receive-capable but local capture fails with a media access error.
func NewWebRTC() (*WebRTC, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	return &WebRTC{api: api}, nil
}

func (w *WebRTC) OpenUserMedia(media call.MediaType) ([]LocalTrack, error) {
	return nil, fmt.Errorf("no capture drivers on this platform")
}

func (w *WebRTC) OpenDisplayMedia() (LocalTrack, error) {
	return nil, fmt.Errorf("no screen capture driver on this platform")
}
