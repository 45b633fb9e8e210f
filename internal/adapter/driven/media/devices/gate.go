package devices

import (
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// gatedTrack is the capture track as pion sees it. Packets written while
// enabled is false are dropped before they reach the sender.
type gatedTrack struct {
	webrtc.TrackLocal
	enabled *atomic.Bool
}

func (g *gatedTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return g.TrackLocal.Bind(gatedContext{TrackLocalContext: ctx, enabled: g.enabled})
}

func (g *gatedTrack) Unbind(ctx webrtc.TrackLocalContext) error {
	return g.TrackLocal.Unbind(gatedContext{TrackLocalContext: ctx, enabled: g.enabled})
}

type gatedContext struct {
	webrtc.TrackLocalContext
	enabled *atomic.Bool
}

func (c gatedContext) WriteStream() webrtc.TrackLocalWriter {
	return gatedWriter{w: c.TrackLocalContext.WriteStream(), enabled: c.enabled}
}

type gatedWriter struct {
	w       webrtc.TrackLocalWriter
	enabled *atomic.Bool
}

func (g gatedWriter) WriteRTP(header *rtp.Header, payload []byte) (int, error) {
	if !g.enabled.Load() {
		return len(payload), nil
	}
	return g.w.WriteRTP(header, payload)
}

func (g gatedWriter) Write(b []byte) (int, error) {
	if !g.enabled.Load() {
		return len(b), nil
	}
	return g.w.Write(b)
}
