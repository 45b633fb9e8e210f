package pion

import (
	"sync/atomic"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// silence is how long a remote track may go without packets before it is
// reported as muted.
const silence = 2 * time.Second

const pliInterval = 3 * time.Second

// remoteTrack consumes an inbound track. Rendering is someone else's job;
// the read loop only keeps the receiver drained and tracks liveness.
type remoteTrack struct {
	t *webrtc.TrackRemote

	lastPacket atomic.Int64
	enabled    atomic.Bool
	ended      atomic.Bool
}

func newRemoteTrack(t *webrtc.TrackRemote) *remoteTrack {
	r := &remoteTrack{t: t}
	r.enabled.Store(true)
	r.lastPacket.Store(time.Now().UnixNano())
	go r.read()
	return r
}

func (r *remoteTrack) read() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := r.t.Read(buf); err != nil {
			log.Debug().Err(err).Str("track_id", r.t.ID()).Msg("Remote track ended")
			r.ended.Store(true)
			return
		}
		r.lastPacket.Store(time.Now().UnixNano())
	}
}

func (r *remoteTrack) ID() string { return r.t.ID() }
func (r *remoteTrack) StreamID() string { return r.t.StreamID() }

func (r *remoteTrack) Kind() domain.MediaKind {
	if r.t.Kind() == webrtc.RTPCodecTypeAudio {
		return domain.KindAudio
	}
	return domain.KindVideo
}

func (r *remoteTrack) Enabled() bool { return r.enabled.Load() }
func (r *remoteTrack) SetEnabled(enabled bool) { r.enabled.Store(enabled) }

func (r *remoteTrack) Muted() bool {
	return time.Since(time.Unix(0, r.lastPacket.Load())) > silence
}

func (r *remoteTrack) ReadyState() domain.ReadyState {
	if r.ended.Load() {
		return domain.ReadyEnded
	}
	return domain.ReadyLive
}

// Stop marks the track ended. The read loop exits once the peer
// connection closes.
func (r *remoteTrack) Stop() {
	r.ended.Store(true)
}

// requestKeyframes sends a picture loss indication right away and then
// periodically, so a late-joining decoder gets a keyframe.
func requestKeyframes(pc *webrtc.PeerConnection, remote *webrtc.TrackRemote, t *remoteTrack) {
	sendPLI := func() error {
		return pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())},
		})
	}
	if err := sendPLI(); err != nil {
		return
	}

	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for range ticker.C {
		if t.ended.Load() {
			return
		}
		if err := sendPLI(); err != nil {
			return
		}
	}
}
