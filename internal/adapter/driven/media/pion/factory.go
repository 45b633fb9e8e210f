package pion

import (
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type options struct {
	setup        func(*webrtc.MediaEngine) error
	disconnected time.Duration
	failed       time.Duration
	keepAlive    time.Duration
}

type Option func(*options)

// WithMediaEngineSetup replaces the default codec registration, e.g. with a
// capture codec selector's Populate.
func WithMediaEngineSetup(fn func(*webrtc.MediaEngine) error) Option {
	return func(o *options) { o.setup = fn }
}

func WithICETimeouts(disconnected, failed, keepAlive time.Duration) Option {
	return func(o *options) {
		o.disconnected = disconnected
		o.failed = failed
		o.keepAlive = keepAlive
	}
}

// Factory creates pion peer connections. It implements
// port.PeerConnectionFactory.
type Factory struct {
	api *webrtc.API
}

func NewFactory(opts ...Option) (*Factory, error) {
	o := options{
		setup:        func(m *webrtc.MediaEngine) error { return m.RegisterDefaultCodecs() },
		disconnected: 30 * time.Second,
		failed:       120 * time.Second,
		keepAlive:    2 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := &webrtc.MediaEngine{}
	if err := o.setup(m); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(o.disconnected, o.failed, o.keepAlive)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)
	return &Factory{api: api}, nil
}

func (f *Factory) NewPeerConnection(cfg domain.ICEConfiguration) (port.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(configuration(cfg))
	if err != nil {
		return nil, err
	}

	// Receive audio and video even when nothing is sent yet. AddTrack reuses
	// these transceivers.
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			if closeErr := pc.Close(); closeErr != nil {
				log.Warn().Err(closeErr).Msg("Failed to close rejected peer connection")
			}
			return nil, err
		}
	}
	return newPeerConnection(pc), nil
}

func configuration(cfg domain.ICEConfiguration) webrtc.Configuration {
	c := webrtc.Configuration{ICECandidatePoolSize: cfg.CandidatePool}
	for _, s := range cfg.Servers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		c.ICEServers = append(c.ICEServers, server)
	}
	if cfg.RelayOnly {
		c.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}
	return c
}
