package service

import (
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog/log"
)

type ICEConfig struct {
	STUN          []string
	TURN          []domain.ICEServer
	CandidatePool uint8

	// RelayOnly restricts the ladder to TURN relays. There is no fallback
	// that would gather host candidates.
	RelayOnly bool
}

// Connector builds peer connections. Some engines reject configuration
// shapes that others accept, so creation walks from the most featured
// configuration down to an empty server list.
type Connector struct {
	factory port.PeerConnectionFactory
	cfg     ICEConfig
}

func NewConnector(factory port.PeerConnectionFactory, cfg ICEConfig) *Connector {
	return &Connector{factory: factory, cfg: cfg}
}

// Ladder returns the configurations Create will try, in order.
func (c *Connector) Ladder() []domain.ICEConfiguration {
	if c.cfg.RelayOnly && len(c.cfg.TURN) > 0 {
		return []domain.ICEConfiguration{{
			Name:          "relay",
			Servers:       c.cfg.TURN,
			CandidatePool: c.cfg.CandidatePool,
			RelayOnly:     true,
		}}
	}

	var ladder []domain.ICEConfiguration

	var stun []domain.ICEServer
	if len(c.cfg.STUN) > 0 {
		stun = []domain.ICEServer{{URLs: c.cfg.STUN}}
	}

	if len(c.cfg.TURN) > 0 || c.cfg.CandidatePool > 0 {
		full := append(append([]domain.ICEServer{}, stun...), c.cfg.TURN...)
		ladder = append(ladder, domain.ICEConfiguration{
			Name:          "full",
			Servers:       full,
			CandidatePool: c.cfg.CandidatePool,
		})
	}
	if len(stun) > 0 {
		ladder = append(ladder, domain.ICEConfiguration{Name: "stun", Servers: stun})
	}
	if len(c.cfg.STUN) > 1 {
		ladder = append(ladder, domain.ICEConfiguration{
			Name:    "single-stun",
			Servers: []domain.ICEServer{{URLs: c.cfg.STUN[:1]}},
		})
	}
	return append(ladder, domain.ICEConfiguration{Name: "empty"})
}

// Create returns the first peer connection the factory accepts.
func (c *Connector) Create() (port.PeerConnection, domain.ICEConfiguration, error) {
	var lastErr error
	for _, cfg := range c.Ladder() {
		pc, err := c.factory.NewPeerConnection(cfg)
		if err == nil {
			log.Debug().Str("ice_config", cfg.Name).Msg("Peer connection created")
			return pc, cfg, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("ice_config", cfg.Name).
			Msg(domain.ErrConfigurationRejected.Error())
	}
	return nil, domain.ICEConfiguration{}, fmt.Errorf("%w: every ICE configuration failed: %w", domain.ErrUnsupported, lastErr)
}
