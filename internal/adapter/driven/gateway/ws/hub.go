package ws

import (
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/rs/zerolog/log"
)

const subscriberBuffer = 256

// Hub fans inbound envelopes out to every subscriber, in arrival order.
type Hub struct {
	subscribers map[chan domain.Envelope]bool
	broadcast   chan domain.Envelope
	register    chan chan domain.Envelope
	unregister  chan chan domain.Envelope
	quit        chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[chan domain.Envelope]bool),
		broadcast:   make(chan domain.Envelope),
		register:    make(chan chan domain.Envelope),
		unregister:  make(chan chan domain.Envelope),
		quit:        make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			for sub := range h.subscribers {
				close(sub)
				delete(h.subscribers, sub)
			}
			return

		case sub := <-h.register:
			h.subscribers[sub] = true
			log.Debug().Int("count", len(h.subscribers)).Msg("Signaling subscriber registered")

		case sub := <-h.unregister:
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub)
				log.Debug().Int("count", len(h.subscribers)).Msg("Signaling subscriber unregistered")
			}

		case env := <-h.broadcast:
			for sub := range h.subscribers {
				select {
				case sub <- env:
				default:
					log.Warn().
						Str("event", env.Event).
						Str("call_id", env.CallID().String()).
						Str("from", env.From.String()).
						Msg("Subscriber channel full, dropping envelope")
				}
			}
		}
	}
}

// Subscribe registers a new subscriber. cancel is safe to call more than
// once.
func (h *Hub) Subscribe() (<-chan domain.Envelope, func()) {
	sub := make(chan domain.Envelope, subscriberBuffer)
	select {
	case h.register <- sub:
	case <-h.quit:
		close(sub)
		return sub, func() {}
	}
	return sub, func() {
		select {
		case h.unregister <- sub:
		case <-h.quit:
		}
	}
}

func (h *Hub) Broadcast(env domain.Envelope) {
	select {
	case h.broadcast <- env:
	case <-h.quit:
	}
}

func (h *Hub) Stop() {
	close(h.quit)
}
