package service

import (
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog/log"
)

const noticeBuffer = 64

// NoticeService fans call notices out to every connected UI client.
// It implements port.Notifier.
type NoticeService struct {
	clients    map[port.Client]bool
	broadcast  chan domain.Notice
	register   chan port.Client
	unregister chan port.Client
	quit       chan struct{}
}

func NewNoticeService() *NoticeService {
	return &NoticeService{
		clients:    make(map[port.Client]bool),
		broadcast:  make(chan domain.Notice, noticeBuffer),
		register:   make(chan port.Client),
		unregister: make(chan port.Client),
		quit:       make(chan struct{}),
	}
}

func (s *NoticeService) Join(c port.Client) {
	select {
	case s.register <- c:
	case <-s.quit:
	}
}

func (s *NoticeService) Leave(c port.Client) {
	select {
	case s.unregister <- c:
	case <-s.quit:
	}
}

// Publish never blocks the call engine. Notices are dropped when the
// buffer is full.
func (s *NoticeService) Publish(n domain.Notice) {
	select {
	case s.broadcast <- n:
	default:
		log.Warn().Str("type", n.Type).Msg("Notice channel full, dropping notice")
	}
}

func (s *NoticeService) Stop() {
	close(s.quit)
}

func (s *NoticeService) Run() {
	for {
		select {
		case <-s.quit:
			log.Info().Msg("Stopping NoticeService. Disconnecting all clients.")
			for client := range s.clients {
				if err := client.Close(); err != nil {
					log.Error().Err(err).Str("client_id", client.ID()).Msg("Error closing client connection")
				}
				delete(s.clients, client)
			}
			return

		case client := <-s.register:
			s.clients[client] = true
			log.Info().Int("count", len(s.clients)).Str("client_id", client.ID()).Msg("UI client subscribed")

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				log.Info().Int("count", len(s.clients)).Str("client_id", client.ID()).Msg("UI client unsubscribed")
			}

		case notice := <-s.broadcast:
			log.Debug().Str("type", notice.Type).Str("call_id", notice.CallID.String()).Msg("Publishing notice")
			for client := range s.clients {
				if err := client.SendNotice(notice); err != nil {
					log.Error().Err(err).Str("client_id", client.ID()).Msg("Error sending notice")
					client.Close()
					delete(s.clients, client)
				}
			}
		}
	}
}
