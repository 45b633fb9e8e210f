package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/rs/zerolog/log"
)

// Directory is an in-memory contact list. With no contacts configured every
// user is considered reachable and the backend decides.
type Directory struct {
	mu       sync.RWMutex
	contacts map[domain.UserID]bool
	offline  map[domain.UserID]bool
}

func NewDirectory(contacts ...domain.UserID) *Directory {
	d := &Directory{
		contacts: make(map[domain.UserID]bool),
		offline:  make(map[domain.UserID]bool),
	}
	for _, id := range contacts {
		d.contacts[id] = true
	}
	return d
}

func (d *Directory) Reachable(ctx context.Context, id domain.UserID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: empty user id", domain.ErrUnreachable)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.contacts) > 0 && !d.contacts[id] {
		return fmt.Errorf("%w: %s is not a contact", domain.ErrUnreachable, id)
	}
	if d.offline[id] {
		return fmt.Errorf("%w: %s is offline", domain.ErrUnreachable, id)
	}
	return nil
}

// SetOnline records presence reported by the backend.
func (d *Directory) SetOnline(id domain.UserID, online bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if online {
		delete(d.offline, id)
	} else {
		d.offline[id] = true
	}
	log.Debug().Str("user_id", id.String()).Bool("online", online).Msg("Presence updated")
}

// Follow applies presence:update envelopes until the channel closes or ctx
// ends.
func (d *Directory) Follow(ctx context.Context, envelopes <-chan domain.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-envelopes:
			if !ok {
				return
			}
			if env.Event != domain.EventPresence {
				continue
			}
			var p domain.PresencePayload
			if err := env.Decode(&p); err != nil || p.UserID == "" {
				log.Warn().Err(err).Msg("Malformed presence update")
				continue
			}
			d.SetOnline(p.UserID, p.Online)
		}
	}
}
