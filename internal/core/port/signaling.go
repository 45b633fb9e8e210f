package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// Signaling is the only surface the engine needs from the realtime transport.
type Signaling interface {
	Send(ctx context.Context, event string, payload any) error
	// Subscribe returns inbound envelopes in arrival order. cancel releases
	// the subscription and closes the channel.
	Subscribe() (ch <-chan domain.Envelope, cancel func())
}
