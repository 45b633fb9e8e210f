package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// Directory answers whether a participant exists and can be reached.
type Directory interface {
	Reachable(ctx context.Context, id domain.UserID) error
}
