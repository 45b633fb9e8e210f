package port

import "github.com/Wyydra/yacall/internal/core/domain"

// Client is a UI subscriber that receives call notices.
type Client interface {
	ID() string
	SendNotice(n domain.Notice) error
	Close() error
}

// Notifier delivers engine notices to whoever renders the call.
type Notifier interface {
	Publish(n domain.Notice)
}
