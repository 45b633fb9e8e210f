package http

import (
	"context"
	"net/http"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Calls is the call engine surface the UI drives.
type Calls interface {
	Initiate(ctx context.Context, peer domain.Participant, typ domain.CallType, opts ...service.CallOption) error
	InitiateGroup(ctx context.Context, members []domain.Participant, typ domain.CallType, opts ...service.CallOption) error
	Answer(ctx context.Context, opts ...service.CallOption) error
	Reject(ctx context.Context) error
	End(ctx context.Context, reason domain.EndReason) error
	ToggleMute(ctx context.Context) (bool, error)
	Snapshot(ctx context.Context) (domain.Session, error)
	EnableVideo(ctx context.Context) error
	DisableVideo(ctx context.Context) error
	StartScreenShare(ctx context.Context) error
	StopScreenShare(ctx context.Context) error
}

// Notices registers UI clients for call notices.
type Notices interface {
	Join(c port.Client)
	Leave(c port.Client)
}

type Handler struct {
	Calls     Calls
	Notices   Notices
	StaticDir string
}

func NewHandler(calls Calls, notices Notices, staticDir string) *Handler {
	return &Handler{
		Calls:     calls,
		Notices:   notices,
		StaticDir: staticDir,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api/call", func(r chi.Router) {
		r.Get("/", h.GetCall)
		r.Post("/", h.InitiateCall)
		r.Post("/answer", h.AnswerCall)
		r.Post("/reject", h.RejectCall)
		r.Post("/end", h.EndCall)
		r.Post("/mute", h.ToggleMute)
		r.Post("/video", h.EnableVideo)
		r.Delete("/video", h.DisableVideo)
		r.Post("/screen", h.StartScreenShare)
		r.Delete("/screen", h.StopScreenShare)
	})

	r.Get("/ws", h.ServeWS)

	if h.StaticDir != "" {
		fs := http.FileServer(http.Dir(h.StaticDir))
		r.Handle("/*", fs)
	}

	return r
}
