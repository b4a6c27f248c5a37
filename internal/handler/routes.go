package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/presence"
	"github.com/chatsync/internal/service"
	"github.com/chatsync/internal/storage"
	"github.com/chatsync/internal/ws"
)

type Handlers struct {
	Messages  *MessageHandler
	Reactions *ReactionHandler
	Pins      *PinHandler
	Presence  *PresenceHandler
	Directory *DirectoryHandler
	Config    *ConfigHandler
	WS        *WSHandler
}

func New(cfg *config.Config, svc service.Services, registry *presence.Registry, dir storage.DirectoryAdmin, hub *ws.Hub) Handlers {
	return Handlers{
		Messages:  NewMessageHandler(svc.Messages),
		Reactions: NewReactionHandler(svc.Reactions),
		Pins:      NewPinHandler(svc.Pins),
		Presence:  NewPresenceHandler(registry),
		Directory: NewDirectoryHandler(dir, registry),
		Config:    NewConfigHandler(cfg),
		WS:        NewWSHandler(hub, cfg.CORSAllowedOrigins),
	}
}

// Guards: мидлвари групп маршрутов. Nil: пропустить.
type Guards struct {
	// Identity кладёт user_id в контекст (TrustedUser, SignedUser, AuthServiceValidate).
	Identity func(http.Handler) http.Handler
	// RateLimit идёт после Identity, чтобы считать и по пользователю.
	RateLimit func(http.Handler) http.Handler
	// Internal закрывает служебные ручки справочника.
	Internal func(http.Handler) http.Handler
}

func use(r chi.Router, mws ...func(http.Handler) http.Handler) {
	for _, mw := range mws {
		if mw != nil {
			r.Use(mw)
		}
	}
}

// Mount регистрирует REST и WebSocket маршруты.
func (h Handlers) Mount(r chi.Router, g Guards) {
	r.Get("/api/config/sync", h.Config.GetSyncConfig)

	r.Group(func(r chi.Router) {
		use(r, g.Identity, g.RateLimit)
		r.Post("/api/messages", h.Messages.Create)
		r.Get("/api/messages", h.Messages.List)
		r.Put("/api/message/{id}/edit", h.Messages.Edit)
		r.Put("/api/message/{id}/delete", h.Messages.Delete)
		r.Put("/api/message/{id}/undo", h.Messages.Undo)
		r.Get("/api/message/{id}/history", h.Messages.History)
		r.Post("/api/seen", h.Messages.Seen)

		r.Post("/api/reaction", h.Reactions.Toggle)
		r.Get("/api/message/{id}/reactions", h.Reactions.List)

		r.Post("/api/pin", h.Pins.Pin)
		r.Post("/api/pin/replace", h.Pins.Replace)
		r.Post("/api/unpin", h.Pins.Unpin)
		r.Get("/api/pins", h.Pins.List)

		r.Get("/api/presence", h.Presence.Snapshot)
		r.Get("/api/users/{id}", h.Directory.GetUser)
		r.Get("/ws", h.WS.ServeWS)
	})

	r.Group(func(r chi.Router) {
		use(r, g.Internal)
		r.Put("/api/users/{id}", h.Directory.UpsertUser)
		r.Post("/api/groups/{id}/members", h.Directory.AddMember)
		r.Delete("/api/groups/{id}/members/{userId}", h.Directory.RemoveMember)
	})
}
