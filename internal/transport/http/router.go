package http

import (
	"net/http"
	"time"

	"github.com/classhub/chat-service/internal/auth"
	"github.com/classhub/chat-service/internal/service"
	httpmw "github.com/classhub/chat-service/internal/transport/http/middleware"
	"github.com/classhub/chat-service/internal/transport/ws"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler, verifier auth.Verifier, memberSvc *service.MemberService, wsServer *ws.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middlewareChi.RequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)

	// WS endpoint: credential проверяется в самом HandleWS
	r.Get("/ws", wsServer.HandleWS)

	r.Group(func(pr chi.Router) {
		pr.Use(httpmw.AuthMiddleware(verifier))
		pr.Use(httpmw.LastSeenMiddleware(memberSvc))
		pr.Use(middlewareChi.Timeout(30 * time.Second))

		pr.Route("/rooms/{id}", func(rr chi.Router) {
			rr.Get("/", h.GetRoom)
			rr.Get("/messages", h.GetHistory)
			rr.Get("/unread", h.GetUnread)
			rr.Get("/members", h.GetMembers)
		})
	})

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
