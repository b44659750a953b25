package server

import (
	"github.com/go-chi/chi/v5"
)

// GeneratePath is the streaming generation endpoint.
const GeneratePath = "/api/generate"

func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)
	r.Post(GeneratePath, s.generate)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)

			r.Get("/messages", s.listMessages)
			r.Post("/messages", s.addMessage)
			r.Patch("/messages/{messageID}", s.updateMessage)
			r.Delete("/messages/{messageID}", s.deleteMessage)
		})
	})

	r.Get("/api/events", s.streamEvents)
}
