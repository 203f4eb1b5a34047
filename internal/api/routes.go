package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes configures the router.
func (s *Server) Routes(allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.ListRules)
			r.Post("/", s.CreateRule)
			r.Get("/{id}", s.GetRule)
			r.Put("/{id}", s.UpdateRule)
			r.Put("/{id}/status", s.UpdateRuleStatus)
			r.Delete("/{id}", s.DeleteRule)
		})

		r.Route("/sequences", func(r chi.Router) {
			r.Get("/", s.ListSequences)
			r.Post("/", s.CreateSequence)
			r.Get("/{id}", s.GetSequence)
			r.Put("/{id}/status", s.UpdateSequenceStatus)
			r.Delete("/{id}", s.DeleteSequence)
			r.Get("/{id}/steps", s.ListSteps)
			r.Post("/{id}/steps", s.CreateStep)
			r.Delete("/{id}/steps/{stepID}", s.DeleteStep)
			r.Post("/process", s.ProcessSequences)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.ListCampaigns)
			r.Post("/", s.CreateCampaign)
			r.Get("/{id}", s.GetCampaign)
			r.Post("/{id}/send", s.SendCampaign)
		})

		r.Post("/events", s.PublishEvent)

		r.Route("/messages", func(r chi.Router) {
			r.Post("/process", s.ProcessMessages)
			r.Post("/cancel", s.CancelMessages)
			r.Get("/stats", s.MessageStats)
		})
	})

	return r
}
