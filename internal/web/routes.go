package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/photo-finder/internal/web/handlers"
	"github.com/kozaktomas/photo-finder/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	authHandler := handlers.NewAuthHandler(s.services.Auth)
	imagesHandler := handlers.NewImagesHandler(s.services.Images)
	searchHandler := handlers.NewSearchHandler(s.services.Search)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		r.Post("/auth/register", authHandler.Register)
		r.With(s.loginLimits.Middleware).Post("/auth/login", authHandler.Login)

		r.Post("/search", searchHandler.Search)
		r.Get("/images/{id}", imagesHandler.Get)

		// Uploads are attributed to the token's subject
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.services.Auth.Tokens()))
			r.Post("/images", imagesHandler.Upload)
		})
	})
}
