package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/example/leadshop/internal/api/middleware"
	"github.com/example/leadshop/internal/auth"
)

func NewRouter(handlers *Handlers, admin *AdminHandlers, jwtService *auth.JWTService) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", handlers.Healthz)
	r.Post("/ipn", handlers.HandleIPN)
	r.Post("/telegram/webhook/{secret}", handlers.HandleTelegramWebhook)

	r.Route("/admin", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Authorization"},
			AllowCredentials: true,
		}))

		r.Post("/login", admin.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(jwtService))
			r.Use(middleware.RequireRole("admin"))

			r.Get("/orders", admin.ListOrders)
			r.Get("/alerts", admin.ListAlerts)
		})
	})

	return r
}
