package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"medsim-backend/internal/handlers"
	"medsim-backend/internal/middleware"
	"medsim-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	authHandler *handlers.AuthHandler,
	scenarioHandler *handlers.ScenarioHandler,
	sessionHandler *handlers.SessionHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Auth rate limiter (10 req/min per IP)
	authLimiter := middleware.NewRateLimiter(10, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Auth Routes (public) ────
		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimiter.Middleware)
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)

			// Logout requires auth
			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Post("/logout", authHandler.Logout)
			})
		})

		// ──── Scenario Routes ────
		r.Route("/scenarios", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", scenarioHandler.List)
			r.Get("/{id}", scenarioHandler.Get)
		})

		// ──── Session Routes ────
		r.Route("/sessions", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/start", sessionHandler.Start)
			r.Get("/{id}", sessionHandler.Get)
			r.Post("/{id}/fast-forward", sessionHandler.FastForward)
			r.Post("/{id}/pause", sessionHandler.Pause)
			r.Post("/{id}/resume", sessionHandler.Resume)
			r.Post("/{id}/complete", sessionHandler.Complete)
			r.Post("/{id}/events/{eventID}/acknowledge", sessionHandler.AcknowledgeEvent)
			r.Post("/{id}/questions", sessionHandler.AskQuestion)
			r.Post("/{id}/actions", sessionHandler.PerformAction)
		})

		// ──── WebSocket ────
		r.Get("/ws/sessions/{id}", wsHub.HandleWebSocket)
	})

	return r
}
