package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nudge/internal/auth"
	"nudge/internal/config"
	"nudge/internal/http/handler"
)

func NewRouter(cfg config.Config, svc handler.Notifier, jwtSvc *auth.JWT) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(corsOptions(cfg)))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if svc.Available() {
			_, _ = w.Write([]byte("ok"))
			return
		}
		_, _ = w.Write([]byte("ok (notifications disabled)"))
	})
	r.Handle("/metrics", promhttp.Handler())

	nh := &handler.NotifyHandler{Svc: svc}
	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.RequireService(jwtSvc))

		r.Post("/schedules", nh.Schedule)
		r.Post("/transitions", nh.Transition)
		r.Delete("/jobs/{key}", nh.CancelJob)
	})

	return r
}

// corsOptions admits the admin console. Methods follow the /v1 routes, with
// DELETE for job cancellation; preflights carry the bearer token header.
func corsOptions(cfg config.Config) cors.Options {
	return cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type", chimw.RequestIDHeader},
		ExposedHeaders:   []string{chimw.RequestIDHeader},
		AllowCredentials: cfg.CORSAllowCredentials,
		MaxAge:           600,
	}
}
