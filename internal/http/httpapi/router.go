package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"archivision/internal/http/handlers"
	"archivision/internal/middleware"
)

type Options struct {
	Logger             zerolog.Logger
	CORSAllowedOrigins []string
	// RateLimitPerMin bounds the actions that call the generation services.
	RateLimitPerMin int
	SecureCookies   bool
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
	)

	r.Get("/v1/healthz", app.Health)

	limit := middleware.RateLimit(opts.RateLimitPerMin, time.Minute)

	r.Group(func(r chi.Router) {
		r.Use(
			middleware.Session(opts.SecureCookies),
			middleware.Logger(opts.Logger),
		)

		r.Get("/", app.Index)
		r.Get("/images/{index}", app.Image)
		r.With(limit).Post("/design", app.SubmitForm)
		r.Post("/select", app.SelectForm)
		r.With(limit).Post("/regenerate", app.RegenerateForm)
		r.Post("/reset", app.ResetForm)

		r.Route("/v1", func(r chi.Router) {
			r.Use(middleware.CORS(opts.CORSAllowedOrigins))
			r.Get("/session", app.GetSession)
			r.Delete("/session", app.DeleteSession)
			r.With(limit).Post("/design", app.SubmitDesign)
			r.Post("/selection", app.SelectImage)
			r.Post("/prompt", app.EditPrompt)
			r.With(limit).Post("/regenerate", app.Regenerate)
		})
	})

	return r
}
