package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"cardforge/internal/http/handlers"
	"cardforge/internal/infra"
	"cardforge/internal/middleware"
)

// Options configures router construction.
type Options struct {
	// StaticDir, when set, serves overlaid panel images under /static.
	StaticDir     string
	DefaultLocale string
}

func NewRouter(app *handlers.App, logger infra.Logger, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Locale(opts.DefaultLocale))

	r.Get("/healthz", app.Health)

	r.Route("/api/cards", func(r chi.Router) {
		r.Post("/drafts", app.DraftsCreate)
		r.Post("/drafts/{slot}/promote", app.DraftPromote)
		r.Post("/generate", app.Generate)
		r.Get("/state", app.State)
		r.Get("/events", app.Events)
		r.Get("/download", app.Download)
	})

	if opts.StaticDir != "" {
		fs := stdhttp.StripPrefix("/static/", stdhttp.FileServer(stdhttp.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}
