package handler

import (
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"go-wiki-engine/internal/middleware"
	"go-wiki-engine/internal/session"
)

// NewRouter creates and configures a new chi router.
func NewRouter(pageHandler *PageHandler, authHandler *AuthHandler, seoHandler *SeoHandler, staticFS fs.FS, authzMiddleware func(http.Handler) http.Handler, errWrap func(middleware.AppHandler) http.Handler, sessions session.Manager) *chi.Mux {
	r := chi.NewRouter()

	// A good base middleware stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(sessions.LoadAndSave)

	// Public routes
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/wiki/", http.StatusFound)
	})
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	r.Get("/robots.txt", seoHandler.robotsHandler)
	r.Get("/sitemap.xml", seoHandler.sitemapHandler)

	// Authentication routes
	r.Get("/auth/login", authHandler.handleLogin)
	r.Get("/auth/callback", authHandler.handleCallback)
	r.Get("/auth/logout", authHandler.handleLogout)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authzMiddleware)

		r.Method(http.MethodGet, "/wiki/*", errWrap(pageHandler.viewArticle))

		r.Method(http.MethodGet, "/_create/{nodeID}", errWrap(pageHandler.createForm))
		r.Method(http.MethodPost, "/_create/{nodeID}", errWrap(pageHandler.createSave))
		r.Method(http.MethodGet, "/_edit/{articleID}", errWrap(pageHandler.editForm))
		r.Method(http.MethodPost, "/_edit/{articleID}", errWrap(pageHandler.editSave))
		r.Method(http.MethodGet, "/_history/{articleID}", errWrap(pageHandler.historyHandler))
		r.Method(http.MethodPost, "/_rollback/{articleID}/{number}", errWrap(pageHandler.rollbackHandler))
		r.Method(http.MethodPost, "/_delete/{nodeID}", errWrap(pageHandler.deleteHandler))
		r.Method(http.MethodPost, "/_purge/{nodeID}", errWrap(pageHandler.purgeHandler))
		r.Method(http.MethodPost, "/_restore/{articleID}", errWrap(pageHandler.restoreHandler))
		r.Method(http.MethodGet, "/_move/{nodeID}", errWrap(pageHandler.moveForm))
		r.Method(http.MethodPost, "/_move/{nodeID}", errWrap(pageHandler.moveSave))
		r.Method(http.MethodGet, "/_settings/{articleID}", errWrap(pageHandler.settingsForm))
		r.Method(http.MethodPost, "/_settings/{articleID}", errWrap(pageHandler.settingsSave))
	})

	return r
}
