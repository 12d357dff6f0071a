package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexedwards/scs/mysqlstore"
	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"

	"go-wiki-engine/internal/auth"
	"go-wiki-engine/internal/cache"
	"go-wiki-engine/internal/config"
	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/handler"
	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/middleware"
	"go-wiki-engine/internal/plugin"
	"go-wiki-engine/internal/render"
	"go-wiki-engine/internal/view"
	"go-wiki-engine/internal/wiki"
	"go-wiki-engine/web"
)

func main() {
	// --- Configuration Loading ---
	cfg, err := config.LoadConfig()
	if err != nil {
		// Use fmt.Printf here because the logger is not yet initialized.
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Initialization ---
	log := logger.New(cfg.Log)

	// --- Database Initialization and Migration ---
	log.Info("Applying database migrations...")
	if err := data.ApplyMigrations(cfg.DB.Driver, cfg.DB.DSN, "migrations"); err != nil {
		log.Fatal(err, "Failed to apply migrations")
	}
	log.Info("Migrations applied successfully.")

	log.Info("Connecting to the database...")
	db, err := data.NewDB(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()
	log.Info("Database connection successful.")

	// --- Session Management Setup ---
	sessionManager := scs.New()
	switch cfg.DB.Driver {
	case "mysql":
		sessionManager.Store = mysqlstore.New(db.DB)
	default:
		sessionManager.Store = sqlite3store.New(db.DB)
	}
	sessionManager.Lifetime = time.Duration(cfg.Session.Lifetime) * time.Hour
	sessionManager.Cookie.Persist = true
	sessionManager.Cookie.SameSite = http.SameSiteLaxMode
	sessionManager.Cookie.Secure = cfg.Server.TLS.Enabled

	// --- Authentication and Authorization Setup ---
	log.Info("Initializing authentication and authorization...")
	authenticator, err := auth.NewAuthenticator(&cfg.OIDC)
	if err != nil {
		log.Fatal(err, "Failed to initialize authenticator")
	}
	enforcer, err := auth.NewEnforcer(cfg.DB.Driver, cfg.DB.DSN, "auth_model.conf")
	if err != nil {
		log.Fatal(err, "Failed to initialize enforcer")
	}
	auth.SeedDefaultPolicies(enforcer, log)
	capabilities := auth.NewChecker(enforcer)
	log.Info("Auth components initialized and policies seeded.")

	// --- View Template Initialization ---
	log.Info("Initializing view templates...")
	viewService, err := view.New(web.TemplateFS)
	if err != nil {
		log.Fatal(err, "Failed to initialize view templates")
	}
	log.Info("View templates initialized.")

	// --- Plugin Registry and Renderer ---
	registry := plugin.NewRegistry()
	renderer := render.New(registry)

	// --- Cache Initialization ---
	log.Info("Initializing SQLite cache...")
	contentStore, err := cache.New(cfg.Cache)
	if err != nil {
		log.Fatal(err, "Failed to initialize cache")
	}
	defer contentStore.Close()
	log.Info("Cache initialized.")

	// --- Dependency Injection and Handler Initialization ---
	// Initialize the application layers, injecting dependencies from top to bottom.
	articleRepository := data.NewSQLArticleRepository(db)
	pathRepository := data.NewSQLPathRepository(db)
	pluginRepository := data.NewSQLPluginRepository(db)

	renderCache := wiki.NewRenderCache(contentStore, renderer, pathRepository,
		cfg.Wiki.Site, time.Duration(cfg.Cache.TTLSeconds)*time.Second, log)
	relations := wiki.NewRelationRegistry()
	permissionService := wiki.NewPermissionService(capabilities, articleRepository, pathRepository, relations, renderCache, log)
	articleService := wiki.NewArticleService(articleRepository, pluginRepository, permissionService, renderCache, cfg.Wiki, log)
	treeService := wiki.NewTreeService(pathRepository, articleRepository, articleService, permissionService, renderCache, cfg.Wiki, log)

	// Make sure the site is usable on first start.
	if _, err := treeService.CreateRoot(context.Background(), "Home", "Welcome to the wiki.\n", wiki.Principal{}); err != nil {
		log.Fatal(err, "Failed to ensure wiki root")
	}

	pageHandler := handler.NewPageHandler(articleService, treeService, permissionService, renderCache, registry, viewService, log)
	authHandler := handler.NewAuthHandler(authenticator, sessionManager)
	seoHandler := handler.NewSeoHandler(treeService, baseURL(cfg))

	authzMiddleware := middleware.Authorizer(enforcer, sessionManager)
	errorMiddleware := middleware.Error(log, viewService)

	// --- Router Setup ---
	// The router is the central hub that directs incoming requests to the correct handlers.
	staticFS, err := fs.Sub(web.StaticFS, "static")
	if err != nil {
		log.Fatal(err, "Failed to mount static assets")
	}
	router := handler.NewRouter(pageHandler, authHandler, seoHandler, staticFS, authzMiddleware, errorMiddleware, sessionManager)

	// --- Server Initialization and Graceful Shutdown ---
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}
	go func() {
		if cfg.Server.TLS.Enabled {
			log.Info(fmt.Sprintf("Starting HTTPS server on %s", server.Addr))
			if err := server.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal(err, "Could not start HTTPS server")
			}
		} else {
			log.Info(fmt.Sprintf("Starting HTTP server on %s", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal(err, "Could not start HTTP server")
			}
		}
	}()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Warn("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal(err, "Server forced to shutdown")
	}
	log.Info("Server exiting")
}

func baseURL(cfg *config.Config) string {
	scheme := "http"
	if cfg.Server.TLS.Enabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://localhost:%s", scheme, cfg.Server.Port)
}
