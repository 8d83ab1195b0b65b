package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/susu3304/pokerdues/internal/config"
	"github.com/susu3304/pokerdues/internal/game"
)

type API struct {
	router    *mux.Router
	game      *game.Service
	bind      string
	jwtSecret []byte
}

func New(cfg *config.Config, svc *game.Service) *API {
	api := &API{
		router:    mux.NewRouter(),
		game:      svc,
		bind:      cfg.Web.Bind,
		jwtSecret: []byte(cfg.Web.JWTSecret),
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.router.HandleFunc("/healthz", a.handleHealth).Methods("GET")

	protected := a.router.PathPrefix("/api").Subrouter()
	protected.Use(a.authMiddleware)

	protected.HandleFunc("/game", a.handleGetGame).Methods("GET")
	protected.HandleFunc("/game/clear", a.handleClearGame).Methods("POST")

	protected.HandleFunc("/players", a.handleAddPlayer).Methods("POST")
	protected.HandleFunc("/players/{id}", a.handleUpdatePlayer).Methods("PUT")
	protected.HandleFunc("/players/{id}", a.handleRemovePlayer).Methods("DELETE")
	protected.HandleFunc("/players/{id}/amount", a.handleApplyAmount).Methods("POST")
	protected.HandleFunc("/players/{id}/history", a.handlePlayerHistory).Methods("GET")

	protected.HandleFunc("/settle", a.handleSettle).Methods("POST")

	protected.HandleFunc("/stats", a.handleStats).Methods("GET")
	protected.HandleFunc("/stats", a.handleClearStats).Methods("DELETE")
	protected.HandleFunc("/stats/summary", a.handleStatSummary).Methods("GET")
	protected.HandleFunc("/stats/export", a.handleStatsExport).Methods("GET")
}

// Handler returns the router wrapped with CORS.
func (a *API) Handler() http.Handler {
	// wildcard origin, so no credentials
	corsOptions := cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}
	return cors.New(corsOptions).Handler(a.router)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (a *API) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.bind,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("API server listening on http://%s", a.bind)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
