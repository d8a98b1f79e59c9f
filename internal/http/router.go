package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/micro-ha/hive-bridge/internal/http/handlers"
)

// NewRouter builds the HTTP routing tree. events serves the websocket
// notification stream.
func NewRouter(api *handlers.API, events http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecoverJSON(api))
	r.Use(StripIngressPrefix)
	r.Use(RequestLogger(api))

	r.Get("/healthz", api.Health)
	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Get("/events", events.ServeHTTP)

		apiRouter.Group(func(rest chi.Router) {
			rest.Use(middleware.Timeout(45 * time.Second))

			rest.Post("/setup/login", api.SetupLogin)
			rest.Post("/setup/challenge", api.SetupChallenge)
			rest.Post("/setup/device", api.SetupDevice)

			rest.Get("/session", api.GetSession)
			rest.Put("/options", api.PutOptions)
			rest.Post("/refresh", api.Refresh)

			rest.Get("/devices", api.ListDevices)
			rest.Get("/devices/{id}", func(w http.ResponseWriter, r *http.Request) {
				api.GetDevice(w, r, chi.URLParam(r, "id"))
			})

			rest.Get("/entities", api.ListEntities)
			rest.Get("/entities/{entityID}", func(w http.ResponseWriter, r *http.Request) {
				api.GetEntity(w, r, chi.URLParam(r, "entityID"))
			})
			rest.Post("/entities/{entityID}/commands/{command}", func(w http.ResponseWriter, r *http.Request) {
				api.ExecuteCommand(w, r, chi.URLParam(r, "entityID"), chi.URLParam(r, "command"))
			})

			rest.Post("/services/boost_heating", api.BoostHeating)
			rest.Post("/services/boost_hot_water", api.BoostHotWater)
		})
	})
	return r
}

// RunServer starts and gracefully stops HTTP server with context cancellation.
func RunServer(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
