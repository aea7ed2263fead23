package server

import (
	"context"
	"net/http"
	"time"
)

// RouteRegistrar mounts one ops concern (health, metrics, pprof) on a router.
type RouteRegistrar interface {
	RegisterRoutes(router Router)
}

// App is the ops HTTP server running beside the station listeners.
type App struct {
	router     Router
	registrars []RouteRegistrar
	server     *http.Server
}

func NewApp(router Router, addr string, registrars ...RouteRegistrar) *App {
	return &App{
		router:     router,
		registrars: registrars,
		server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// SetupRoutes must run before Start.
func (a *App) SetupRoutes() {
	for _, r := range a.registrars {
		r.RegisterRoutes(a.router)
	}
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// Start blocks until the server fails or Shutdown is called, in which case it
// returns http.ErrServerClosed.
func (a *App) Start() error {
	return a.server.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}
