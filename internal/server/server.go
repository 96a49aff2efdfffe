// Package server exposes the engine over HTTP with huma on a chi router.
package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"examline/internal/engine"
)

const (
	DefaultBasePath = "/v1"

	defaultLimit = 50
	maxLimit     = 200
)

type Config struct {
	Engine   engine.Engine
	BasePath string
	// Metrics, when set, is mounted at /metrics outside the base path.
	Metrics http.Handler
}

// New returns an HTTP handler exposing the Examline API.
func New(cfg Config) (http.Handler, error) {
	basePath := "/" + strings.Trim(cfg.BasePath, "/")
	if basePath == "/" {
		basePath = DefaultBasePath
	}
	installErrorEnvelope()

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Examline API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group, cfg.Engine)
	registerJobs(group, cfg.Engine)
	registerWorkers(group, cfg.Engine)
	registerItems(group, cfg.Engine)
	registerAllocation(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	mountDocs(router, api, basePath)
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics)
	}
	return router, nil
}

// registerHealth reports ok when the database answers a ping.
func registerHealth(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*response[map[string]string], error) {
		if eng.DB != nil {
			if err := eng.DB.PingContext(ctx); err != nil {
				return nil, newAPIError(http.StatusServiceUnavailable, "unavailable", "database unavailable", map[string]any{"error": err.Error()})
			}
		}
		return respond(map[string]string{"status": "ok", "database": "ok"}), nil
	})
}

func actorOr(actorID, fallback string) string {
	if strings.TrimSpace(actorID) == "" {
		return fallback
	}
	return actorID
}

func normalizeLimit(in int) int {
	switch {
	case in <= 0:
		return defaultLimit
	case in > maxLimit:
		return maxLimit
	}
	return in
}
