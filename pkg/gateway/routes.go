package gateway

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (g *Gateway) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(g.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// websocket connections outlive the request timeout
	r.Get("/v1/events/{tenant}/ws", g.subscribeHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(g.cfg.RequestTimeout))

		r.Get("/v1/health", g.healthHandler)
		r.Post("/v1/events/{tenant}", g.emitHandler)

		r.Put("/v1/blobs/{tenant}/{recordId}/{dataCid}", g.putBlobHandler)
		r.Get("/v1/blobs/{tenant}/{recordId}/{dataCid}", g.getBlobHandler)
		r.Delete("/v1/blobs/{tenant}/{recordId}/{dataCid}", g.deleteBlobHandler)
		r.Delete("/v1/blobs", g.clearBlobsHandler)
	})

	return r
}
