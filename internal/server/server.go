// Package server implements the Rupee HTTP API on a chi router with huma
// operations for the JSON endpoints.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rupee/rupee/internal/blob"
	"github.com/rupee/rupee/internal/config"
	apierr "github.com/rupee/rupee/internal/errors"
	"github.com/rupee/rupee/internal/service"
)

// DigestHeader carries the payload digest on blob reads.
const DigestHeader = "X-Rupee-Digest"

// Server is the Rupee HTTP server.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	svc        *service.Service
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

type PingBody struct {
	Pong bool `json:"pong" doc:"True when the metadata store answered"`
}

type PingOutput struct {
	Body PingBody
}

// BlobIDInput selects a blob by path parameter.
type BlobIDInput struct {
	ID string `path:"id" doc:"Blob id (UUID)"`
}

// BlobDescription is the JSON view of a stored blob.
type BlobDescription struct {
	ID     uuid.UUID `json:"id" doc:"Blob id"`
	Size   int64     `json:"size" doc:"Payload size in bytes"`
	Digest string    `json:"digest,omitempty" doc:"Payload digest in hex"`
	Refs   blob.Refs `json:"refs" doc:"Reference per backend name"`
}

type DescribeOutput struct {
	Body BlobDescription
}

// New creates a Server around svc and registers every route.
func New(cfg *config.Config, svc *service.Service) *Server {
	router := chi.NewMux()
	router.Use(middleware.Recoverer)

	humaConfig := huma.DefaultConfig("Rupee Blob API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:    cfg,
		router: router,
		api:    api,
		svc:    svc,
	}
	s.registerRoutes()
	return s
}

// Handler returns the router wrapped in the middleware chain:
// metricsMiddleware -> commonHeaders -> requestLogger -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = requestLogger(handler)
	handler = commonHeaders(handler)
	if s.cfg.Observability.Metrics {
		handler = metricsMiddleware(handler)
	}
	return handler
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-ping",
		Method:      http.MethodGet,
		Path:        "/ping",
		Summary:     "Metadata store reachability",
		Tags:        []string{"System"},
	}, s.ping)

	huma.Register(s.api, huma.Operation{
		OperationID: "describe-blob",
		Method:      http.MethodGet,
		Path:        "/blobs/{id}/meta",
		Summary:     "Blob metadata and references",
		Tags:        []string{"Blobs"},
	}, s.describeBlob)

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-blob",
		Method:        http.MethodDelete,
		Path:          "/blobs/{id}",
		Summary:       "Delete a blob",
		Description:   "Removes the metadata record. Append-only backends keep the bytes.",
		Tags:          []string{"Blobs"},
		DefaultStatus: http.StatusNoContent,
	}, s.deleteBlob)

	// Raw payload endpoints bypass huma body handling.
	s.router.Post("/blobs", s.putBlob)
	s.router.Get("/blobs/{id}", s.getBlob)

	if s.cfg.Observability.Metrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}
}

func parseID(raw string) (uuid.UUID, *apierr.APIError) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apierr.ErrInvalidBlobID.WithMessage("Invalid blob id " + strconv.Quote(raw))
	}
	return id, nil
}

func (s *Server) ping(ctx context.Context, _ *struct{}) (*PingOutput, error) {
	if err := s.svc.Ping(ctx); err != nil {
		logError(ctx, "Ping failed", err)
		return nil, apierr.ErrInternalError.WithMessage("Metadata store unreachable")
	}
	return &PingOutput{Body: PingBody{Pong: true}}, nil
}

func (s *Server) describeBlob(ctx context.Context, input *BlobIDInput) (*DescribeOutput, error) {
	id, apiErr := parseID(input.ID)
	if apiErr != nil {
		return nil, apiErr
	}
	m, refs, err := s.svc.Describe(ctx, id)
	if err != nil {
		logError(ctx, "Describe failed", err, "id", id)
		return nil, apierr.FromError(err)
	}
	return &DescribeOutput{Body: BlobDescription{ID: m.ID, Size: m.Size, Refs: refs}}, nil
}

func (s *Server) deleteBlob(ctx context.Context, input *BlobIDInput) (*struct{}, error) {
	id, apiErr := parseID(input.ID)
	if apiErr != nil {
		return nil, apiErr
	}
	if err := s.svc.Remove(ctx, id); err != nil {
		logError(ctx, "Delete failed", err, "id", id)
		return nil, apierr.FromError(err)
	}
	return nil, nil
}

func (s *Server) putBlob(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Server.MaxBlobSize
	if r.ContentLength > maxSize {
		apierr.WriteJSON(w, apierr.ErrBlobTooLarge)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierr.WriteJSON(w, apierr.ErrBlobTooLarge)
			return
		}
		logError(r.Context(), "Reading blob body failed", err)
		apierr.WriteJSON(w, apierr.ErrInternalError)
		return
	}

	stored, err := s.svc.Store(r.Context(), data)
	if err != nil {
		logError(r.Context(), "Store failed", err, "size", len(data))
		apierr.WriteJSON(w, apierr.FromError(err))
		return
	}

	writeJSON(w, http.StatusCreated, BlobDescription{
		ID:     stored.Meta.ID,
		Size:   stored.Meta.Size,
		Digest: stored.Digest,
		Refs:   stored.Refs,
	})
}

func (s *Server) getBlob(w http.ResponseWriter, r *http.Request) {
	id, apiErr := parseID(chi.URLParam(r, "id"))
	if apiErr != nil {
		apierr.WriteJSON(w, apiErr)
		return
	}

	loaded, err := s.svc.Load(r.Context(), id)
	if err != nil {
		logError(r.Context(), "Load failed", err, "id", id)
		apierr.WriteJSON(w, apierr.FromError(err))
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.Itoa(len(loaded.Data)))
	h.Set(DigestHeader, loaded.Digest)
	h.Set("X-Rupee-Backend", loaded.Backend)
	w.WriteHeader(http.StatusOK)
	w.Write(loaded.Data)
}
