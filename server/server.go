// Package server exposes editing sessions over HTTP for the record
// management web app: open a document from a signed URL, mutate its
// annotations, render pages, and download the flattened result.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/tablekit/pdfedit/measure"
	"github.com/tablekit/pdfedit/observability"
)

// Server holds the shared dependencies behind the HTTP handlers.
type Server struct {
	cfg      Config
	log      observability.Logger
	registry *Registry
	measurer *measure.Measurer
}

// New wires a Server from config.
func New(cfg Config, log observability.Logger) *Server {
	if log == nil {
		log = observability.NopLogger{}
	}
	return &Server{
		cfg:      cfg,
		log:      log,
		registry: NewRegistry(),
		measurer: measure.New(),
	}
}

// Close tears down all live sessions.
func (s *Server) Close() { s.registry.Close() }

// Router builds the HTTP handler with CORS applied.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"pdfedit"}`))
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleSessionStatus).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/tool", s.handleSetTool).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{id}/view", s.handleSetView).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{id}/pages/{page}/render", s.handleRenderPage).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/pages/{page}/text", s.handlePageText).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/annotations", s.handleAddAnnotation).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/annotations", s.handleListAnnotations).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/annotations/{annID}", s.handleUpdateAnnotation).Methods(http.MethodPatch)
	api.HandleFunc("/sessions/{id}/annotations/{annID}", s.handleRemoveAnnotation).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/undo", s.handleUndo).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/redo", s.handleRedo).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/clear", s.handleClear).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/signature-fields", s.handleSignatureFields).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/save", s.handleSave).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return c.Handler(r)
}
