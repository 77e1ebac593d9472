package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nadalpiantini/omnidrive/internal/log"
	"github.com/nadalpiantini/omnidrive/internal/metrics"
	"github.com/nadalpiantini/omnidrive/internal/pipelines"
	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/nadalpiantini/omnidrive/pkg/rag"
	"github.com/nadalpiantini/omnidrive/pkg/service"
)

// ServiceProvider resolves backend names. *cloud.Factory satisfies it.
type ServiceProvider interface {
	Available() []string
	CreateStored(name string) (cloud.Service, error)
}

// Searcher answers semantic queries. *rag.SemanticSearch satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, service string) ([]rag.Match, error)
}

// ServiceIndexer indexes the files of one backend.
type ServiceIndexer = pipelines.ServiceIndexer

// Server holds what the handlers need. Tokens, Search, Indexer, Hub and
// Metrics are optional; the matching routes answer 503 or are not mounted.
// GoogleKeyPath is where an uploaded service account key is written.
type Server struct {
	Engine        *service.Engine
	Services      ServiceProvider
	Tokens        TokenStore
	GoogleKeyPath string
	Search        Searcher
	Indexer       ServiceIndexer
	Hub           *Hub
	Metrics       *metrics.Metrics
	CORSOrigins   []string
	DefaultTopK   int
}

// Routes builds the API mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		if s.Metrics != nil {
			h = s.Metrics.Instrument(pattern, h)
		}
		mux.HandleFunc(pattern, h)
	}

	handle("/health", HealthHandler(s.Services))
	handle("/api/services", ServicesHandler(s.Services))
	handle("/api/auth/status", AuthStatusHandler(s.Services, s.Tokens))
	handle("/api/auth/google", GoogleAuthHandler(s.Services, s.Tokens, s.GoogleKeyPath))
	handle("/api/auth/folderfort", FolderfortAuthHandler(s.Services, s.Tokens))
	handle("/api/auth/logout", LogoutHandler(s.Tokens))
	handle("/api/files/{service}", FilesHandler(s.Services))
	handle("/api/files/{service}/folders", FoldersHandler(s.Services))
	handle("/api/files/{service}/{id}", FileHandler(s.Services))
	handle("/api/files/{service}/{id}/download", DownloadHandler(s.Services))
	handle("/api/compare", CompareHandler(s.Services))
	handle("/api/sync", SyncHandler(s.Engine, s.Services))
	handle("/api/sync/{job_id}", JobStatusHandler(s.Engine))
	handle("/api/search", SearchHandler(s.Search, s.DefaultTopK))
	handle("/api/search/index", IndexHandler(s.Engine, s.Services, s.Indexer))
	handle("/api/workflows", WorkflowsHandler(s.Engine))
	handle("/api/workflows/{name}/run", RunWorkflowHandler(s.Engine))
	handle("/api/workflows/{name}/status/{job_id}", WorkflowStatusHandler(s.Engine))
	handle("/api/jobs", JobsHandler(s.Engine))
	handle("/api/jobs/{job_id}", JobStatusHandler(s.Engine))

	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics.Handler())
	}
	if s.Hub != nil {
		mux.Handle("/ws", s.Hub)
	}
	return cors(s.CORSOrigins, mux)
}

// StartServer serves the API on port until ctx is cancelled, then shuts
// down gracefully within shutdownTimeout.
func StartServer(ctx context.Context, port int, s *Server, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.GetLogger().Infof("Starting OmniDrive API on :%d", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.GetLogger().Info("Shutting down OmniDrive API")
	if s.Hub != nil {
		s.Hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func cors(origins []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(origins, origin) {
			allowed := origin
			if len(origins) == 1 && origins[0] == "*" {
				allowed = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", strings.Join([]string{
				http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions,
			}, ", "))
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
