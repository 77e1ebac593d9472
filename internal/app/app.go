// Package app wires configuration, backends, the job engine and the RAG
// collaborators into one process-wide container shared by the CLI and the
// API server.
package app

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/nadalpiantini/omnidrive/internal/auth"
	"github.com/nadalpiantini/omnidrive/internal/backends/dropbox"
	"github.com/nadalpiantini/omnidrive/internal/backends/folderfort"
	"github.com/nadalpiantini/omnidrive/internal/backends/gdrive"
	"github.com/nadalpiantini/omnidrive/internal/backends/s3"
	"github.com/nadalpiantini/omnidrive/internal/config"
	internal_http "github.com/nadalpiantini/omnidrive/internal/http"
	"github.com/nadalpiantini/omnidrive/internal/log"
	"github.com/nadalpiantini/omnidrive/internal/metrics"
	"github.com/nadalpiantini/omnidrive/internal/pipelines"
	"github.com/nadalpiantini/omnidrive/internal/session"
	internal_storage "github.com/nadalpiantini/omnidrive/internal/storage"
	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/nadalpiantini/omnidrive/pkg/rag"
	"github.com/nadalpiantini/omnidrive/pkg/service"
	"github.com/nadalpiantini/omnidrive/pkg/storage"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Options struct {
	ConfigPath string
	// Interactive lets workflow steps start a login when a backend has no
	// stored token. The CLI sets it; the server does not.
	Interactive bool
	In          io.Reader
	Out         io.Writer
}

type App struct {
	Config   *config.Config
	Tokens   *auth.Store
	Services *cloud.Factory
	Store    storage.JobStore
	Engine   *service.Engine
	Metrics  *metrics.Metrics
	Hub      *internal_http.Hub
	Embedder rag.Embedder
	Vectors  *rag.VectorStore
	Indexer  *SnapshotIndexer
	Search   *rag.SemanticSearch
	Sessions *session.Store

	cancel context.CancelFunc
}

// New loads the configuration and builds every collaborator. The engine
// lives until Close.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	log.Configure(cfg.LogLevel)
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	a := &App{Config: cfg, Tokens: auth.NewStore(filepath.Join(config.HomeDir(), "credentials.yaml"))}
	a.Services = NewFactory(cfg, a.Tokens)
	a.Sessions = session.NewStore(cfg.Sessions.Dir)
	auth.Register(a.Services, auth.NewPrompter(opts.In, opts.Out), cfg.Google.CredentialsPath)

	a.Store, err = internal_storage.InitStore(cfg.Jobs.Driver, cfg.Jobs.DSN)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(reg)
	a.Hub = internal_http.NewHub(cfg.Server.CORSOrigins)

	a.Embedder = NewEmbedder(cfg.Embeddings)
	a.Vectors = rag.NewVectorStore()
	if err := a.Vectors.Load(cfg.RAG.SnapshotPath); err != nil {
		log.GetLogger().Errorf("Ignoring unreadable vector snapshot %s: %v", cfg.RAG.SnapshotPath, err)
	}
	a.Indexer = NewSnapshotIndexer(rag.NewIndexer(a.Embedder, a.Vectors), a.Vectors, cfg.RAG.SnapshotPath)
	a.Search = rag.NewSemanticSearch(a.Embedder, a.Vectors)

	engineCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	engineOpts := []service.Option{
		service.WithJobTimeout(cfg.Jobs.Timeout),
		service.WithListener(a.Metrics),
		service.WithListener(a.Hub),
	}
	if cfg.Jobs.Workers > 0 {
		engineOpts = append(engineOpts, service.WithWorkers(cfg.Jobs.Workers))
	}
	a.Engine = service.NewEngine(engineCtx, a.Store, log.GetLogger(), engineOpts...)

	err = pipelines.Register(a.Engine, pipelines.Deps{
		Services:         a.Services,
		AutoAuthenticate: opts.Interactive,
		Embedder:         a.Embedder,
		Retriever:        a.Vectors,
		Indexer:          a.Indexer,
		Logger:           log.GetLogger(),
	})
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "register workflows")
	}
	return a, nil
}

// NewFactory registers every backend kind. List caching applies when
// cache.list_ttl is positive.
func NewFactory(cfg *config.Config, tokens cloud.TokenStore) *cloud.Factory {
	f := cloud.NewFactory(tokens, log.GetLogger())
	ttl := cfg.Cache.ListTTL

	ffOpts := []folderfort.Option{folderfort.WithBaseURL(cfg.Folderfort.BaseURL)}
	var gdOpts []gdrive.Option
	var dbOpts []dropbox.Option
	var s3Opts []s3.Option
	if ttl > 0 {
		ffOpts = append(ffOpts, folderfort.WithCache(ttl))
		gdOpts = append(gdOpts, gdrive.WithCache(ttl))
		dbOpts = append(dbOpts, dropbox.WithCache(ttl))
		s3Opts = append(s3Opts, s3.WithCache(ttl))
	}

	f.Register(cloud.Folderfort, folderfort.Constructor(ffOpts...))
	f.Register(cloud.Google, gdrive.Constructor(cfg.Google.CredentialsPath, gdOpts...))
	f.Register(cloud.Dropbox, dropbox.Constructor(dbOpts...))
	f.Register(cloud.S3, s3.Constructor(s3.Settings{
		Bucket:             cfg.S3.Bucket,
		Region:             cfg.S3.Region,
		Endpoint:           cfg.S3.Endpoint,
		DefaultCredentials: cfg.S3.DefaultCredentials,
	}, s3Opts...))
	f.Register(cloud.Memory, cloud.NewMemoryService(string(cloud.Memory)).Constructor())
	return f
}

// NewEmbedder selects the remote embedder when an API key is configured.
func NewEmbedder(cfg config.EmbeddingsConfig) rag.Embedder {
	if cfg.APIKey == "" {
		log.GetLogger().Debugf("No embeddings API key configured, using offline hash embeddings")
		return rag.NewHashEmbedder(cfg.Dimension)
	}
	return rag.NewHTTPEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimension)
}

// Server returns the API surface backed by this container.
func (a *App) Server() *internal_http.Server {
	return &internal_http.Server{
		Engine:        a.Engine,
		Services:      a.Services,
		Tokens:        a.Tokens,
		GoogleKeyPath: a.Config.Google.CredentialsPath,
		Search:        a.Search,
		Indexer:       a.Indexer,
		Hub:           a.Hub,
		Metrics:       a.Metrics,
		CORSOrigins:   a.Config.Server.CORSOrigins,
		DefaultTopK:   a.Config.RAG.TopK,
	}
}

// Close stops the engine, persists the vector store and releases the job
// store.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.Engine != nil {
		a.Engine.Close()
	}
	var firstErr error
	if a.Indexer != nil {
		firstErr = a.Indexer.Flush()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

