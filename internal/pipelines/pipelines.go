// Package pipelines defines the workflows and graphs OmniDrive ships with
// and registers them on an engine.
package pipelines

import (
	"context"
	"fmt"

	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/nadalpiantini/omnidrive/pkg/rag"
	"github.com/nadalpiantini/omnidrive/pkg/service"
	"github.com/nadalpiantini/omnidrive/pkg/workflow"
)

const (
	SmartSyncGraphName = "smart-sync-graph"
	RAGSearchName      = "rag-search"
	VaultIngestName    = "vault-ingest"
	SmartSyncName      = "smart-sync"
	BackupDailyName    = "backup-daily"
)

// ServiceProvider builds a fresh backend instance per call. *cloud.Factory
// satisfies it.
type ServiceProvider interface {
	Create(ctx context.Context, name string, autoAuthenticate bool) (cloud.Service, error)
	CreateStored(name string) (cloud.Service, error)
}

// FileIndexer indexes one local file for semantic search.
type FileIndexer interface {
	IndexFile(ctx context.Context, path, id, service string, metadata map[string]string) (int, error)
}

// Deps are the collaborators workflow steps call into. Services is
// required; the RAG collaborators may be nil, in which case the search and
// ingest graphs record an error instead of failing.
type Deps struct {
	Services ServiceProvider
	// AutoAuthenticate lets steps trigger interactive logins. It is set for
	// the CLI and left off for the server.
	AutoAuthenticate bool
	Embedder         rag.Embedder
	Retriever        rag.Retriever
	Indexer          FileIndexer
	Logger           workflow.Logger
}

func (d Deps) service(ctx context.Context, name string) (cloud.Service, error) {
	if d.Services == nil {
		return nil, fmt.Errorf("no service provider configured")
	}
	if d.AutoAuthenticate {
		return d.Services.Create(ctx, name, true)
	}
	return d.Services.CreateStored(name)
}

// Registrar is the part of the engine pipelines need.
type Registrar interface {
	Register(r service.Runner) error
}

// Register adds every built-in workflow and graph.
func Register(r Registrar, deps Deps) error {
	runners := []service.Runner{
		service.Graph(NewSyncGraph(deps), SyncStateFromParams),
		service.Graph(NewRAGGraph(deps), RAGStateFromParams),
		service.Graph(NewIngestGraph(deps), IngestStateFromParams),
		service.Linear(NewSmartSync(deps), TransferFromParams),
		service.Linear(NewBackupDaily(deps), BackupFromParams),
	}
	for _, runner := range runners {
		if err := r.Register(runner); err != nil {
			return err
		}
	}
	return nil
}

func requireParam(p models.Params, key string) (string, error) {
	v := p.String(key, "")
	if v == "" {
		return "", fmt.Errorf("parameter '%s' is required", key)
	}
	return v, nil
}

func namesOf(files []models.CloudFile) map[string]bool {
	names := make(map[string]bool, len(files))
	for _, f := range files {
		if !f.IsFolder {
			names[f.Name] = true
		}
	}
	return names
}
