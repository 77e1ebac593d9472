package app

import (
	"context"
	"sync"

	"github.com/nadalpiantini/omnidrive/internal/log"
	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/nadalpiantini/omnidrive/pkg/rag"
)

// SnapshotIndexer persists the vector store after whole-service runs and on
// Flush. Single-file indexing only marks the store dirty.
type SnapshotIndexer struct {
	*rag.Indexer
	store *rag.VectorStore
	path  string

	mu    sync.Mutex
	dirty bool
}

func NewSnapshotIndexer(ix *rag.Indexer, store *rag.VectorStore, path string) *SnapshotIndexer {
	return &SnapshotIndexer{Indexer: ix, store: store, path: path}
}

func (s *SnapshotIndexer) IndexFile(ctx context.Context, path, id, service string, metadata map[string]string) (int, error) {
	n, err := s.Indexer.IndexFile(ctx, path, id, service, metadata)
	if err == nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
	}
	return n, err
}

func (s *SnapshotIndexer) IndexService(ctx context.Context, svc cloud.Service, limit int, progress func(done, total int, name string)) (rag.IndexStats, error) {
	stats, err := s.Indexer.IndexService(ctx, svc, limit, progress)
	if stats.Indexed > 0 {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		if ferr := s.Flush(); ferr != nil {
			log.GetLogger().Errorf("Failed to save vector snapshot: %v", ferr)
		}
	}
	return stats, err
}

// Flush writes the snapshot if anything was indexed since the last write.
func (s *SnapshotIndexer) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty || s.path == "" {
		return nil
	}
	if err := s.store.Save(s.path); err != nil {
		return err
	}
	s.dirty = false
	return nil
}
