package rag

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/pkg/errors"
)

// IndexStats summarizes one IndexService run.
type IndexStats struct {
	Service string   `json:"service"`
	Listed  int      `json:"listed"`
	Indexed int      `json:"indexed"`
	Chunks  int      `json:"chunks"`
	Skipped []string `json:"skipped"`
	Failed  []string `json:"failed"`
}

// Indexable reports whether f carries text ExtractText understands.
func Indexable(f models.CloudFile) bool {
	return !f.IsFolder && textExtensions[strings.ToLower(filepath.Ext(f.Name))]
}

// IndexService downloads up to limit root files of svc into a temporary
// directory and indexes the text ones. Per-file failures are collected in
// the stats; only listing and cancellation errors abort the run. progress
// may be nil.
func (ix *Indexer) IndexService(ctx context.Context, svc cloud.Service, limit int, progress func(done, total int, name string)) (IndexStats, error) {
	stats := IndexStats{Service: svc.Name(), Skipped: []string{}, Failed: []string{}}
	files, err := svc.ListFiles(ctx, cloud.ListOptions{Limit: limit})
	if err != nil {
		return stats, err
	}
	stats.Listed = len(files)

	tmpDir, err := os.MkdirTemp("", "omnidrive-index-*")
	if err != nil {
		return stats, errors.Wrap(err, "create index directory")
	}
	defer os.RemoveAll(tmpDir)

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if progress != nil {
			progress(i, len(files), f.Name)
		}
		if !Indexable(f) {
			stats.Skipped = append(stats.Skipped, f.Name)
			continue
		}
		local, err := svc.DownloadFile(ctx, f.ID, tmpDir)
		if err != nil {
			stats.Failed = append(stats.Failed, f.Name)
			continue
		}
		n, err := ix.IndexFile(ctx, local, svc.Name()+":"+f.ID, svc.Name(), map[string]string{"file_id": f.ID})
		os.Remove(local)
		if err != nil {
			stats.Failed = append(stats.Failed, f.Name)
			continue
		}
		stats.Indexed++
		stats.Chunks += n
	}
	return stats, nil
}
