package pipelines

import (
	"context"
	"fmt"

	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/nadalpiantini/omnidrive/pkg/rag"
	"github.com/nadalpiantini/omnidrive/pkg/service"
	"github.com/nadalpiantini/omnidrive/pkg/workflow"
	"github.com/pkg/errors"
)

// Job names used for ad-hoc jobs that are not registered workflows.
const (
	SyncJobName  = "sync"
	IndexJobName = "index"
)

// SyncReport is the result data of a sync job.
type SyncReport struct {
	Source      string   `json:"source"`
	Target      string   `json:"target"`
	DryRun      bool     `json:"dry_run"`
	FilesToSync []string `json:"files_to_sync"`
	FilesSynced []string `json:"files_synced"`
}

// SyncJob copies the regular root files of source that target lacks by
// name, stopping at the first failed transfer. Progress is reported per
// file.
func SyncJob(services ServiceProvider, source, target string, limit int, dryRun bool) service.JobFunc {
	return func(ctx context.Context, observe workflow.StepObserver) models.Result {
		src, err := services.CreateStored(source)
		if err != nil {
			return models.FailedResult(err)
		}
		dst, err := services.CreateStored(target)
		if err != nil {
			return models.FailedResult(err)
		}
		srcFiles, err := src.ListFiles(ctx, cloud.ListOptions{Limit: limit})
		if err != nil {
			return models.FailedResult(err)
		}
		dstFiles, err := dst.ListFiles(ctx, cloud.ListOptions{Limit: limit})
		if err != nil {
			return models.FailedResult(err)
		}

		plan := cloud.Missing(srcFiles, dstFiles)
		report := SyncReport{Source: source, Target: target, DryRun: dryRun, FilesToSync: []string{}, FilesSynced: []string{}}
		for _, f := range plan {
			report.FilesToSync = append(report.FilesToSync, f.Name)
		}
		if dryRun {
			return models.CompletedResult(fmt.Sprintf("Dry run: %d files would be synced", len(plan)), report)
		}
		for i, f := range plan {
			observe(i, len(plan), f.Name)
			if _, err := cloud.Transfer(ctx, src, dst, f, ""); err != nil {
				err = errors.Wrapf(err, "sync %s", f.Name)
				return models.Result{Status: models.FailedJobStatus, Message: err.Error(), Data: report, Err: err}
			}
			report.FilesSynced = append(report.FilesSynced, f.Name)
		}
		return models.CompletedResult(fmt.Sprintf("Synced %d files", len(report.FilesSynced)), report)
	}
}

// ServiceIndexer indexes every text file of one backend.
type ServiceIndexer interface {
	IndexService(ctx context.Context, svc cloud.Service, limit int, progress func(done, total int, name string)) (rag.IndexStats, error)
}

// IndexJob indexes up to limit root files of the named backend.
func IndexJob(services ServiceProvider, indexer ServiceIndexer, name string, limit int) service.JobFunc {
	return func(ctx context.Context, observe workflow.StepObserver) models.Result {
		svc, err := services.CreateStored(name)
		if err != nil {
			return models.FailedResult(err)
		}
		stats, err := indexer.IndexService(ctx, svc, limit, observe)
		if err != nil {
			return models.FailedResult(err)
		}
		return models.CompletedResult(fmt.Sprintf("Indexed %d of %d files", stats.Indexed, stats.Listed), stats)
	}
}
