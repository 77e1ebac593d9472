package pipelines

import (
	"context"
	"time"

	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/nadalpiantini/omnidrive/pkg/workflow"
)

// DetectLimit caps how many source files one sync run considers.
const DetectLimit = 100

// SyncState is the state of the smart-sync graph. FilesDetected,
// FilesValidated and FilesSynced are overwritten by the node that owns them.
type SyncState struct {
	Source         string             `json:"source_service"`
	Target         string             `json:"target_service"`
	DryRun         bool               `json:"dry_run"`
	FilesDetected  []models.CloudFile `json:"files_detected"`
	FilesValidated []models.CloudFile `json:"files_validated"`
	FilesSynced    []models.CloudFile `json:"files_synced"`
	ShouldContinue bool               `json:"should_continue"`
	CurrentStep    string             `json:"current_step"`
	StartedAt      time.Time          `json:"started_at"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`

	source cloud.Service
	target cloud.Service
}

// SyncStateFromParams reads source, target and dry_run (default true).
func SyncStateFromParams(p models.Params) (*SyncState, error) {
	source, err := requireParam(p, "source")
	if err != nil {
		return nil, err
	}
	target, err := requireParam(p, "target")
	if err != nil {
		return nil, err
	}
	return &SyncState{
		Source:         source,
		Target:         target,
		DryRun:         p.Bool("dry_run", true),
		ShouldContinue: true,
		CurrentStep:    "init",
		StartedAt:      time.Now().UTC(),
	}, nil
}

type syncNodes struct {
	deps Deps
}

// NewSyncGraph builds detect -> validate -> sync, where validate routes to
// End unless something was detected and no error has been recorded.
func NewSyncGraph(deps Deps) *workflow.Graph[SyncState] {
	n := syncNodes{deps: deps}
	return workflow.NewGraph[SyncState](SmartSyncGraphName, "Sync files between cloud services with validation").
		WithLogger(deps.Logger).
		AddNode("detect", n.detect).
		AddNode("validate", n.validate).
		AddNode("sync", n.sync).
		SetEntry("detect").
		AddEdge("detect", "validate").
		AddConditionalEdge("validate", shouldSync, map[string]string{
			"sync": "sync",
			"end":  workflow.End,
		}).
		AddEdge("sync", workflow.End)
}

func shouldSync(s *SyncState, trail workflow.Trail) string {
	if len(s.FilesDetected) > 0 && len(trail.Errors) == 0 && s.ShouldContinue {
		return "sync"
	}
	return "end"
}

func (n syncNodes) detect(ctx context.Context, s *SyncState) (workflow.Emit, error) {
	s.CurrentStep = "detect"
	emit := workflow.Logf("Detecting files in %s...", s.Source)

	src, err := n.deps.service(ctx, s.Source)
	if err != nil {
		s.ShouldContinue = false
		return emit.Errorf("Detection failed: %v", err), nil
	}
	files, err := src.ListFiles(ctx, cloud.ListOptions{Limit: DetectLimit})
	if err != nil {
		s.ShouldContinue = false
		return emit.Errorf("Detection failed: %v", err), nil
	}
	s.source = src
	s.FilesDetected = files
	s.ShouldContinue = len(files) > 0
	return emit.Logf("Found %d files", len(files)), nil
}

// validate keeps regular files that the target does not already hold by
// name.
func (n syncNodes) validate(ctx context.Context, s *SyncState) (workflow.Emit, error) {
	s.CurrentStep = "validate"
	emit := workflow.Logf("Validating space in %s...", s.Target)

	dst, err := n.deps.service(ctx, s.Target)
	if err != nil {
		s.ShouldContinue = false
		return emit.Errorf("Validation failed: %v", err), nil
	}
	existing, err := dst.ListFiles(ctx, cloud.ListOptions{Limit: DetectLimit})
	if err != nil {
		s.ShouldContinue = false
		return emit.Errorf("Validation failed: %v", err), nil
	}
	s.target = dst

	present := namesOf(existing)
	validated := make([]models.CloudFile, 0, len(s.FilesDetected))
	for _, f := range s.FilesDetected {
		if f.IsFolder || present[f.Name] {
			continue
		}
		validated = append(validated, f)
	}
	s.FilesValidated = validated
	return emit.Logf("Validated %d files for sync", len(validated)), nil
}

func (n syncNodes) sync(ctx context.Context, s *SyncState) (workflow.Emit, error) {
	s.CurrentStep = "sync"
	defer func() {
		now := time.Now().UTC()
		s.CompletedAt = &now
	}()

	if s.DryRun {
		s.FilesSynced = []models.CloudFile{}
		return workflow.Logf("DRY RUN: Would sync %d files", len(s.FilesValidated)), nil
	}

	emit := workflow.Logf("Syncing %d files...", len(s.FilesValidated))
	synced := make([]models.CloudFile, 0, len(s.FilesValidated))
	for _, f := range s.FilesValidated {
		if ctx.Err() != nil {
			emit = emit.Errorf("Sync interrupted: %v", ctx.Err())
			break
		}
		uploaded, err := cloud.Transfer(ctx, s.source, s.target, f, "")
		if err != nil {
			emit = emit.Errorf("Failed to sync %s: %v", f.Name, err)
			continue
		}
		synced = append(synced, uploaded)
	}
	s.FilesSynced = synced
	return emit.Logf("Synced %d files", len(synced)), nil
}
