package pipelines

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/nadalpiantini/omnidrive/pkg/workflow"
	"github.com/pkg/errors"
)

// TransferContext is the shared context of the smart-sync workflow.
type TransferContext struct {
	Source      string             `json:"source"`
	Target      string             `json:"target"`
	DryRun      bool               `json:"dry_run"`
	Limit       int                `json:"limit"`
	SourceFiles []models.CloudFile `json:"source_files"`
	TargetFiles []models.CloudFile `json:"target_files"`
	Plan        []models.CloudFile `json:"plan"`
	Transferred []string           `json:"transferred"`

	src cloud.Service
	dst cloud.Service
}

func TransferFromParams(p models.Params) (*TransferContext, error) {
	source, err := requireParam(p, "source")
	if err != nil {
		return nil, err
	}
	target, err := requireParam(p, "target")
	if err != nil {
		return nil, err
	}
	if source == target {
		return nil, fmt.Errorf("source and target must differ")
	}
	return &TransferContext{
		Source: source,
		Target: target,
		DryRun: p.Bool("dry_run", true),
		Limit:  p.Int("limit", cloud.DefaultListLimit),
	}, nil
}

// NewSmartSync builds the fail-fast copy of files missing from the target.
func NewSmartSync(deps Deps) *workflow.Workflow[TransferContext] {
	return workflow.New[TransferContext](SmartSyncName, "Copy files missing from the target, stopping at the first error").
		WithLogger(deps.Logger).
		AddStep("list-source", func(ctx context.Context, c *TransferContext) error {
			src, err := deps.service(ctx, c.Source)
			if err != nil {
				return err
			}
			c.src = src
			c.SourceFiles, err = src.ListFiles(ctx, cloud.ListOptions{Limit: c.Limit})
			return err
		}).
		AddStep("list-target", func(ctx context.Context, c *TransferContext) error {
			dst, err := deps.service(ctx, c.Target)
			if err != nil {
				return err
			}
			c.dst = dst
			c.TargetFiles, err = dst.ListFiles(ctx, cloud.ListOptions{Limit: c.Limit})
			return err
		}).
		AddStep("plan", func(ctx context.Context, c *TransferContext) error {
			c.Plan = cloud.Missing(c.SourceFiles, c.TargetFiles)
			return nil
		}).
		AddStep("transfer", func(ctx context.Context, c *TransferContext) error {
			c.Transferred = []string{}
			if c.DryRun {
				return nil
			}
			for _, f := range c.Plan {
				if _, err := cloud.Transfer(ctx, c.src, c.dst, f, ""); err != nil {
					return errors.Wrapf(err, "transfer %s", f.Name)
				}
				c.Transferred = append(c.Transferred, f.Name)
			}
			return nil
		})
}

// BackupContext is the shared context of the backup-daily workflow.
type BackupContext struct {
	SourceDir string   `json:"source_dir"`
	Target    string   `json:"target"`
	Folder    string   `json:"folder"`
	FolderID  string   `json:"folder_id"`
	Files     []string `json:"files"`
	Uploaded  []string `json:"uploaded"`
	Verified  bool     `json:"verified"`

	dst cloud.Service
}

// BackupFromParams reads source_dir, target and folder, which defaults to
// backup-YYYY-MM-DD.
func BackupFromParams(p models.Params) (*BackupContext, error) {
	dir, err := requireParam(p, "source_dir")
	if err != nil {
		return nil, err
	}
	target, err := requireParam(p, "target")
	if err != nil {
		return nil, err
	}
	return &BackupContext{
		SourceDir: dir,
		Target:    target,
		Folder:    p.String("folder", "backup-"+time.Now().UTC().Format("2006-01-02")),
	}, nil
}

// NewBackupDaily builds prepare -> upload -> verify over a local directory.
func NewBackupDaily(deps Deps) *workflow.Workflow[BackupContext] {
	return workflow.New[BackupContext](BackupDailyName, "Upload a local directory into a dated folder and verify it").
		WithLogger(deps.Logger).
		AddStep("prepare", func(ctx context.Context, c *BackupContext) error {
			entries, err := os.ReadDir(c.SourceDir)
			if err != nil {
				return errors.Wrap(err, "read source directory")
			}
			c.Files = []string{}
			for _, e := range entries {
				if e.Type().IsRegular() {
					c.Files = append(c.Files, filepath.Join(c.SourceDir, e.Name()))
				}
			}
			sort.Strings(c.Files)
			dst, err := deps.service(ctx, c.Target)
			if err != nil {
				return err
			}
			c.dst = dst
			folder, err := dst.CreateFolder(ctx, c.Folder, "")
			if err != nil {
				return err
			}
			c.FolderID = folder.ID
			return nil
		}).
		AddStep("upload", func(ctx context.Context, c *BackupContext) error {
			c.Uploaded = []string{}
			for _, path := range c.Files {
				f, err := c.dst.UploadFile(ctx, path, c.FolderID)
				if err != nil {
					return err
				}
				c.Uploaded = append(c.Uploaded, f.Name)
			}
			return nil
		}).
		AddStep("verify", func(ctx context.Context, c *BackupContext) error {
			listed, err := c.dst.ListFiles(ctx, cloud.ListOptions{FolderID: c.FolderID, Limit: len(c.Uploaded) + 1})
			if err != nil {
				return err
			}
			present := namesOf(listed)
			for _, name := range c.Uploaded {
				if !present[name] {
					return fmt.Errorf("%s missing from %s after upload", name, c.Folder)
				}
			}
			c.Verified = true
			return nil
		})
}
