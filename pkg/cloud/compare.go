package cloud

import (
	"context"
	"os"
	"sort"

	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Diff is the name-level difference between two listings.
type Diff struct {
	ServiceA string   `json:"service_a"`
	ServiceB string   `json:"service_b"`
	TotalA   int      `json:"total_a"`
	TotalB   int      `json:"total_b"`
	OnlyInA  []string `json:"only_in_a"`
	OnlyInB  []string `json:"only_in_b"`
	Common   []string `json:"common"`
}

// DiffFiles compares two listings by file name. Folders are ignored.
func DiffFiles(a, b []models.CloudFile) Diff {
	namesA := fileNames(a)
	namesB := fileNames(b)
	d := Diff{TotalA: len(namesA), TotalB: len(namesB), OnlyInA: []string{}, OnlyInB: []string{}, Common: []string{}}
	for name := range namesA {
		if _, ok := namesB[name]; ok {
			d.Common = append(d.Common, name)
		} else {
			d.OnlyInA = append(d.OnlyInA, name)
		}
	}
	for name := range namesB {
		if _, ok := namesA[name]; !ok {
			d.OnlyInB = append(d.OnlyInB, name)
		}
	}
	sort.Strings(d.OnlyInA)
	sort.Strings(d.OnlyInB)
	sort.Strings(d.Common)
	return d
}

func fileNames(files []models.CloudFile) map[string]struct{} {
	names := make(map[string]struct{}, len(files))
	for _, f := range files {
		if f.IsFolder {
			continue
		}
		names[f.Name] = struct{}{}
	}
	return names
}

// Missing returns the regular files of source whose names target lacks, in
// source order.
func Missing(source, target []models.CloudFile) []models.CloudFile {
	present := fileNames(target)
	out := []models.CloudFile{}
	for _, f := range source {
		if f.IsFolder {
			continue
		}
		if _, ok := present[f.Name]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// Compare lists up to limit root entries of a and b concurrently and diffs
// them. a and b must be distinct instances.
func Compare(ctx context.Context, a, b Service, limit int) (Diff, error) {
	var filesA, filesB []models.CloudFile
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		filesA, err = a.ListFiles(gctx, ListOptions{Limit: limit})
		return err
	})
	g.Go(func() (err error) {
		filesB, err = b.ListFiles(gctx, ListOptions{Limit: limit})
		return err
	})
	if err := g.Wait(); err != nil {
		return Diff{}, err
	}
	d := DiffFiles(filesA, filesB)
	d.ServiceA = a.Name()
	d.ServiceB = b.Name()
	return d, nil
}

// Transfer copies file from src to dst through a temporary local directory.
func Transfer(ctx context.Context, src, dst Service, file models.CloudFile, parentID string) (models.CloudFile, error) {
	tmpDir, err := os.MkdirTemp("", "omnidrive-transfer-*")
	if err != nil {
		return models.CloudFile{}, errors.Wrap(err, "create transfer directory")
	}
	defer os.RemoveAll(tmpDir)

	local, err := src.DownloadFile(ctx, file.ID, tmpDir)
	if err != nil {
		return models.CloudFile{}, err
	}
	return dst.UploadFile(ctx, local, parentID)
}
