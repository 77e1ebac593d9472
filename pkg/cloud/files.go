package cloud

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/pkg/errors"
)

// ResolveDownloadPath appends remoteName when dest is an existing directory
// or ends with a path separator.
func ResolveDownloadPath(dest, remoteName string) string {
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		return filepath.Join(dest, remoteName)
	}
	if strings.HasSuffix(dest, string(os.PathSeparator)) {
		return filepath.Join(dest, remoteName)
	}
	return dest
}

// WriteAtomic copies r into a temporary file next to dest and renames it
// into place. dest is never left holding a partial file.
func WriteAtomic(dest string, r io.Reader) (err error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create destination directory")
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err = io.Copy(tmp, r); err != nil {
		return errors.Wrap(err, "write temp file")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err = os.Rename(tmp.Name(), dest); err != nil {
		return errors.Wrap(err, "move file into place")
	}
	return nil
}

// OpenLocal opens a local file for upload, reporting a missing or
// unreadable path as a ServiceError of service.
func OpenLocal(service, localPath string) (*os.File, os.FileInfo, error) {
	f, err := os.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, NewServiceError(service, "local file not found: "+localPath, err)
		}
		return nil, nil, NewServiceError(service, "cannot open "+localPath, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, NewServiceError(service, "cannot stat "+localPath, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, NewServiceError(service, localPath+" is a directory", nil)
	}
	return f, info, nil
}

// SortByName orders files by name, then ID, so repeated listings are stable.
func SortByName(files []models.CloudFile) {
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Name == files[j].Name {
			return files[i].ID < files[j].ID
		}
		return files[i].Name < files[j].Name
	})
}

func Truncate(files []models.CloudFile, limit int) []models.CloudFile {
	if limit > 0 && len(files) > limit {
		return files[:limit]
	}
	return files
}
