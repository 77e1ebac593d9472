// Package cloud defines the capability set every storage backend provides
// and the factory that resolves backend names to ready instances.
package cloud

import (
	"context"

	"github.com/nadalpiantini/omnidrive/pkg/models"
)

const DefaultListLimit = 100

// Credentials is the material a backend needs to authenticate. Each backend
// reads only the fields it understands.
type Credentials struct {
	Token    string
	Email    string
	Password string
	File     string
	Extra    map[string]string
}

// ListOptions filters a ListFiles call. FolderID empty means the root.
type ListOptions struct {
	FolderID string
	Limit    int
	Query    string // name contains
	MimeType string
	Trashed  bool
}

func (o ListOptions) EffectiveLimit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}

// Service is one backend bound to one credential. Instances are cheap and
// must not be shared across concurrent runs.
//
// Every method checks ctx before network I/O. Authentication failures are
// reported as *AuthenticationError, everything else as *ServiceError.
type Service interface {
	Name() string
	Authenticate(ctx context.Context, creds Credentials) (string, error)
	// ListFiles returns at most opts.Limit entries ordered by name,
	// following backend pagination as needed.
	ListFiles(ctx context.Context, opts ListOptions) ([]models.CloudFile, error)
	UploadFile(ctx context.Context, localPath, parentID string) (models.CloudFile, error)
	// DownloadFile writes the remote file to destPath, or into destPath
	// when it is a directory, and returns the final local path.
	DownloadFile(ctx context.Context, fileID, destPath string) (string, error)
	// DeleteFile moves the file to trash unless permanent is set.
	DeleteFile(ctx context.Context, fileID string, permanent bool) (bool, error)
	CreateFolder(ctx context.Context, name, parentID string) (models.CloudFile, error)
	// IsAuthenticated is a local check and may be stale.
	IsAuthenticated() bool
}

// CheckContext returns a ServiceError for service when ctx is done.
func CheckContext(ctx context.Context, service string) error {
	if err := ctx.Err(); err != nil {
		return NewServiceError(service, "operation cancelled", err)
	}
	return nil
}
