// Package gdrive implements cloud.Service on the Google Drive v3 API using
// service-account credentials.
//
// The token a gdrive instance is bound to is the path of the service-account
// JSON key. Drive has no separate login step for service accounts, so
// authenticating only checks that the key can be read and parsed.
package gdrive

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/pkg/errors"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	ServiceName    = "google"
	FolderMimeType = "application/vnd.google-apps.folder"

	listFields = "nextPageToken, files(id, name, mimeType, size, parents, createdTime, modifiedTime)"
	fileFields = "id, name, mimeType, size, parents, createdTime, modifiedTime"
	maxPerPage = 1000
)

type Option func(*Service)

// WithClientOptions replaces credential loading with explicit client
// options, e.g. a test endpoint.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *Service) { s.clientOpts = opts }
}

func WithCache(ttl time.Duration) Option {
	cache := cloud.NewListCache(ttl)
	return func(s *Service) { s.cache = cache }
}

type Service struct {
	keyPath    string
	clientOpts []option.ClientOption
	cache      *cloud.ListCache

	once  sync.Once
	drive *drive.Service
	err   error
}

func New(keyPath string, opts ...Option) *Service {
	s := &Service{keyPath: keyPath}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Constructor binds instances to the stored key path, falling back to
// defaultKey when nothing is stored.
func Constructor(defaultKey string, opts ...Option) cloud.Constructor {
	return func(token string) (cloud.Service, error) {
		if token == "" {
			token = defaultKey
		}
		return New(token, opts...), nil
	}
}

func (s *Service) Name() string { return ServiceName }

func (s *Service) IsAuthenticated() bool {
	if len(s.clientOpts) > 0 {
		return true
	}
	if s.keyPath == "" {
		return false
	}
	_, err := os.Stat(s.keyPath)
	return err == nil
}

func (s *Service) Authenticate(ctx context.Context, creds cloud.Credentials) (string, error) {
	if err := cloud.CheckContext(ctx, ServiceName); err != nil {
		return "", err
	}
	path := creds.File
	if path == "" {
		path = creds.Token
	}
	if path == "" {
		return "", cloud.NewAuthError(ServiceName, "Google credentials file not found")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", cloud.NewAuthError(ServiceName, "invalid credentials path "+path)
	}
	if _, err := loadCredentials(ctx, abs); err != nil {
		return "", err
	}
	s.keyPath = abs
	return abs, nil
}

func loadCredentials(ctx context.Context, path string) (*google.Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cloud.NewAuthError(ServiceName, "Google credentials file not found: "+path)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, drive.DriveScope)
	if err != nil {
		return nil, &cloud.AuthenticationError{ServiceError: cloud.ServiceError{
			Service: ServiceName, Message: "invalid Google credentials", Err: err,
		}}
	}
	return creds, nil
}

// client builds the Drive client on first use.
func (s *Service) client(ctx context.Context) (*drive.Service, error) {
	s.once.Do(func() {
		opts := s.clientOpts
		if len(opts) == 0 {
			if s.keyPath == "" {
				s.err = cloud.NewAuthError(ServiceName,
					"Google credentials not found. Set GOOGLE_APPLICATION_CREDENTIALS or run: omnidrive auth google")
				return
			}
			// Background: the credentials outlive this call.
			creds, err := loadCredentials(context.Background(), s.keyPath)
			if err != nil {
				s.err = err
				return
			}
			opts = []option.ClientOption{option.WithCredentials(creds)}
		}
		s.drive, s.err = drive.NewService(context.Background(), opts...)
		if s.err != nil {
			s.err = cloud.NewServiceError(ServiceName, "create Drive client", s.err)
		}
	})
	if err := cloud.CheckContext(ctx, ServiceName); err != nil {
		return nil, err
	}
	return s.drive, s.err
}

func toCloudFile(f *drive.File) models.CloudFile {
	out := models.CloudFile{
		ID:         f.Id,
		Name:       f.Name,
		MimeType:   f.MimeType,
		CreatedAt:  parseTime(f.CreatedTime),
		ModifiedAt: parseTime(f.ModifiedTime),
		Service:    ServiceName,
		IsFolder:   f.MimeType == FolderMimeType,
	}
	if len(f.Parents) > 0 {
		out.ParentID = f.Parents[0]
	}
	if out.IsFolder {
		out.MimeType = models.FolderMimeType
	} else {
		out.Size = models.Int64Ptr(f.Size)
	}
	return out
}

func parseTime(v string) *time.Time {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return models.TimePtr(t.UTC())
}

func quote(v string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
}

// buildQuery translates ListOptions into a Drive search expression.
func buildQuery(opts cloud.ListOptions) string {
	parent := opts.FolderID
	if parent == "" {
		parent = "root"
	}
	clauses := []string{quote(parent) + " in parents"}
	if opts.Trashed {
		clauses = append(clauses, "trashed = true")
	} else {
		clauses = append(clauses, "trashed = false")
	}
	if opts.Query != "" {
		clauses = append(clauses, "name contains "+quote(opts.Query))
	}
	if opts.MimeType != "" {
		mime := opts.MimeType
		if mime == models.FolderMimeType {
			mime = FolderMimeType
		}
		clauses = append(clauses, "mimeType = "+quote(mime))
	}
	return strings.Join(clauses, " and ")
}

// classify maps Drive API errors onto the service error taxonomy.
func classify(op string, err error) error {
	if cloud.IsServiceError(err) {
		return err
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return &cloud.AuthenticationError{ServiceError: cloud.ServiceError{Service: ServiceName, Message: op + " failed", Err: err}}
		case apiErr.Code == http.StatusNotFound:
			return cloud.NewServiceError(ServiceName, op+" failed: not found", cloud.ErrNotFound)
		case hasReason(apiErr, "storageQuotaExceeded", "quotaExceeded"):
			return cloud.QuotaError(ServiceName, op+" failed: storage quota exceeded")
		}
	}
	return cloud.NewServiceError(ServiceName, op+" failed", err)
}

func hasReason(err *googleapi.Error, reasons ...string) bool {
	for _, item := range err.Errors {
		for _, r := range reasons {
			if item.Reason == r {
				return true
			}
		}
	}
	return false
}
