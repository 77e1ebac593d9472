// Package dropbox implements cloud.Service on the Dropbox v2 HTTP API.
//
// File ids are Dropbox "id:" references, which every path argument of the
// API accepts. Dropbox has no per-entry parent id, so listed entries carry
// the folder id they were listed from.
package dropbox

import (
	"context"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/pkg/errors"
	dropbox "github.com/tj/go-dropbox"
)

const ServiceName = "dropbox"

type Option func(*Service)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.httpClient = c }
}

func WithCache(ttl time.Duration) Option {
	cache := cloud.NewListCache(ttl)
	return func(s *Service) { s.cache = cache }
}

type Service struct {
	token      string
	httpClient *http.Client
	client     *dropbox.Client
	cache      *cloud.ListCache
}

func New(token string, opts ...Option) *Service {
	s := &Service{}
	for _, opt := range opts {
		opt(s)
	}
	s.bind(token)
	return s
}

func Constructor(opts ...Option) cloud.Constructor {
	return func(token string) (cloud.Service, error) {
		return New(token, opts...), nil
	}
}

func (s *Service) bind(token string) {
	s.token = token
	cfg := dropbox.NewConfig(token)
	if s.httpClient != nil {
		cfg.HTTPClient = s.httpClient
	}
	s.client = dropbox.New(cfg)
}

func (s *Service) Name() string { return ServiceName }

func (s *Service) IsAuthenticated() bool { return s.token != "" }

// Authenticate adopts an OAuth access token after checking it against the
// account root.
func (s *Service) Authenticate(ctx context.Context, creds cloud.Credentials) (string, error) {
	if err := cloud.CheckContext(ctx, ServiceName); err != nil {
		return "", err
	}
	if creds.Token == "" {
		return "", cloud.NewAuthError(ServiceName, "Dropbox access token is required")
	}
	previous := s.token
	s.bind(creds.Token)
	if _, err := s.client.Files.ListFolder(&dropbox.ListFolderInput{Path: ""}); err != nil {
		s.bind(previous)
		if err := classify("verify token", err); cloud.IsAuthError(err) {
			return "", err
		}
		return "", &cloud.AuthenticationError{ServiceError: cloud.ServiceError{Service: ServiceName, Message: "verify token", Err: err}}
	}
	return creds.Token, nil
}

func (s *Service) begin(ctx context.Context) error {
	if err := cloud.CheckContext(ctx, ServiceName); err != nil {
		return err
	}
	if s.token == "" {
		return cloud.NewAuthError(ServiceName, "Not authenticated with Dropbox")
	}
	return nil
}

func toCloudFile(m *dropbox.Metadata, parentID string) models.CloudFile {
	id := m.ID
	if id == "" {
		id = m.PathLower
	}
	f := models.CloudFile{
		ID:       id,
		Name:     m.Name,
		ParentID: parentID,
		Service:  ServiceName,
		IsFolder: m.Tag == "folder",
	}
	if f.IsFolder {
		f.MimeType = models.FolderMimeType
		return f
	}
	f.Size = models.Int64Ptr(int64(m.Size))
	f.MimeType = mime.TypeByExtension(path.Ext(m.Name))
	if f.MimeType == "" {
		f.MimeType = "application/octet-stream"
	}
	f.CreatedAt = models.TimePtr(m.ClientModified)
	f.ModifiedAt = models.TimePtr(m.ServerModified)
	return f
}

// classify maps API errors onto the service error taxonomy. Dropbox reports
// most failures as HTTP 409 with a tagged summary.
func classify(op string, err error) error {
	var apiErr *dropbox.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized:
			return &cloud.AuthenticationError{ServiceError: cloud.ServiceError{Service: ServiceName, Message: op + " failed", Err: err}}
		case strings.Contains(apiErr.Summary, "not_found"):
			return cloud.NewServiceError(ServiceName, op+" failed: not found", cloud.ErrNotFound)
		case strings.Contains(apiErr.Summary, "insufficient_space"):
			return cloud.QuotaError(ServiceName, op+" failed: insufficient space")
		}
	}
	return cloud.NewServiceError(ServiceName, op+" failed", err)
}

func (s *Service) ListFiles(ctx context.Context, opts cloud.ListOptions) ([]models.CloudFile, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	if files, ok := s.cache.Get(s.token, opts); ok {
		return files, nil
	}

	out, err := s.client.Files.ListFolder(&dropbox.ListFolderInput{
		Path:           opts.FolderID,
		IncludeDeleted: opts.Trashed,
	})
	if err != nil {
		return nil, classify("list files", err)
	}

	query := strings.ToLower(opts.Query)
	var files []models.CloudFile
	for {
		for _, m := range out.Entries {
			if (m.Tag == "deleted") != opts.Trashed {
				continue
			}
			f := toCloudFile(m, opts.FolderID)
			if query != "" && !strings.Contains(strings.ToLower(f.Name), query) {
				continue
			}
			if opts.MimeType != "" && f.MimeType != opts.MimeType {
				continue
			}
			files = append(files, f)
		}
		if !out.HasMore {
			break
		}
		if err := cloud.CheckContext(ctx, ServiceName); err != nil {
			return nil, err
		}
		out, err = s.client.Files.ListFolderContinue(&dropbox.ListFolderContinueInput{Cursor: out.Cursor})
		if err != nil {
			return nil, classify("list files", err)
		}
	}

	cloud.SortByName(files)
	files = cloud.Truncate(files, opts.EffectiveLimit())
	s.cache.Put(s.token, opts, files)
	return files, nil
}

// folderPath resolves a folder id to the display path uploads need.
func (s *Service) folderPath(id string) (string, error) {
	if id == "" {
		return "", nil
	}
	out, err := s.client.Files.GetMetadata(&dropbox.GetMetadataInput{Path: id})
	if err != nil {
		return "", classify("resolve folder "+id, err)
	}
	if out.Metadata.Tag != "folder" {
		return "", cloud.NewServiceError(ServiceName, id+" is not a folder", nil)
	}
	return out.Metadata.PathDisplay, nil
}

func (s *Service) UploadFile(ctx context.Context, localPath, parentID string) (models.CloudFile, error) {
	if err := s.begin(ctx); err != nil {
		return models.CloudFile{}, err
	}
	f, _, err := cloud.OpenLocal(ServiceName, localPath)
	if err != nil {
		return models.CloudFile{}, err
	}
	defer f.Close()

	dir, err := s.folderPath(parentID)
	if err != nil {
		return models.CloudFile{}, err
	}
	name := filepath.Base(localPath)
	remote := dir + "/" + name
	if _, err := s.client.Files.Upload(&dropbox.UploadInput{
		Path:   remote,
		Mode:   dropbox.WriteModeOverwrite,
		Mute:   true,
		Reader: f,
	}); err != nil {
		return models.CloudFile{}, classify("upload "+name, err)
	}
	s.cache.Invalidate()
	return s.stat(remote, parentID)
}

// stat reads back the metadata of an entry that was just written.
func (s *Service) stat(remote, parentID string) (models.CloudFile, error) {
	out, err := s.client.Files.GetMetadata(&dropbox.GetMetadataInput{Path: remote})
	if err != nil {
		return models.CloudFile{}, classify("read metadata of "+remote, err)
	}
	meta := out.Metadata
	return toCloudFile(&meta, parentID), nil
}

func (s *Service) DownloadFile(ctx context.Context, fileID, destPath string) (string, error) {
	if err := s.begin(ctx); err != nil {
		return "", err
	}
	meta, err := s.client.Files.GetMetadata(&dropbox.GetMetadataInput{Path: fileID})
	if err != nil {
		return "", classify("download "+fileID, err)
	}
	if meta.Metadata.Tag == "folder" {
		return "", cloud.NewServiceError(ServiceName, "cannot download folder "+meta.Metadata.Name, nil)
	}

	out, err := s.client.Files.Download(&dropbox.DownloadInput{Path: fileID})
	if err != nil {
		return "", classify("download "+meta.Metadata.Name, err)
	}
	defer out.Body.Close()

	target := cloud.ResolveDownloadPath(destPath, meta.Metadata.Name)
	if err := cloud.WriteAtomic(target, out.Body); err != nil {
		return "", cloud.NewServiceError(ServiceName, "download "+meta.Metadata.Name, err)
	}
	return target, nil
}

// DeleteFile removes the entry. Dropbox keeps deleted files restorable for
// its retention window either way; purging needs a team account, so
// permanent deletes use the same call.
func (s *Service) DeleteFile(ctx context.Context, fileID string, permanent bool) (bool, error) {
	if err := s.begin(ctx); err != nil {
		return false, err
	}
	if _, err := s.client.Files.Delete(&dropbox.DeleteInput{Path: fileID}); err != nil {
		return false, classify("delete "+fileID, err)
	}
	s.cache.Invalidate()
	return true, nil
}

func (s *Service) CreateFolder(ctx context.Context, name, parentID string) (models.CloudFile, error) {
	if err := s.begin(ctx); err != nil {
		return models.CloudFile{}, err
	}
	if strings.TrimSpace(name) == "" {
		return models.CloudFile{}, cloud.NewServiceError(ServiceName, "folder name is required", nil)
	}
	dir, err := s.folderPath(parentID)
	if err != nil {
		return models.CloudFile{}, err
	}
	remote := dir + "/" + name
	if _, err := s.client.Files.CreateFolder(&dropbox.CreateFolderInput{Path: remote}); err != nil {
		return models.CloudFile{}, classify("create folder "+name, err)
	}
	s.cache.Invalidate()
	return s.stat(remote, parentID)
}
