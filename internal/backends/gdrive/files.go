package gdrive

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/nadalpiantini/omnidrive/pkg/models"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

func (s *Service) ListFiles(ctx context.Context, opts cloud.ListOptions) ([]models.CloudFile, error) {
	if files, ok := s.cache.Get(s.keyPath, opts); ok {
		return files, nil
	}
	srv, err := s.client(ctx)
	if err != nil {
		return nil, err
	}

	limit := opts.EffectiveLimit()
	pageSize := limit
	if pageSize > maxPerPage {
		pageSize = maxPerPage
	}
	call := srv.Files.List().
		Q(buildQuery(opts)).
		PageSize(int64(pageSize)).
		OrderBy("name").
		Fields(googleapi.Field(listFields))

	var files []models.CloudFile
	pageToken := ""
	for len(files) < limit {
		if pageToken != "" {
			call.PageToken(pageToken)
		}
		res, err := call.Context(ctx).Do()
		if err != nil {
			return nil, classify("list files", err)
		}
		for _, f := range res.Files {
			files = append(files, toCloudFile(f))
		}
		if res.NextPageToken == "" {
			break
		}
		pageToken = res.NextPageToken
	}

	cloud.SortByName(files)
	files = cloud.Truncate(files, limit)
	s.cache.Put(s.keyPath, opts, files)
	return files, nil
}

func (s *Service) UploadFile(ctx context.Context, localPath, parentID string) (models.CloudFile, error) {
	srv, err := s.client(ctx)
	if err != nil {
		return models.CloudFile{}, err
	}
	f, _, err := cloud.OpenLocal(ServiceName, localPath)
	if err != nil {
		return models.CloudFile{}, err
	}
	defer f.Close()

	meta := &drive.File{Name: filepath.Base(localPath)}
	if parentID != "" {
		meta.Parents = []string{parentID}
	}
	created, err := srv.Files.Create(meta).
		Media(f).
		Fields(googleapi.Field(fileFields)).
		Context(ctx).
		Do()
	if err != nil {
		return models.CloudFile{}, classify("upload "+meta.Name, err)
	}
	s.cache.Invalidate()
	return toCloudFile(created), nil
}

func (s *Service) DownloadFile(ctx context.Context, fileID, destPath string) (string, error) {
	srv, err := s.client(ctx)
	if err != nil {
		return "", err
	}
	meta, err := srv.Files.Get(fileID).Fields("name, mimeType").Context(ctx).Do()
	if err != nil {
		return "", classify("download "+fileID, err)
	}
	if meta.MimeType == FolderMimeType {
		return "", cloud.NewServiceError(ServiceName, "cannot download folder "+meta.Name, nil)
	}
	if strings.HasPrefix(meta.MimeType, "application/vnd.google-apps.") {
		return "", cloud.NewServiceError(ServiceName, meta.Name+" is a Google Docs file and has no binary content", nil)
	}

	resp, err := srv.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return "", classify("download "+meta.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", cloud.NewServiceError(ServiceName, "download "+meta.Name+": "+resp.Status, nil)
	}

	target := cloud.ResolveDownloadPath(destPath, meta.Name)
	if err := cloud.WriteAtomic(target, resp.Body); err != nil {
		return "", cloud.NewServiceError(ServiceName, "download "+meta.Name, err)
	}
	return target, nil
}

func (s *Service) DeleteFile(ctx context.Context, fileID string, permanent bool) (bool, error) {
	srv, err := s.client(ctx)
	if err != nil {
		return false, err
	}
	if permanent {
		err = srv.Files.Delete(fileID).Context(ctx).Do()
	} else {
		_, err = srv.Files.Update(fileID, &drive.File{Trashed: true}).Fields("id").Context(ctx).Do()
	}
	if err != nil {
		return false, classify("delete "+fileID, err)
	}
	s.cache.Invalidate()
	return true, nil
}

func (s *Service) CreateFolder(ctx context.Context, name, parentID string) (models.CloudFile, error) {
	if strings.TrimSpace(name) == "" {
		return models.CloudFile{}, cloud.NewServiceError(ServiceName, "folder name is required", nil)
	}
	srv, err := s.client(ctx)
	if err != nil {
		return models.CloudFile{}, err
	}
	meta := &drive.File{Name: name, MimeType: FolderMimeType}
	if parentID != "" {
		meta.Parents = []string{parentID}
	}
	folder, err := srv.Files.Create(meta).Fields(googleapi.Field(fileFields)).Context(ctx).Do()
	if err != nil {
		return models.CloudFile{}, classify("create folder "+name, err)
	}
	s.cache.Invalidate()
	return toCloudFile(folder), nil
}
