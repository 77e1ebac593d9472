package s3

import (
	"context"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/nadalpiantini/omnidrive/pkg/models"
)

// prefixFor normalizes a folder id into a listing prefix.
func prefixFor(folderID string) string {
	if folderID == "" || strings.HasSuffix(folderID, "/") {
		return folderID
	}
	return folderID + "/"
}

func baseName(key string) string {
	return path.Base(strings.TrimSuffix(key, "/"))
}

func contentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func (s *Service) ListFiles(ctx context.Context, opts cloud.ListOptions) ([]models.CloudFile, error) {
	api, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	if files, ok := s.cache.Get(s.token, opts); ok {
		return files, nil
	}

	prefix := prefixFor(opts.FolderID)
	if opts.Trashed {
		prefix = TrashPrefix + prefix
	}
	limit := opts.EffectiveLimit()
	query := strings.ToLower(opts.Query)

	paginator := s3.NewListObjectsV2Paginator(api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.settings.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	var files []models.CloudFile
	keep := func(f models.CloudFile) {
		if query != "" && !strings.Contains(strings.ToLower(f.Name), query) {
			return
		}
		if opts.MimeType != "" && f.MimeType != opts.MimeType {
			return
		}
		files = append(files, f)
	}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("list files", err)
		}
		for _, cp := range page.CommonPrefixes {
			key := aws.ToString(cp.Prefix)
			if key == TrashPrefix {
				continue
			}
			keep(models.CloudFile{
				ID:       key,
				Name:     baseName(key),
				MimeType: models.FolderMimeType,
				ParentID: opts.FolderID,
				Service:  ServiceName,
				IsFolder: true,
			})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix || strings.HasSuffix(key, "/") {
				continue
			}
			keep(models.CloudFile{
				ID:         key,
				Name:       baseName(key),
				Size:       models.Int64Ptr(aws.ToInt64(obj.Size)),
				MimeType:   contentType(key),
				ParentID:   opts.FolderID,
				ModifiedAt: obj.LastModified,
				Service:    ServiceName,
			})
		}
	}

	cloud.SortByName(files)
	files = cloud.Truncate(files, limit)
	s.cache.Put(s.token, opts, files)
	return files, nil
}

func (s *Service) UploadFile(ctx context.Context, localPath, parentID string) (models.CloudFile, error) {
	api, err := s.client(ctx)
	if err != nil {
		return models.CloudFile{}, err
	}
	f, info, err := cloud.OpenLocal(ServiceName, localPath)
	if err != nil {
		return models.CloudFile{}, err
	}
	defer f.Close()

	name := filepath.Base(localPath)
	key := prefixFor(parentID) + name
	if _, err := api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.settings.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(name)),
	}); err != nil {
		return models.CloudFile{}, classify("upload "+name, err)
	}
	s.cache.Invalidate()
	modified := info.ModTime().UTC()
	return models.CloudFile{
		ID:         key,
		Name:       name,
		Size:       models.Int64Ptr(info.Size()),
		MimeType:   contentType(name),
		ParentID:   parentID,
		ModifiedAt: &modified,
		Service:    ServiceName,
	}, nil
}

func (s *Service) DownloadFile(ctx context.Context, fileID, destPath string) (string, error) {
	api, err := s.client(ctx)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(fileID, "/") {
		return "", cloud.NewServiceError(ServiceName, "cannot download folder "+fileID, nil)
	}
	out, err := api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.settings.Bucket),
		Key:    aws.String(fileID),
	})
	if err != nil {
		return "", classify("download "+fileID, err)
	}
	defer out.Body.Close()

	target := cloud.ResolveDownloadPath(destPath, baseName(fileID))
	if err := cloud.WriteAtomic(target, out.Body); err != nil {
		return "", cloud.NewServiceError(ServiceName, "download "+fileID, err)
	}
	return target, nil
}

// DeleteFile moves the object under TrashPrefix, or removes it when
// permanent is set. Both fail with ErrNotFound for a missing key.
func (s *Service) DeleteFile(ctx context.Context, fileID string, permanent bool) (bool, error) {
	api, err := s.client(ctx)
	if err != nil {
		return false, err
	}
	bucket := aws.String(s.settings.Bucket)
	if _, err := api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: bucket, Key: aws.String(fileID)}); err != nil {
		return false, classify("delete "+fileID, err)
	}
	if !permanent && !strings.HasPrefix(fileID, TrashPrefix) {
		if _, err := api.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     bucket,
			Key:        aws.String(TrashPrefix + fileID),
			CopySource: aws.String(url.PathEscape(s.settings.Bucket) + "/" + escapeKey(fileID)),
		}); err != nil {
			return false, classify("trash "+fileID, err)
		}
	}
	if _, err := api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: bucket, Key: aws.String(fileID)}); err != nil {
		return false, classify("delete "+fileID, err)
	}
	s.cache.Invalidate()
	return true, nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func (s *Service) CreateFolder(ctx context.Context, name, parentID string) (models.CloudFile, error) {
	api, err := s.client(ctx)
	if err != nil {
		return models.CloudFile{}, err
	}
	name = strings.Trim(name, "/")
	if name == "" {
		return models.CloudFile{}, cloud.NewServiceError(ServiceName, "folder name is required", nil)
	}
	key := prefixFor(parentID) + name + "/"
	if _, err := api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.settings.Bucket),
		Key:           aws.String(key),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	}); err != nil {
		return models.CloudFile{}, classify("create folder "+name, err)
	}
	s.cache.Invalidate()
	return models.CloudFile{
		ID:       key,
		Name:     name,
		MimeType: models.FolderMimeType,
		ParentID: parentID,
		Service:  ServiceName,
		IsFolder: true,
	}, nil
}
