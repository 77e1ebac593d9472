package folderfort

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/pkg/errors"
)

// flexID accepts ids sent as numbers or strings.
type flexID string

func (id *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = flexID(n.String())
	return nil
}

type fileEntry struct {
	ID        flexID `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Mime      string `json:"mime"`
	FileSize  *int64 `json:"file_size"`
	ParentID  flexID `json:"parent_id"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	URL       string `json:"url"`
}

func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000000Z", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return models.TimePtr(t.UTC())
		}
	}
	return nil
}

func (e fileEntry) toCloudFile() models.CloudFile {
	f := models.CloudFile{
		ID:         string(e.ID),
		Name:       e.Name,
		Size:       e.FileSize,
		MimeType:   e.Mime,
		ParentID:   string(e.ParentID),
		CreatedAt:  parseTime(e.CreatedAt),
		ModifiedAt: parseTime(e.UpdatedAt),
		Service:    ServiceName,
		IsFolder:   e.Type == "folder",
	}
	if f.IsFolder {
		f.MimeType = models.FolderMimeType
		f.Size = nil
	}
	return f
}

// Authenticate logs in with email and password, or adopts creds.Token as is.
func (s *Service) Authenticate(ctx context.Context, creds cloud.Credentials) (string, error) {
	if err := cloud.CheckContext(ctx, ServiceName); err != nil {
		return "", err
	}
	if creds.Token != "" {
		s.token = creds.Token
		return s.token, nil
	}
	if creds.Email == "" || creds.Password == "" {
		return "", cloud.NewAuthError(ServiceName, "email and password are required")
	}

	var out struct {
		Status string `json:"status"`
		User   struct {
			AccessToken string `json:"access_token"`
		} `json:"user"`
	}
	status, err := s.do(ctx, request{
		method:      http.MethodPost,
		path:        "auth/login",
		contentType: "application/json",
		body: jsonBody(map[string]string{
			"email":      creds.Email,
			"password":   creds.Password,
			"token_name": TokenName,
		}),
	}, &out)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			if status == http.StatusUnprocessableEntity {
				return "", cloud.NewAuthError(ServiceName, "Validation error: "+apiErr.message)
			}
			return "", cloud.NewAuthError(ServiceName, fmt.Sprintf("Login failed: HTTP %d", status))
		}
		return "", &cloud.AuthenticationError{ServiceError: cloud.ServiceError{Service: ServiceName, Message: "Login failed", Err: err}}
	}
	if out.Status != "success" || out.User.AccessToken == "" {
		return "", cloud.NewAuthError(ServiceName, "Login failed: no access token in response")
	}
	s.token = out.User.AccessToken
	return s.token, nil
}

type listPage struct {
	Data        []fileEntry `json:"data"`
	CurrentPage int         `json:"current_page"`
	LastPage    int         `json:"last_page"`
}

func (s *Service) ListFiles(ctx context.Context, opts cloud.ListOptions) ([]models.CloudFile, error) {
	if err := cloud.CheckContext(ctx, ServiceName); err != nil {
		return nil, err
	}
	if files, ok := s.cache.Get(s.token, opts); ok {
		return files, nil
	}

	limit := opts.EffectiveLimit()
	perPage := limit
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	query := map[string][]string{
		"perPage":  {strconv.Itoa(perPage)},
		"orderBy":  {"name"},
		"orderDir": {"asc"},
	}
	if opts.FolderID != "" {
		query["parentIds"] = []string{opts.FolderID}
	}
	if opts.Query != "" {
		query["query"] = []string{opts.Query}
	}
	if opts.MimeType != "" {
		query["type"] = []string{opts.MimeType}
	}
	if opts.Trashed {
		query["deletedOnly"] = []string{"1"}
	}

	var files []models.CloudFile
	for page := 1; len(files) < limit; page++ {
		query["page"] = []string{strconv.Itoa(page)}
		var out listPage
		if _, err := s.do(ctx, request{method: http.MethodGet, path: "drive/file-entries", query: query, auth: true, idempotent: true}, &out); err != nil {
			return nil, classify("list files", err)
		}
		for _, e := range out.Data {
			files = append(files, e.toCloudFile())
		}
		if len(out.Data) == 0 || out.LastPage == 0 || out.CurrentPage >= out.LastPage {
			break
		}
	}

	cloud.SortByName(files)
	files = cloud.Truncate(files, limit)
	s.cache.Put(s.token, opts, files)
	return files, nil
}

func (s *Service) UploadFile(ctx context.Context, localPath, parentID string) (models.CloudFile, error) {
	if err := cloud.CheckContext(ctx, ServiceName); err != nil {
		return models.CloudFile{}, err
	}
	f, _, err := cloud.OpenLocal(ServiceName, localPath)
	if err != nil {
		return models.CloudFile{}, err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return models.CloudFile{}, cloud.NewServiceError(ServiceName, "build upload", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return models.CloudFile{}, cloud.NewServiceError(ServiceName, "read "+localPath, err)
	}
	if parentID != "" {
		if err := mw.WriteField("parentId", parentID); err != nil {
			return models.CloudFile{}, cloud.NewServiceError(ServiceName, "build upload", err)
		}
	}
	if err := mw.Close(); err != nil {
		return models.CloudFile{}, cloud.NewServiceError(ServiceName, "build upload", err)
	}

	var out struct {
		FileEntry fileEntry `json:"fileEntry"`
	}
	status, err := s.do(ctx, request{
		method:      http.MethodPost,
		path:        "uploads",
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
		auth:        true,
	}, &out)
	if err != nil {
		if status == http.StatusForbidden {
			return models.CloudFile{}, cloud.QuotaError(ServiceName, "Upload rejected: storage quota exceeded")
		}
		return models.CloudFile{}, classify("upload "+filepath.Base(localPath), err)
	}
	s.cache.Invalidate()
	return out.FileEntry.toCloudFile(), nil
}

func (s *Service) DownloadFile(ctx context.Context, fileID, destPath string) (string, error) {
	if err := cloud.CheckContext(ctx, ServiceName); err != nil {
		return "", err
	}
	var out struct {
		FileEntry fileEntry `json:"fileEntry"`
	}
	if _, err := s.do(ctx, request{method: http.MethodGet, path: "file-entries/" + fileID, auth: true, idempotent: true}, &out); err != nil {
		return "", classify("download "+fileID, err)
	}
	entry := out.FileEntry
	if entry.Type == "folder" {
		return "", cloud.NewServiceError(ServiceName, "cannot download folder "+entry.Name, nil)
	}
	if entry.URL == "" {
		return "", cloud.NewServiceError(ServiceName, "no download URL for "+entry.Name, nil)
	}

	req, err := s.newRequest(ctx, request{method: http.MethodGet, path: entry.URL, auth: true})
	if err != nil {
		return "", cloud.NewServiceError(ServiceName, "download "+entry.Name, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", cloud.NewServiceError(ServiceName, "download "+entry.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", classify("download "+entry.Name, &apiError{status: resp.StatusCode, message: readMessage(resp.Body)})
	}

	target := cloud.ResolveDownloadPath(destPath, entry.Name)
	if err := cloud.WriteAtomic(target, resp.Body); err != nil {
		return "", cloud.NewServiceError(ServiceName, "download "+entry.Name, err)
	}
	return target, nil
}

func (s *Service) DeleteFile(ctx context.Context, fileID string, permanent bool) (bool, error) {
	if err := cloud.CheckContext(ctx, ServiceName); err != nil {
		return false, err
	}
	var ids []any
	if n, err := strconv.ParseInt(fileID, 10, 64); err == nil {
		ids = []any{n}
	} else {
		ids = []any{fileID}
	}
	_, err := s.do(ctx, request{
		method:      http.MethodDelete,
		path:        "file-entries",
		contentType: "application/json",
		body:        jsonBody(map[string]any{"entryIds": ids, "deleteForever": permanent}),
		auth:        true,
	}, nil)
	if err != nil {
		return false, classify("delete "+fileID, err)
	}
	s.cache.Invalidate()
	return true, nil
}

func (s *Service) CreateFolder(ctx context.Context, name, parentID string) (models.CloudFile, error) {
	if err := cloud.CheckContext(ctx, ServiceName); err != nil {
		return models.CloudFile{}, err
	}
	if strings.TrimSpace(name) == "" {
		return models.CloudFile{}, cloud.NewServiceError(ServiceName, "folder name is required", nil)
	}
	body := map[string]any{"name": name}
	if parentID != "" {
		if n, err := strconv.ParseInt(parentID, 10, 64); err == nil {
			body["parentId"] = n
		} else {
			body["parentId"] = parentID
		}
	}
	var out struct {
		Status string    `json:"status"`
		Folder fileEntry `json:"folder"`
	}
	if _, err := s.do(ctx, request{
		method:      http.MethodPost,
		path:        "folders",
		contentType: "application/json",
		body:        jsonBody(body),
		auth:        true,
	}, &out); err != nil {
		return models.CloudFile{}, classify("create folder "+name, err)
	}
	s.cache.Invalidate()
	folder := out.Folder.toCloudFile()
	folder.IsFolder = true
	folder.MimeType = models.FolderMimeType
	return folder, nil
}

// validationMessage joins an errors map into one line, sorted by field.
func validationMessage(raw []byte) string {
	var body struct {
		Message string              `json:"message"`
		Errors  map[string][]string `json:"errors"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}
	if len(body.Errors) == 0 {
		if body.Message == "" {
			return strings.TrimSpace(string(raw))
		}
		return body.Message
	}
	fields := make([]string, 0, len(body.Errors))
	for k := range body.Errors {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	var msgs []string
	for _, k := range fields {
		msgs = append(msgs, body.Errors[k]...)
	}
	return strings.Join(msgs, "; ")
}
