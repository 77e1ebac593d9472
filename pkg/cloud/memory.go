package cloud

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nadalpiantini/omnidrive/pkg/models"
)

type memoryEntry struct {
	file    models.CloudFile
	data    []byte
	trashed bool
}

// MemoryService is an in-process backend. It backs tests and the "memory"
// kind, which is useful for dry runs without any cloud account.
type MemoryService struct {
	name         string
	token        string
	requireToken bool
	quota        int64

	mu      sync.Mutex
	entries map[string]*memoryEntry
	calls   map[string]int
}

// NewMemoryService returns an empty backend that is already authenticated.
func NewMemoryService(name string) *MemoryService {
	return &MemoryService{
		name:    name,
		token:   "memory",
		entries: make(map[string]*memoryEntry),
		calls:   make(map[string]int),
	}
}

// RequireToken makes the backend start unauthenticated until Authenticate
// receives a non-empty token.
func (m *MemoryService) RequireToken() *MemoryService {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requireToken = true
	m.token = ""
	return m
}

// WithQuota limits the total bytes the backend accepts.
func (m *MemoryService) WithQuota(bytes int64) *MemoryService {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quota = bytes
	return m
}

// Put stores a file directly, bypassing the upload path.
func (m *MemoryService) Put(name string, data []byte, parentID string) models.CloudFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLocked(name, data, parentID, false)
}

func (m *MemoryService) putLocked(name string, data []byte, parentID string, folder bool) models.CloudFile {
	now := time.Now().UTC()
	f := models.CloudFile{
		ID:         uuid.NewString(),
		Name:       name,
		ParentID:   parentID,
		CreatedAt:  &now,
		ModifiedAt: &now,
		Service:    m.name,
		IsFolder:   folder,
	}
	if folder {
		f.MimeType = models.FolderMimeType
	} else {
		f.Size = models.Int64Ptr(int64(len(data)))
		f.MimeType = "application/octet-stream"
	}
	m.entries[f.ID] = &memoryEntry{file: f, data: append([]byte(nil), data...)}
	return f
}

// CallCount reports how many times op ("list", "upload", "download",
// "delete", "create_folder") was invoked.
func (m *MemoryService) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Constructor adapts the instance for Factory registration. Every created
// service shares the same underlying data.
func (m *MemoryService) Constructor() Constructor {
	return func(token string) (Service, error) {
		return m, nil
	}
}

func (m *MemoryService) Name() string {
	return m.name
}

func (m *MemoryService) Authenticate(ctx context.Context, creds Credentials) (string, error) {
	if err := CheckContext(ctx, m.name); err != nil {
		return "", err
	}
	if creds.Token == "" {
		return "", NewAuthError(m.name, "token required")
	}
	m.mu.Lock()
	m.token = creds.Token
	m.mu.Unlock()
	return creds.Token, nil
}

func (m *MemoryService) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.requireToken || m.token != ""
}

func (m *MemoryService) begin(ctx context.Context, op string) error {
	if err := CheckContext(ctx, m.name); err != nil {
		return err
	}
	m.mu.Lock()
	m.calls[op]++
	authed := !m.requireToken || m.token != ""
	m.mu.Unlock()
	if !authed {
		return NewAuthError(m.name, "not authenticated")
	}
	return nil
}

func (m *MemoryService) ListFiles(ctx context.Context, opts ListOptions) ([]models.CloudFile, error) {
	if err := m.begin(ctx, "list"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	var files []models.CloudFile
	for _, e := range m.entries {
		if e.trashed != opts.Trashed || e.file.ParentID != opts.FolderID {
			continue
		}
		if opts.Query != "" && !strings.Contains(strings.ToLower(e.file.Name), strings.ToLower(opts.Query)) {
			continue
		}
		if opts.MimeType != "" && e.file.MimeType != opts.MimeType {
			continue
		}
		files = append(files, e.file)
	}
	m.mu.Unlock()
	SortByName(files)
	return Truncate(files, opts.EffectiveLimit()), nil
}

func (m *MemoryService) UploadFile(ctx context.Context, localPath, parentID string) (models.CloudFile, error) {
	if err := m.begin(ctx, "upload"); err != nil {
		return models.CloudFile{}, err
	}
	f, _, err := OpenLocal(m.name, localPath)
	if err != nil {
		return models.CloudFile{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return models.CloudFile{}, NewServiceError(m.name, "read "+localPath, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if parentID != "" {
		parent, ok := m.entries[parentID]
		if !ok || !parent.file.IsFolder {
			return models.CloudFile{}, NotFoundError(m.name, "folder "+parentID)
		}
	}
	if m.quota > 0 && m.usedLocked()+int64(len(data)) > m.quota {
		return models.CloudFile{}, QuotaError(m.name, "")
	}
	return m.putLocked(filepath.Base(localPath), data, parentID, false), nil
}

func (m *MemoryService) usedLocked() int64 {
	var used int64
	for _, e := range m.entries {
		used += int64(len(e.data))
	}
	return used
}

func (m *MemoryService) DownloadFile(ctx context.Context, fileID, destPath string) (string, error) {
	if err := m.begin(ctx, "download"); err != nil {
		return "", err
	}
	m.mu.Lock()
	e, ok := m.entries[fileID]
	var data []byte
	var name string
	var folder bool
	if ok {
		data = append([]byte(nil), e.data...)
		name = e.file.Name
		folder = e.file.IsFolder
	}
	m.mu.Unlock()
	if !ok {
		return "", NotFoundError(m.name, "file "+fileID)
	}
	if folder {
		return "", NewServiceError(m.name, "cannot download folder "+name, nil)
	}

	target := ResolveDownloadPath(destPath, name)
	if err := WriteAtomic(target, bytes.NewReader(data)); err != nil {
		return "", NewServiceError(m.name, "download "+name, err)
	}
	return target, nil
}

// DeleteFile trashes idempotently. A permanent delete of an id that is
// already gone fails.
func (m *MemoryService) DeleteFile(ctx context.Context, fileID string, permanent bool) (bool, error) {
	if err := m.begin(ctx, "delete"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[fileID]
	if !ok {
		return false, NotFoundError(m.name, "file "+fileID)
	}
	if permanent {
		delete(m.entries, fileID)
		return true, nil
	}
	e.trashed = true
	return true, nil
}

func (m *MemoryService) CreateFolder(ctx context.Context, name, parentID string) (models.CloudFile, error) {
	if err := m.begin(ctx, "create_folder"); err != nil {
		return models.CloudFile{}, err
	}
	if name == "" {
		return models.CloudFile{}, NewServiceError(m.name, "folder name is required", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLocked(name, nil, parentID, true), nil
}
