package models

import "time"

const FolderMimeType = "folder"

// CloudFile is one remote file or folder entry. IDs are unique within a
// service only.
type CloudFile struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Size       *int64     `json:"size,omitempty"`
	MimeType   string     `json:"mime_type,omitempty"`
	ParentID   string     `json:"parent_id,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
	Service    string     `json:"service"`
	IsFolder   bool       `json:"is_folder"`
}

func (f CloudFile) SizeBytes() int64 {
	if f.Size == nil {
		return 0
	}
	return *f.Size
}

func Int64Ptr(v int64) *int64 {
	return &v
}

func TimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
