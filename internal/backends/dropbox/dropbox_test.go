package dropbox_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/nadalpiantini/omnidrive/internal/backends/dropbox"
	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redirect sends every Dropbox API host to the test server.
type redirect struct {
	target *url.URL
	next   http.RoundTripper
}

func (r redirect) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = r.target.Scheme
	req.URL.Host = r.target.Host
	return r.next.RoundTrip(req)
}

func newService(t *testing.T, token string, h http.HandlerFunc) *dropbox.Service {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client := &http.Client{Transport: redirect{target: target, next: http.DefaultTransport}}
	return dropbox.New(token, dropbox.WithHTTPClient(client))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestListFiles(t *testing.T) {
	ctx := context.Background()

	t.Run("FollowsCursor", func(t *testing.T) {
		svc := newService(t, "tok", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			switch r.URL.Path {
			case "/2/files/list_folder":
				writeJSON(w, http.StatusOK, map[string]any{
					"cursor": "c1", "has_more": true,
					"entries": []map[string]any{
						{".tag": "file", "id": "id:b", "name": "b.pdf", "path_lower": "/b.pdf", "size": 7},
						{".tag": "folder", "id": "id:d", "name": "docs", "path_lower": "/docs"},
					},
				})
			case "/2/files/list_folder/continue":
				writeJSON(w, http.StatusOK, map[string]any{
					"cursor": "c2", "has_more": false,
					"entries": []map[string]any{
						{".tag": "file", "id": "id:a", "name": "a.txt", "path_lower": "/a.txt", "size": 2},
					},
				})
			default:
				t.Errorf("unexpected path %s", r.URL.Path)
			}
		})

		files, err := svc.ListFiles(ctx, cloud.ListOptions{})
		require.NoError(t, err)
		require.Len(t, files, 3)
		assert.Equal(t, []string{"a.txt", "b.pdf", "docs"}, []string{files[0].Name, files[1].Name, files[2].Name})
		assert.Equal(t, "id:b", files[1].ID)
		assert.Equal(t, "application/pdf", files[1].MimeType)
		assert.Equal(t, int64(7), files[1].SizeBytes())
		assert.True(t, files[2].IsFolder)
	})

	t.Run("QueryFiltersByName", func(t *testing.T) {
		svc := newService(t, "tok", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"entries": []map[string]any{
				{".tag": "file", "id": "id:1", "name": "Report.txt"},
				{".tag": "file", "id": "id:2", "name": "notes.txt"},
			}})
		})
		files, err := svc.ListFiles(ctx, cloud.ListOptions{Query: "report"})
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "Report.txt", files[0].Name)
	})

	t.Run("NotAuthenticated", func(t *testing.T) {
		svc := newService(t, "", func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		_, err := svc.ListFiles(ctx, cloud.ListOptions{})
		assert.True(t, cloud.IsAuthError(err))
	})

	t.Run("ExpiredToken", func(t *testing.T) {
		svc := newService(t, "old", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error_summary": "expired_access_token/"})
		})
		_, err := svc.ListFiles(ctx, cloud.ListOptions{})
		assert.True(t, cloud.IsAuthError(err))
	})
}

func TestFileOperations(t *testing.T) {
	ctx := context.Background()

	t.Run("UploadIntoFolder", func(t *testing.T) {
		local := filepath.Join(t.TempDir(), "notes.txt")
		require.NoError(t, os.WriteFile(local, []byte("hi"), 0o644))

		var uploadedTo string
		svc := newService(t, "tok", func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/2/files/get_metadata":
				var in map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
				if in["path"] == "id:dir" {
					writeJSON(w, http.StatusOK, map[string]any{".tag": "folder", "id": "id:dir", "name": "Backups", "path_display": "/Backups"})
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{".tag": "file", "id": "id:new", "name": "notes.txt", "path_display": "/Backups/notes.txt", "size": 2})
			case "/2/files/upload":
				var arg map[string]any
				require.NoError(t, json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &arg))
				uploadedTo, _ = arg["path"].(string)
				writeJSON(w, http.StatusOK, map[string]any{"id": "id:new", "name": "notes.txt"})
			}
		})

		f, err := svc.UploadFile(ctx, local, "id:dir")
		require.NoError(t, err)
		assert.Equal(t, "/Backups/notes.txt", uploadedTo)
		assert.Equal(t, "id:new", f.ID)
		assert.Equal(t, "id:dir", f.ParentID)
	})

	t.Run("DownloadNotFound", func(t *testing.T) {
		svc := newService(t, "tok", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, map[string]string{"error_summary": "path/not_found/.."})
		})
		_, err := svc.DownloadFile(ctx, "id:gone", t.TempDir())
		assert.True(t, errors.Is(err, cloud.ErrNotFound))
	})

	t.Run("Download", func(t *testing.T) {
		svc := newService(t, "tok", func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/2/files/get_metadata":
				writeJSON(w, http.StatusOK, map[string]any{".tag": "file", "id": "id:f", "name": "f.txt"})
			case "/2/files/download":
				w.Write([]byte("body"))
			}
		})
		dir := t.TempDir()
		path, err := svc.DownloadFile(ctx, "id:f", dir)
		require.NoError(t, err)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "body", string(data))
	})

	t.Run("Delete", func(t *testing.T) {
		var deleted string
		svc := newService(t, "tok", func(w http.ResponseWriter, r *http.Request) {
			var in map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			deleted = in["path"]
			writeJSON(w, http.StatusOK, map[string]any{".tag": "file", "id": "id:f", "name": "f.txt"})
		})
		ok, err := svc.DeleteFile(ctx, "id:f", false)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "id:f", deleted)
	})

	t.Run("InsufficientSpace", func(t *testing.T) {
		svc := newService(t, "tok", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, map[string]string{"error_summary": "path/insufficient_space/"})
		})
		_, err := svc.CreateFolder(ctx, "new", "")
		assert.True(t, errors.Is(err, cloud.ErrQuotaExceeded))
	})
}
