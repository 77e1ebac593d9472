package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	internal_http "github.com/nadalpiantini/omnidrive/internal/http"
	"github.com/nadalpiantini/omnidrive/internal/metrics"
	"github.com/nadalpiantini/omnidrive/internal/pipelines"
	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/nadalpiantini/omnidrive/pkg/rag"
	"github.com/nadalpiantini/omnidrive/pkg/service"
	"github.com/nadalpiantini/omnidrive/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{}) {
	// no-op
}

func (l logger) Errorf(format string, args ...interface{}) {
	// no-op
}

type fixture struct {
	srv        *httptest.Server
	engine     *service.Engine
	google     *cloud.MemoryService
	folderfort *cloud.MemoryService
	hub        *internal_http.Hub
}

func newFixture(t *testing.T, withSearch bool) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	google := cloud.NewMemoryService("google")
	folderfort := cloud.NewMemoryService("folderfort")
	dropbox := cloud.NewMemoryService("dropbox").RequireToken()
	factory := cloud.NewFactory(nil, logger{})
	factory.Register(cloud.Google, google.Constructor())
	factory.Register(cloud.Folderfort, folderfort.Constructor())
	factory.Register(cloud.Dropbox, dropbox.Constructor())

	hub := internal_http.NewHub([]string{"*"})
	engine := service.NewEngine(ctx, storage.NewMemoryStore(), logger{}, service.WithWorkers(2), service.WithListener(hub))
	s := &internal_http.Server{
		Engine:      engine,
		Services:    factory,
		Hub:         hub,
		Metrics:     metrics.New(prometheus.NewRegistry()),
		CORSOrigins: []string{"*"},
		DefaultTopK: 3,
	}
	deps := pipelines.Deps{Services: factory, Logger: logger{}}
	if withSearch {
		emb := rag.NewHashEmbedder(64)
		store := rag.NewVectorStore()
		ix := rag.NewIndexer(emb, store)
		s.Search = rag.NewSemanticSearch(emb, store)
		s.Indexer = ix
		deps.Embedder, deps.Retriever, deps.Indexer = emb, store, ix
	}
	require.NoError(t, pipelines.Register(engine, deps))

	srv := httptest.NewServer(s.Routes())
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		cancel()
		engine.Close()
	})
	return &fixture{srv: srv, engine: engine, google: google, folderfort: folderfort, hub: hub}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func (f *fixture) wait(t *testing.T, id string) models.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := f.engine.Wait(ctx, id, 10*time.Millisecond)
	require.NoError(t, err)
	return job
}

func TestServer(t *testing.T) {
	t.Run("HealthCheck", func(t *testing.T) {
		f := newFixture(t, false)
		resp, body := f.do(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "healthy", body["status"])
		assert.Contains(t, body["services"], "google")
	})

	t.Run("Services", func(t *testing.T) {
		f := newFixture(t, false)
		resp, body := f.do(t, http.MethodGet, "/api/services", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		auth := map[string]bool{}
		for _, s := range body["services"].([]any) {
			m := s.(map[string]any)
			auth[m["name"].(string)] = m["authenticated"].(bool)
		}
		assert.Equal(t, map[string]bool{"google": true, "folderfort": true, "dropbox": false}, auth)
	})

	t.Run("ListFiles", func(t *testing.T) {
		f := newFixture(t, false)
		f.google.Put("a.txt", []byte("a"), "")
		f.google.Put("b.txt", []byte("b"), "")

		resp, body := f.do(t, http.MethodGet, "/api/files/google?limit=10", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(2), body["total"])

		resp, _ = f.do(t, http.MethodGet, "/api/files/google?limit=abc", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("ErrorMapping", func(t *testing.T) {
		f := newFixture(t, false)
		resp, body := f.do(t, http.MethodGet, "/api/files/onedrive", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "service", body["kind"])

		resp, body = f.do(t, http.MethodGet, "/api/files/dropbox", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "authentication", body["kind"])

		resp, _ = f.do(t, http.MethodPut, "/api/files/google", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("UploadDownloadDelete", func(t *testing.T) {
		f := newFixture(t, false)
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", "notes.md")
		require.NoError(t, err)
		_, err = part.Write([]byte("# hello"))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		resp, err := f.srv.Client().Post(f.srv.URL+"/api/files/google", mw.FormDataContentType(), &buf)
		require.NoError(t, err)
		var uploaded models.CloudFile
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&uploaded))
		resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, "notes.md", uploaded.Name)

		resp, err = f.srv.Client().Get(f.srv.URL + "/api/files/google/" + uploaded.ID + "/download")
		require.NoError(t, err)
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "# hello", string(data))
		assert.Contains(t, resp.Header.Get("Content-Disposition"), "notes.md")

		dresp, body := f.do(t, http.MethodDelete, "/api/files/google/"+uploaded.ID+"?permanent=true", nil)
		assert.Equal(t, http.StatusOK, dresp.StatusCode)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "File permanently deleted successfully", body["message"])

		dresp, _ = f.do(t, http.MethodGet, "/api/files/google/"+uploaded.ID+"/download", nil)
		assert.Equal(t, http.StatusNotFound, dresp.StatusCode)
	})

	t.Run("CreateFolder", func(t *testing.T) {
		f := newFixture(t, false)
		resp, body := f.do(t, http.MethodPost, "/api/files/folderfort/folders", map[string]string{"name": "Reports"})
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, "Reports", body["name"])

		resp, _ = f.do(t, http.MethodPost, "/api/files/folderfort/folders", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Compare", func(t *testing.T) {
		f := newFixture(t, false)
		f.google.Put("shared.txt", []byte("x"), "")
		f.google.Put("only-google.txt", []byte("x"), "")
		f.folderfort.Put("shared.txt", []byte("x"), "")

		resp, body := f.do(t, http.MethodPost, "/api/compare", map[string]any{"service1": "google", "service2": "folderfort", "limit": 50})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []any{"only-google.txt"}, body["only_in_a"])

		resp, _ = f.do(t, http.MethodPost, "/api/compare", map[string]any{"service1": "google", "service2": "google"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Sync", func(t *testing.T) {
		f := newFixture(t, false)
		f.google.Put("one.txt", []byte("1"), "")
		f.google.Put("two.txt", []byte("2"), "")
		f.folderfort.Put("two.txt", []byte("2"), "")

		resp, body := f.do(t, http.MethodPost, "/api/sync", map[string]any{"source": "google", "target": "folderfort"})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		id := body["job_id"].(string)

		job := f.wait(t, id)
		assert.Equal(t, models.CompletedJobStatus, job.Status)
		assert.Equal(t, models.SyncJobKind, job.Kind)
		assert.Equal(t, []any{"one.txt"}, job.Result["files_synced"])

		resp, body = f.do(t, http.MethodGet, "/api/sync/"+id, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "COMPLETED", body["status"])

		files, err := f.folderfort.ListFiles(context.Background(), cloud.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, files, 2)
	})

	t.Run("SyncDryRun", func(t *testing.T) {
		f := newFixture(t, false)
		f.google.Put("one.txt", []byte("1"), "")

		_, body := f.do(t, http.MethodPost, "/api/sync", map[string]any{"source": "google", "target": "folderfort", "dry_run": true})
		job := f.wait(t, body["job_id"].(string))
		assert.Equal(t, models.CompletedJobStatus, job.Status)
		assert.Equal(t, []any{"one.txt"}, job.Result["files_to_sync"])
		assert.Equal(t, 0, f.folderfort.CallCount("upload"))
	})

	t.Run("SyncFailureRecordsKind", func(t *testing.T) {
		f := newFixture(t, false)
		_, body := f.do(t, http.MethodPost, "/api/sync", map[string]any{"source": "google", "target": "dropbox"})
		job := f.wait(t, body["job_id"].(string))
		assert.Equal(t, models.FailedJobStatus, job.Status)
		assert.Equal(t, models.AuthenticationErrorKind, job.ErrorKind)
	})

	t.Run("Workflows", func(t *testing.T) {
		f := newFixture(t, false)
		resp, body := f.do(t, http.MethodGet, "/api/workflows", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(5), body["total"])

		resp, _ = f.do(t, http.MethodPost, "/api/workflows/nope/run", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("RunWorkflowAndStatus", func(t *testing.T) {
		f := newFixture(t, false)
		f.google.Put("doc.txt", []byte("doc"), "")

		params := map[string]any{"parameters": map[string]any{"source": "google", "target": "folderfort"}}
		resp, body := f.do(t, http.MethodPost, "/api/workflows/"+pipelines.SmartSyncName+"/run", params)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		id := body["job_id"].(string)
		f.wait(t, id)

		resp, body = f.do(t, http.MethodGet, "/api/workflows/"+pipelines.SmartSyncName+"/status/"+id, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "COMPLETED", body["status"])

		resp, _ = f.do(t, http.MethodGet, "/api/workflows/"+pipelines.BackupDailyName+"/status/"+id, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp, body = f.do(t, http.MethodGet, "/api/jobs?workflow="+pipelines.SmartSyncName+"&status=completed", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(1), body["total"])
	})

	t.Run("UnknownJob", func(t *testing.T) {
		f := newFixture(t, false)
		resp, _ := f.do(t, http.MethodGet, "/api/jobs/missing", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp, _ = f.do(t, http.MethodDelete, "/api/jobs/missing", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("SearchNotConfigured", func(t *testing.T) {
		f := newFixture(t, false)
		resp, _ := f.do(t, http.MethodPost, "/api/search", map[string]any{"query": "x"})
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("IndexAndSearch", func(t *testing.T) {
		f := newFixture(t, true)
		f.google.Put("budget.md", []byte("quarterly budget planning for the finance team"), "")
		f.google.Put("photo.png", []byte{0x89, 0x50}, "")

		resp, body := f.do(t, http.MethodPost, "/api/search/index", map[string]any{"service": "google"})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		job := f.wait(t, body["job_id"].(string))
		require.Equal(t, models.CompletedJobStatus, job.Status)
		assert.Equal(t, models.SearchJobKind, job.Kind)
		assert.Equal(t, float64(1), job.Result["indexed"])

		resp, body = f.do(t, http.MethodPost, "/api/search", map[string]any{"query": "budget planning"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		results := body["results"].([]any)
		require.NotEmpty(t, results)
		first := results[0].(map[string]any)
		assert.Equal(t, "budget.md", first["file_name"])
		assert.Equal(t, "google", first["service"])

		resp, _ = f.do(t, http.MethodPost, "/api/search", map[string]any{"query": "  "})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		f := newFixture(t, false)
		req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/sync", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://localhost:3000")
		resp, err := f.srv.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("Metrics", func(t *testing.T) {
		f := newFixture(t, false)
		f.do(t, http.MethodGet, "/health", nil)
		resp, err := f.srv.Client().Get(f.srv.URL + "/metrics")
		require.NoError(t, err)
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Contains(t, string(data), "omnidrive_http_requests_total")
	})
}

func TestWebSocket(t *testing.T) {
	f := newFixture(t, false)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	read := func() internal_http.Message {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg internal_http.Message
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	t.Run("Echo", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
		msg := read()
		assert.Equal(t, internal_http.EchoMessage, msg.Type)
		assert.Equal(t, "ping", msg.Data)
	})

	t.Run("JobUpdates", func(t *testing.T) {
		f.google.Put("x.txt", []byte("x"), "")
		_, body := f.do(t, http.MethodPost, "/api/sync", map[string]any{"source": "google", "target": "folderfort"})
		id := body["job_id"].(string)

		for {
			msg := read()
			if msg.JobID != id {
				continue
			}
			if msg.Type == internal_http.JobCompleteMessage {
				assert.Equal(t, models.CompletedJobStatus, msg.Status)
				assert.Equal(t, float64(1), msg.Progress)
				return
			}
			assert.Equal(t, internal_http.ProgressMessage, msg.Type)
		}
	})
}
