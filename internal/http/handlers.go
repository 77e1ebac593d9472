package http

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nadalpiantini/omnidrive/internal/log"
	"github.com/nadalpiantini/omnidrive/internal/pipelines"
	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/nadalpiantini/omnidrive/pkg/rag"
	"github.com/nadalpiantini/omnidrive/pkg/service"
	"github.com/nadalpiantini/omnidrive/pkg/storage"
	"github.com/pkg/errors"
)

const maxUploadMemory = 32 << 20

type errorResponse struct {
	Error string           `json:"error"`
	Kind  models.ErrorKind `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func badRequest(w http.ResponseWriter, format string, args ...interface{}) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf(format, args...)})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
}

// writeError maps err onto a status code. Authentication problems are 401,
// unknown backends 400, and other backend failures 502.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case service.IsWorkflowNotFound(err),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, cloud.ErrNotFound):
		status = http.StatusNotFound
	case cloud.IsAuthError(err):
		status = http.StatusUnauthorized
	case errors.Is(err, cloud.ErrQuotaExceeded):
		status = http.StatusInsufficientStorage
	case cloud.ServiceName(err) == "factory":
		status = http.StatusBadRequest
	case cloud.IsServiceError(err):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		log.GetLogger().Errorf("Request failed: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: cloud.Classify(err)})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func intParam(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("'%s' must be a non-negative integer", key)
	}
	return n, nil
}

func HealthHandler(services ServiceProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		backends := map[string]string{}
		for _, name := range services.Available() {
			backends[name] = "available"
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "services": backends})
	}
}

type serviceStatus struct {
	Name          string `json:"name"`
	Authenticated bool   `json:"authenticated"`
}

func ServicesHandler(services ServiceProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		statuses := []serviceStatus{}
		for _, name := range services.Available() {
			svc, err := services.CreateStored(name)
			statuses = append(statuses, serviceStatus{Name: name, Authenticated: err == nil && svc.IsAuthenticated()})
		}
		writeJSON(w, http.StatusOK, map[string]any{"services": statuses})
	}
}

func FilesHandler(services ServiceProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			listFilesHTTP(w, r, services)
		case http.MethodPost:
			uploadFileHTTP(w, r, services)
		default:
			methodNotAllowed(w)
		}
	}
}

func listFilesHTTP(w http.ResponseWriter, r *http.Request, services ServiceProvider) {
	name := r.PathValue("service")
	q := r.URL.Query()
	limit, err := intParam(r, "limit", cloud.DefaultListLimit)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	svc, err := services.CreateStored(name)
	if err != nil {
		writeError(w, err)
		return
	}
	opts := cloud.ListOptions{
		FolderID: q.Get("folder_id"),
		Limit:    limit,
		Query:    q.Get("query"),
		MimeType: q.Get("mime_type"),
		Trashed:  q.Get("trashed") == "true",
	}
	files, err := svc.ListFiles(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	if files == nil {
		files = []models.CloudFile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   name,
		"folder_id": opts.FolderID,
		"files":     files,
		"total":     len(files),
	})
}

func uploadFileHTTP(w http.ResponseWriter, r *http.Request, services ServiceProvider) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		badRequest(w, "Invalid multipart form: %v", err)
		return
	}
	part, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "Missing 'file' field")
		return
	}
	defer part.Close()

	svc, err := services.CreateStored(r.PathValue("service"))
	if err != nil {
		writeError(w, err)
		return
	}
	tmpDir, err := os.MkdirTemp("", "omnidrive-upload-*")
	if err != nil {
		writeError(w, err)
		return
	}
	defer os.RemoveAll(tmpDir)

	local := filepath.Join(tmpDir, filepath.Base(header.Filename))
	if err := cloud.WriteAtomic(local, part); err != nil {
		writeError(w, err)
		return
	}
	file, err := svc.UploadFile(r.Context(), local, r.FormValue("parent_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, file)
}

type folderRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

func FoldersHandler(services ServiceProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req folderRequest
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, "Invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			badRequest(w, "Missing 'name'")
			return
		}
		svc, err := services.CreateStored(r.PathValue("service"))
		if err != nil {
			writeError(w, err)
			return
		}
		folder, err := svc.CreateFolder(r.Context(), req.Name, req.ParentID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, folder)
	}
}

func FileHandler(services ServiceProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		permanent := r.URL.Query().Get("permanent") == "true"
		svc, err := services.CreateStored(r.PathValue("service"))
		if err != nil {
			writeError(w, err)
			return
		}
		ok, err := svc.DeleteFile(r.Context(), r.PathValue("id"), permanent)
		if err != nil {
			writeError(w, err)
			return
		}
		msg := "File deleted successfully"
		if permanent {
			msg = "File permanently deleted successfully"
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": ok, "message": msg})
	}
}

// DownloadHandler streams a remote file through a temporary local copy.
func DownloadHandler(services ServiceProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		svc, err := services.CreateStored(r.PathValue("service"))
		if err != nil {
			writeError(w, err)
			return
		}
		tmpDir, err := os.MkdirTemp("", "omnidrive-download-*")
		if err != nil {
			writeError(w, err)
			return
		}
		defer os.RemoveAll(tmpDir)

		local, err := svc.DownloadFile(r.Context(), r.PathValue("id"), tmpDir)
		if err != nil {
			writeError(w, err)
			return
		}
		f, err := os.Open(local)
		if err != nil {
			writeError(w, err)
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(local)}))
		if info, err := f.Stat(); err == nil {
			w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
		}
		if _, err := io.Copy(w, f); err != nil {
			log.GetLogger().Errorf("Download of %s interrupted: %v", r.PathValue("id"), err)
		}
	}
}

type compareRequest struct {
	Service1 string `json:"service1"`
	Service2 string `json:"service2"`
	Limit    int    `json:"limit"`
}

func CompareHandler(services ServiceProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req compareRequest
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, "Invalid request body: %v", err)
			return
		}
		if req.Service1 == "" || req.Service2 == "" {
			badRequest(w, "Both 'service1' and 'service2' are required")
			return
		}
		if req.Service1 == req.Service2 {
			badRequest(w, "Services must be different")
			return
		}
		a, err := services.CreateStored(req.Service1)
		if err != nil {
			writeError(w, err)
			return
		}
		b, err := services.CreateStored(req.Service2)
		if err != nil {
			writeError(w, err)
			return
		}
		diff, err := cloud.Compare(r.Context(), a, b, req.Limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, diff)
	}
}

type syncRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Limit  int    `json:"limit"`
	DryRun bool   `json:"dry_run"`
}

func SyncHandler(engine *service.Engine, services ServiceProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req syncRequest
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, "Invalid request body: %v", err)
			return
		}
		if req.Source == "" || req.Target == "" {
			badRequest(w, "Both 'source' and 'target' are required")
			return
		}
		if req.Source == req.Target {
			badRequest(w, "Source and target must be different")
			return
		}
		params := models.Params{"source": req.Source, "target": req.Target, "limit": req.Limit, "dry_run": req.DryRun}
		id, err := engine.Submit(r.Context(), models.SyncJobKind, pipelines.SyncJobName, params, 0,
			pipelines.SyncJob(services, req.Source, req.Target, req.Limit, req.DryRun))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"job_id":  id,
			"status":  models.PendingJobStatus,
			"message": fmt.Sprintf("Sync from %s to %s started", req.Source, req.Target),
		})
	}
}

type searchRequest struct {
	Query   string `json:"query"`
	TopK    int    `json:"top_k"`
	Service string `json:"service"`
}

type searchResult struct {
	FileName  string            `json:"file_name"`
	Service   string            `json:"service"`
	Relevance float64           `json:"relevance"`
	Snippet   string            `json:"snippet,omitempty"`
	Metadata  map[string]string `json:"metadata"`
}

const snippetRunes = 200

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetRunes {
		return text
	}
	return string(runes[:snippetRunes]) + "..."
}

func SearchHandler(searcher Searcher, defaultTopK int) http.HandlerFunc {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if searcher == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Semantic search is not configured"})
			return
		}
		var req searchRequest
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, "Invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			badRequest(w, "Missing 'query'")
			return
		}
		if req.TopK <= 0 {
			req.TopK = defaultTopK
		}
		matches, err := searcher.Search(r.Context(), req.Query, req.TopK, req.Service)
		if err != nil {
			writeError(w, err)
			return
		}
		results := make([]searchResult, 0, len(matches))
		for _, m := range matches {
			name := m.Metadata["file_name"]
			if name == "" {
				name = "Unknown"
			}
			results = append(results, searchResult{
				FileName:  name,
				Service:   m.Metadata["service"],
				Relevance: m.Score() * 100,
				Snippet:   snippet(m.Document),
				Metadata:  m.Metadata,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"query": req.Query, "results": results, "total": len(results)})
	}
}

type indexRequest struct {
	Service string `json:"service"`
	Limit   int    `json:"limit"`
}

// IndexHandler queues the indexing of one backend as a search job.
func IndexHandler(engine *service.Engine, services ServiceProvider, indexer ServiceIndexer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if indexer == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Semantic search is not configured"})
			return
		}
		var req indexRequest
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, "Invalid request body: %v", err)
			return
		}
		if req.Service == "" {
			badRequest(w, "Missing 'service'")
			return
		}
		params := models.Params{"service": req.Service, "limit": req.Limit}
		id, err := engine.Submit(r.Context(), models.SearchJobKind, pipelines.IndexJobName, params, 0,
			pipelines.IndexJob(services, indexer, req.Service, req.Limit))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"job_id": id, "status": models.PendingJobStatus})
	}
}

func WorkflowsHandler(engine *service.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		workflows := engine.ListWorkflows()
		writeJSON(w, http.StatusOK, map[string]any{"workflows": workflows, "total": len(workflows)})
	}
}

type runRequest struct {
	Parameters models.Params `json:"parameters"`
}

func RunWorkflowHandler(engine *service.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		name := r.PathValue("name")
		var req runRequest
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, "Invalid request body: %v", err)
			return
		}
		if req.Parameters == nil {
			req.Parameters = models.Params{}
		}
		id, err := engine.RunWorkflow(r.Context(), name, req.Parameters)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"job_id":        id,
			"workflow_name": name,
			"status":        models.PendingJobStatus,
			"message":       fmt.Sprintf("Workflow '%s' started", name),
		})
	}
}

func WorkflowStatusHandler(engine *service.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		job, err := engine.GetJobStatus(r.Context(), r.PathValue("job_id"))
		if err == nil && job.Workflow != r.PathValue("name") {
			err = errors.Wrap(storage.ErrNotFound, r.PathValue("job_id"))
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

// JobStatusHandler returns a job, or cancels it on DELETE.
func JobStatusHandler(engine *service.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("job_id")
		switch r.Method {
		case http.MethodGet:
			job, err := engine.GetJobStatus(r.Context(), id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, job)
		case http.MethodDelete:
			if !engine.CancelJob(id) {
				writeJSON(w, http.StatusConflict, errorResponse{Error: fmt.Sprintf("job %s is not running", id)})
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]any{"job_id": id, "cancelled": true})
		default:
			methodNotAllowed(w)
		}
	}
}

func JobsHandler(engine *service.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		limit, err := intParam(r, "limit", 0)
		if err != nil {
			badRequest(w, "%v", err)
			return
		}
		filter := storage.JobFilter{
			Status:   models.JobStatus(strings.ToUpper(r.URL.Query().Get("status"))),
			Workflow: r.URL.Query().Get("workflow"),
			Limit:    limit,
		}
		jobs, err := engine.ListJobs(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "total": len(jobs)})
	}
}

var _ Searcher = (*rag.SemanticSearch)(nil)
var _ ServiceIndexer = (*rag.Indexer)(nil)
