package app_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nadalpiantini/omnidrive/internal/app"
	"github.com/nadalpiantini/omnidrive/internal/config"
	"github.com/nadalpiantini/omnidrive/internal/pipelines"
	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/nadalpiantini/omnidrive/pkg/rag"
	"github.com/nadalpiantini/omnidrive/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{"DEEPSEEK_API_KEY", "OMNIDRIVE_EMBEDDINGS_API_KEY", "OMNIDRIVE_JOBS_DRIVER", "DATABASE_URL", "OMNIDRIVE_SESSIONS_DIR"} {
		t.Setenv(key, "")
	}
	return home
}

func TestNew(t *testing.T) {
	home := isolate(t)
	a, err := app.New(context.Background(), app.Options{In: strings.NewReader(""), Out: &strings.Builder{}})
	require.NoError(t, err)

	t.Run("Backends", func(t *testing.T) {
		assert.ElementsMatch(t, []string{"google", "folderfort", "dropbox", "s3", "memory"}, a.Services.Available())
	})

	t.Run("ServerAndSessions", func(t *testing.T) {
		srv := a.Server()
		assert.Same(t, a.Tokens, srv.Tokens)
		assert.Equal(t, a.Config.Google.CredentialsPath, srv.GoogleKeyPath)
		assert.Equal(t, filepath.Join(home, config.Dir, "memory"), a.Sessions.Dir())
	})

	t.Run("OfflineEmbedder", func(t *testing.T) {
		_, ok := a.Embedder.(*rag.HashEmbedder)
		assert.True(t, ok)
	})

	t.Run("Workflows", func(t *testing.T) {
		names := map[string]bool{}
		for _, wf := range a.Engine.ListWorkflows() {
			names[wf.Name] = true
		}
		assert.True(t, names[pipelines.SmartSyncName])
		assert.True(t, names[pipelines.BackupDailyName])
	})

	t.Run("MemoryBackendRunsJobs", func(t *testing.T) {
		ctx := context.Background()
		svc, err := a.Services.Create(ctx, "memory", false)
		require.NoError(t, err)
		local := filepath.Join(t.TempDir(), "notes.txt")
		require.NoError(t, os.WriteFile(local, []byte("meeting notes about the launch"), 0o644))
		_, err = svc.UploadFile(ctx, local, "")
		require.NoError(t, err)

		id, err := a.Engine.Submit(ctx, models.SearchJobKind, "index", nil, 0,
			func(ctx context.Context, observe workflow.StepObserver) models.Result {
				stats, err := a.Indexer.IndexService(ctx, svc, 0, observe)
				if err != nil {
					return models.FailedResult(err)
				}
				return models.CompletedResult("indexed", stats)
			})
		require.NoError(t, err)
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		job, err := a.Engine.Wait(waitCtx, id, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, models.CompletedJobStatus, job.Status)
	})

	require.NoError(t, a.Close())
	_, err = os.Stat(filepath.Join(home, config.Dir, "vectors.json"))
	assert.NoError(t, err, "snapshot written after indexing")
}

func TestNewInvalidConfig(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jobs:\n  driver: postgres\n"), 0o600))
	_, err := app.New(context.Background(), app.Options{ConfigPath: path})
	assert.Error(t, err)
}

func TestSnapshotIndexer(t *testing.T) {
	ctx := context.Background()
	emb := rag.NewHashEmbedder(32)
	store := rag.NewVectorStore()
	path := filepath.Join(t.TempDir(), "vectors.json")
	ix := app.NewSnapshotIndexer(rag.NewIndexer(emb, store), store, path)

	t.Run("FlushWithoutChangesIsNoop", func(t *testing.T) {
		require.NoError(t, ix.Flush())
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("IndexFileMarksDirty", func(t *testing.T) {
		local := filepath.Join(t.TempDir(), "a.md")
		require.NoError(t, os.WriteFile(local, []byte("alpha beta"), 0o644))
		_, err := ix.IndexFile(ctx, local, "vault:a", "vault", nil)
		require.NoError(t, err)
		require.NoError(t, ix.Flush())

		reloaded := rag.NewVectorStore()
		require.NoError(t, reloaded.Load(path))
		assert.Equal(t, store.Count(), reloaded.Count())
	})

	t.Run("IndexServiceSaves", func(t *testing.T) {
		svc := cloud.NewMemoryService("google")
		svc.Put("b.txt", []byte("gamma delta"), "")
		require.NoError(t, os.Remove(path))

		stats, err := ix.IndexService(ctx, svc, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Indexed)
		_, err = os.Stat(path)
		assert.NoError(t, err)
	})
}
