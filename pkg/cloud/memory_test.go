package cloud_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryService(t *testing.T) {
	ctx := context.Background()

	t.Run("ListLimit", func(t *testing.T) {
		svc := cloud.NewMemoryService("memory")
		for i := 0; i < 1200; i++ {
			svc.Put(fmt.Sprintf("file-%04d.txt", i), []byte("x"), "")
		}
		for _, n := range []int{1, 100, 1000} {
			files, err := svc.ListFiles(ctx, cloud.ListOptions{Limit: n})
			require.NoError(t, err)
			assert.LessOrEqual(t, len(files), n)
			assert.Len(t, files, n)
		}
	})

	t.Run("ListOrderedByName", func(t *testing.T) {
		svc := cloud.NewMemoryService("memory")
		svc.Put("c.txt", nil, "")
		svc.Put("a.txt", nil, "")
		svc.Put("b.txt", nil, "")
		files, err := svc.ListFiles(ctx, cloud.ListOptions{})
		require.NoError(t, err)
		require.Len(t, files, 3)
		assert.Equal(t, "a.txt", files[0].Name)
		assert.Equal(t, "c.txt", files[2].Name)
	})

	t.Run("UploadDownloadRoundTrip", func(t *testing.T) {
		svc := cloud.NewMemoryService("memory")
		dir := t.TempDir()
		content := bytes.Repeat([]byte("omnidrive\x00\x01"), 512)
		src := filepath.Join(dir, "report.bin")
		require.NoError(t, os.WriteFile(src, content, 0o600))

		uploaded, err := svc.UploadFile(ctx, src, "")
		require.NoError(t, err)
		assert.Equal(t, "report.bin", uploaded.Name)
		assert.Equal(t, int64(len(content)), uploaded.SizeBytes())

		outDir := t.TempDir()
		local, err := svc.DownloadFile(ctx, uploaded.ID, outDir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(outDir, "report.bin"), local)
		got, err := os.ReadFile(local)
		require.NoError(t, err)
		assert.Equal(t, content, got)

		entries, err := os.ReadDir(outDir)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "no temp files left behind")
	})

	t.Run("UploadMissingFile", func(t *testing.T) {
		svc := cloud.NewMemoryService("memory")
		_, err := svc.UploadFile(ctx, filepath.Join(t.TempDir(), "nope.txt"), "")
		require.Error(t, err)
		assert.True(t, cloud.IsServiceError(err))
	})

	t.Run("UploadQuota", func(t *testing.T) {
		svc := cloud.NewMemoryService("memory").WithQuota(4)
		src := filepath.Join(t.TempDir(), "big.txt")
		require.NoError(t, os.WriteFile(src, []byte("too large"), 0o600))
		_, err := svc.UploadFile(ctx, src, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, cloud.ErrQuotaExceeded)
		assert.True(t, cloud.IsServiceError(err))
	})

	t.Run("DownloadMissing", func(t *testing.T) {
		svc := cloud.NewMemoryService("memory")
		_, err := svc.DownloadFile(ctx, "missing", t.TempDir())
		require.Error(t, err)
		assert.ErrorIs(t, err, cloud.ErrNotFound)
	})

	t.Run("DeleteIdempotence", func(t *testing.T) {
		svc := cloud.NewMemoryService("memory")
		f := svc.Put("old.txt", []byte("bye"), "")

		ok, err := svc.DeleteFile(ctx, f.ID, false)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = svc.DeleteFile(ctx, f.ID, false)
		require.NoError(t, err)
		assert.True(t, ok)

		trashed, err := svc.ListFiles(ctx, cloud.ListOptions{Trashed: true})
		require.NoError(t, err)
		assert.Len(t, trashed, 1)

		ok, err = svc.DeleteFile(ctx, f.ID, true)
		require.NoError(t, err)
		assert.True(t, ok)
		_, err = svc.DeleteFile(ctx, f.ID, true)
		require.Error(t, err)
		assert.True(t, cloud.IsServiceError(err))
	})

	t.Run("CreateFolder", func(t *testing.T) {
		svc := cloud.NewMemoryService("memory")
		folder, err := svc.CreateFolder(ctx, "docs", "")
		require.NoError(t, err)
		assert.True(t, folder.IsFolder)

		src := filepath.Join(t.TempDir(), "a.md")
		require.NoError(t, os.WriteFile(src, []byte("# a"), 0o600))
		_, err = svc.UploadFile(ctx, src, folder.ID)
		require.NoError(t, err)

		inside, err := svc.ListFiles(ctx, cloud.ListOptions{FolderID: folder.ID})
		require.NoError(t, err)
		require.Len(t, inside, 1)
		assert.Equal(t, folder.ID, inside[0].ParentID)
	})

	t.Run("RequiresToken", func(t *testing.T) {
		svc := cloud.NewMemoryService("memory").RequireToken()
		assert.False(t, svc.IsAuthenticated())
		_, err := svc.ListFiles(ctx, cloud.ListOptions{})
		assert.True(t, cloud.IsAuthError(err))

		_, err = svc.Authenticate(ctx, cloud.Credentials{})
		assert.True(t, cloud.IsAuthError(err))
		_, err = svc.Authenticate(ctx, cloud.Credentials{Token: "t"})
		require.NoError(t, err)
		assert.True(t, svc.IsAuthenticated())
	})

	t.Run("CancelledContext", func(t *testing.T) {
		svc := cloud.NewMemoryService("memory")
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := svc.ListFiles(cctx, cloud.ListOptions{})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, svc.CallCount("list"))
	})
}
