package cloud

import (
	"testing"
	"time"

	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListCache(t *testing.T) {
	opts := ListOptions{FolderID: "root", Limit: 10}
	files := []models.CloudFile{{ID: "1", Name: "a"}}

	t.Run("HitAndKey", func(t *testing.T) {
		c := NewListCache(time.Minute)
		_, ok := c.Get("tok", opts)
		assert.False(t, ok)

		c.Put("tok", opts, files)
		got, ok := c.Get("tok", opts)
		require.True(t, ok)
		assert.Equal(t, files, got)

		_, ok = c.Get("tok", ListOptions{FolderID: "root", Limit: 20})
		assert.False(t, ok, "limit is part of the key")
	})

	t.Run("ScopedByCredential", func(t *testing.T) {
		c := NewListCache(time.Minute)
		c.Put("alice", opts, files)
		_, ok := c.Get("bob", opts)
		assert.False(t, ok)
		_, ok = c.Get("alice", opts)
		assert.True(t, ok)
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		c := NewListCache(time.Minute)
		c.Put("tok", opts, files)
		got, _ := c.Get("tok", opts)
		got[0].Name = "changed"
		again, _ := c.Get("tok", opts)
		assert.Equal(t, "a", again[0].Name)
	})

	t.Run("Expires", func(t *testing.T) {
		c := NewListCache(30 * time.Millisecond)
		c.Put("tok", opts, files)
		assert.Eventually(t, func() bool {
			_, ok := c.Get("tok", opts)
			return !ok
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("EvictsLeastRecentlyUsed", func(t *testing.T) {
		c := NewSizedListCache(2, time.Minute)
		c.Put("tok", ListOptions{FolderID: "a"}, files)
		c.Put("tok", ListOptions{FolderID: "b"}, files)
		_, _ = c.Get("tok", ListOptions{FolderID: "a"})
		c.Put("tok", ListOptions{FolderID: "c"}, files)

		assert.Equal(t, 2, c.Len())
		_, ok := c.Get("tok", ListOptions{FolderID: "b"})
		assert.False(t, ok)
		_, ok = c.Get("tok", ListOptions{FolderID: "a"})
		assert.True(t, ok)
	})

	t.Run("TrashedBypassesCache", func(t *testing.T) {
		c := NewListCache(time.Minute)
		trashed := ListOptions{FolderID: "root", Trashed: true}
		c.Put("tok", trashed, files)
		_, ok := c.Get("tok", trashed)
		assert.False(t, ok)
		assert.Zero(t, c.Len())
	})

	t.Run("Invalidate", func(t *testing.T) {
		c := NewListCache(time.Minute)
		c.Put("tok", opts, files)
		c.Invalidate()
		_, ok := c.Get("tok", opts)
		assert.False(t, ok)
	})

	t.Run("NilCache", func(t *testing.T) {
		var nilCache *ListCache
		nilCache.Put("tok", opts, files)
		_, ok := nilCache.Get("tok", opts)
		assert.False(t, ok)
		nilCache.Invalidate()
		assert.Zero(t, nilCache.Len())
	})
}
