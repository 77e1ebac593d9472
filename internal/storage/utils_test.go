package storage_test

import (
	"testing"

	internal_storage "github.com/nadalpiantini/omnidrive/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitStore(t *testing.T) {
	t.Run("MemoryByDefault", func(t *testing.T) {
		store, err := internal_storage.InitStore("", "")
		require.NoError(t, err)
		assert.NotNil(t, store)
		assert.NoError(t, store.Close())
	})

	t.Run("PostgresNeedsDSN", func(t *testing.T) {
		_, err := internal_storage.InitStore("postgres", "")
		assert.ErrorContains(t, err, "connection string")
	})

	t.Run("UnknownDriver", func(t *testing.T) {
		_, err := internal_storage.InitStore("mongo", "x")
		assert.ErrorContains(t, err, `unknown job store driver "mongo"`)
	})
}
