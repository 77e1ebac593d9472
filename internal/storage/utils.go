package storage

import (
	"github.com/nadalpiantini/omnidrive/pkg/storage"
	"github.com/pkg/errors"
)

// InitStore opens the job store named by driver: "memory" or "postgres".
func InitStore(driver, dsn string) (storage.JobStore, error) {
	switch driver {
	case "", "memory":
		return storage.NewMemoryStore(), nil
	case "postgres":
		if dsn == "" {
			return nil, errors.New("postgres job store requires a connection string")
		}
		store, err := NewPostgresStore(dsn)
		if err != nil {
			return nil, errors.Wrap(err, "open postgres job store")
		}
		return store, nil
	default:
		return nil, errors.Errorf("unknown job store driver %q", driver)
	}
}
