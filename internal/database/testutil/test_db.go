// Package testutil opens throwaway SQLite databases for package tests.
package testutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/breachrange/internal/database"
)

// Option adjusts MustOpenTestDB.
type Option func(*options)

type options struct {
	migrate bool
	config  database.Config
}

// WithAutoMigrate creates the cache schema once the database is open.
func WithAutoMigrate() Option {
	return func(o *options) { o.migrate = true }
}

// WithPool caps the pool of the test database.
func WithPool(maxOpen int) Option {
	return func(o *options) { o.config.MaxOpenConns = maxOpen }
}

// MustOpenTestDB opens a uniquely named shared-cache in-memory SQLite database.
// The handle is closed when the test finishes.
func MustOpenTestDB(t *testing.T, opts ...Option) *gorm.DB {
	t.Helper()

	o := options{config: database.Config{
		Driver: "sqlite",
		DSN:    "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	}}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := database.Open(o.config)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if o.migrate {
		require.NoError(t, database.AutoMigrate(db))
	}
	return db
}
