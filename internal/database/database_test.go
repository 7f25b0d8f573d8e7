package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/BaSui01/ragflow/config"
)

func TestOpenSqliteAndPing(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: dsn, MaxOpenConns: 2}, nil)
	require.NoError(t, err)
	assert.NoError(t, Ping(context.Background(), db))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: dsn}, nil)
	require.NoError(t, err)

	calls := 0
	permanent := errors.New("constraint violation")
	err = WithRetry(context.Background(), db, 3, func(tx *gorm.DB) error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(errors.New("pq: deadlock detected")))
	assert.True(t, isRetryableError(errors.New("database is locked")))
	assert.True(t, isRetryableError(errors.New("driver: bad connection")))
	assert.False(t, isRetryableError(errors.New("syntax error")))
	assert.False(t, isRetryableError(nil))
}
