package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-gateway/internal/models"
)

func TestConnectRequiresDSN(t *testing.T) {
	_, err := Connect("  ")
	require.Error(t, err)
}

func TestConnectSQLiteAndMigrate(t *testing.T) {
	db, err := Connect("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.Equal(t, "sqlite", db.Dialector.Name())

	require.NoError(t, Migrate(db))
	require.True(t, db.Migrator().HasTable(&models.Preference{}))
}
