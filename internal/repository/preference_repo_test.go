package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/lms-gateway/internal/models"
)

func setupPreferenceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Preference{}))
	return db
}

func TestPreferenceRepositoryLastWriteWins(t *testing.T) {
	repo := NewPreferenceRepository(setupPreferenceTestDB(t))
	ctx := context.Background()

	first := models.Preference{Owner: "u1", Key: models.PreferenceLanguage, Value: datatypes.JSON(`"en"`)}
	require.NoError(t, repo.Put(ctx, &first))
	require.NotZero(t, first.ID)

	second := models.Preference{Owner: "u1", Key: models.PreferenceLanguage, Value: datatypes.JSON(`"id"`)}
	require.NoError(t, repo.Put(ctx, &second))
	require.Equal(t, first.ID, second.ID)

	stored, err := repo.Get(ctx, "u1", models.PreferenceLanguage)
	require.NoError(t, err)
	require.JSONEq(t, `"id"`, string(stored.Value))

	items, err := repo.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestPreferenceRepositoryScopesByOwner(t *testing.T) {
	repo := NewPreferenceRepository(setupPreferenceTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, &models.Preference{Owner: "u1", Key: models.PreferenceReferralCode, Value: datatypes.JSON(`"ADA10"`)}))
	require.NoError(t, repo.Put(ctx, &models.Preference{Owner: "u1", Key: models.PreferenceLanguage, Value: datatypes.JSON(`"en"`)}))
	require.NoError(t, repo.Put(ctx, &models.Preference{Owner: "u2", Key: models.PreferenceLanguage, Value: datatypes.JSON(`"fr"`)}))

	items, err := repo.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, models.PreferenceLanguage, items[0].Key)
	require.Equal(t, models.PreferenceReferralCode, items[1].Key)

	_, err = repo.Get(ctx, "u2", models.PreferenceReferralCode)
	require.ErrorIs(t, err, ErrPreferenceNotFound)

	require.NoError(t, repo.Delete(ctx, "u1", models.PreferenceReferralCode))
	_, err = repo.Get(ctx, "u1", models.PreferenceReferralCode)
	require.ErrorIs(t, err, ErrPreferenceNotFound)
}
