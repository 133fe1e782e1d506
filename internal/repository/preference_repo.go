package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/lms-gateway/internal/models"
)

// ErrPreferenceNotFound is returned when no value is stored for a key.
var ErrPreferenceNotFound = errors.New("preference not found")

// PreferenceRepository persists last-write-wins key/value preferences.
type PreferenceRepository interface {
	Get(ctx context.Context, owner, key string) (models.Preference, error)
	List(ctx context.Context, owner string) ([]models.Preference, error)
	Put(ctx context.Context, preference *models.Preference) error
	Delete(ctx context.Context, owner, key string) error
}

type preferenceRepository struct {
	db *gorm.DB
}

// NewPreferenceRepository constructs a repository backed by GORM.
func NewPreferenceRepository(db *gorm.DB) PreferenceRepository {
	return &preferenceRepository{db: db}
}

func (r *preferenceRepository) Get(ctx context.Context, owner, key string) (models.Preference, error) {
	var preference models.Preference
	err := r.db.WithContext(ctx).
		Where("owner = ? AND pref_key = ?", owner, key).
		First(&preference).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Preference{}, ErrPreferenceNotFound
	}
	if err != nil {
		return models.Preference{}, err
	}
	return preference, nil
}

func (r *preferenceRepository) List(ctx context.Context, owner string) ([]models.Preference, error) {
	var preferences []models.Preference
	if err := r.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("pref_key ASC").
		Find(&preferences).Error; err != nil {
		return nil, err
	}
	return preferences, nil
}

// Put writes the value, replacing whatever was stored for the same owner and key.
func (r *preferenceRepository) Put(ctx context.Context, preference *models.Preference) error {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner"}, {Name: "pref_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	})
	if err := tx.Create(preference).Error; err != nil {
		return err
	}

	stored, err := r.Get(ctx, preference.Owner, preference.Key)
	if err != nil {
		return err
	}
	*preference = stored
	return nil
}

func (r *preferenceRepository) Delete(ctx context.Context, owner, key string) error {
	return r.db.WithContext(ctx).
		Where("owner = ? AND pref_key = ?", owner, key).
		Delete(&models.Preference{}).Error
}
