package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/lms-gateway/internal/models"
)

// PreferenceUpdateRequest sets a local preference value.
type PreferenceUpdateRequest struct {
	Key   string          `json:"-" validate:"required,min=1,max=64,excludesall=/"`
	Value json.RawMessage `json:"value" validate:"required"`
}

// PreferenceResponse describes a stored preference.
type PreferenceResponse struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// NewPreferenceResponse converts the model into a DTO.
func NewPreferenceResponse(model models.Preference) PreferenceResponse {
	return PreferenceResponse{
		Key:       model.Key,
		Value:     json.RawMessage(model.Value),
		UpdatedAt: model.UpdatedAt,
	}
}

// NewPreferenceResponseSlice converts models into DTOs.
func NewPreferenceResponseSlice(items []models.Preference) []PreferenceResponse {
	out := make([]PreferenceResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewPreferenceResponse(item))
	}
	return out
}
