package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"gorm.io/datatypes"

	"github.com/noah-isme/lms-gateway/internal/dto"
	"github.com/noah-isme/lms-gateway/internal/models"
	"github.com/noah-isme/lms-gateway/internal/repository"
)

// ErrInvalidPreferenceValue is returned when a value fails its key's constraints.
var ErrInvalidPreferenceValue = errors.New("invalid preference value")

// PreferenceService manages local key/value preferences such as the UI language
// and a referral code captured from a signup link.
type PreferenceService interface {
	Get(ctx context.Context, owner, key string) (dto.PreferenceResponse, error)
	List(ctx context.Context, owner string) ([]dto.PreferenceResponse, error)
	Put(ctx context.Context, owner string, request dto.PreferenceUpdateRequest) (dto.PreferenceResponse, error)
	RememberReferral(ctx context.Context, owner, code string) error
}

type preferenceService struct {
	repo      repository.PreferenceRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewPreferenceService constructs the preference service.
func NewPreferenceService(repo repository.PreferenceRepository, validate *validator.Validate, logger zerolog.Logger) PreferenceService {
	return &preferenceService{
		repo:      repo,
		validator: validate,
		logger:    logger.With().Str("component", "preference_service").Logger(),
	}
}

func (s *preferenceService) Get(ctx context.Context, owner, key string) (dto.PreferenceResponse, error) {
	if strings.TrimSpace(owner) == "" {
		return dto.PreferenceResponse{}, ErrPrincipalRequired
	}
	preference, err := s.repo.Get(ctx, owner, strings.TrimSpace(key))
	if err != nil {
		return dto.PreferenceResponse{}, err
	}
	return dto.NewPreferenceResponse(preference), nil
}

func (s *preferenceService) List(ctx context.Context, owner string) ([]dto.PreferenceResponse, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, ErrPrincipalRequired
	}
	items, err := s.repo.List(ctx, owner)
	if err != nil {
		return nil, err
	}
	return dto.NewPreferenceResponseSlice(items), nil
}

func (s *preferenceService) Put(ctx context.Context, owner string, request dto.PreferenceUpdateRequest) (dto.PreferenceResponse, error) {
	if strings.TrimSpace(owner) == "" {
		return dto.PreferenceResponse{}, ErrPrincipalRequired
	}
	request.Key = strings.TrimSpace(request.Key)
	if err := s.validator.Struct(request); err != nil {
		return dto.PreferenceResponse{}, err
	}
	if err := validatePreferenceValue(request.Key, request.Value); err != nil {
		return dto.PreferenceResponse{}, err
	}

	preference := models.Preference{
		Owner: owner,
		Key:   request.Key,
		Value: datatypes.JSON(request.Value),
	}
	if err := s.repo.Put(ctx, &preference); err != nil {
		return dto.PreferenceResponse{}, err
	}

	s.logger.Debug().Str("owner", owner).Str("key", request.Key).Msg("preference stored")
	return dto.NewPreferenceResponse(preference), nil
}

func (s *preferenceService) RememberReferral(ctx context.Context, owner, code string) error {
	code = strings.TrimSpace(code)
	if code == "" || strings.TrimSpace(owner) == "" {
		return nil
	}
	payload, err := json.Marshal(code)
	if err != nil {
		return err
	}
	_, err = s.Put(ctx, owner, dto.PreferenceUpdateRequest{Key: models.PreferenceReferralCode, Value: payload})
	return err
}

func validatePreferenceValue(key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("%w: value must be valid JSON", ErrInvalidPreferenceValue)
	}

	switch key {
	case models.PreferenceLanguage:
		var tag string
		if err := json.Unmarshal(value, &tag); err != nil {
			return fmt.Errorf("%w: language must be a string", ErrInvalidPreferenceValue)
		}
		if _, err := language.Parse(tag); err != nil {
			return fmt.Errorf("%w: unknown language tag %q", ErrInvalidPreferenceValue, tag)
		}
	case models.PreferenceReferralCode:
		var code string
		if err := json.Unmarshal(value, &code); err != nil || len(code) > 64 {
			return fmt.Errorf("%w: referral code must be a short string", ErrInvalidPreferenceValue)
		}
	}
	return nil
}
