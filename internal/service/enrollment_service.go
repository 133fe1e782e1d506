package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/lms-gateway/internal/dto"
	"github.com/noah-isme/lms-gateway/internal/models"
	"github.com/noah-isme/lms-gateway/internal/observability"
)

// ErrPrincipalRequired is returned when an operation needs an authenticated caller.
var ErrPrincipalRequired = errors.New("authenticated user is required")

// EnrollmentSource loads a user's enrollments from the backend.
type EnrollmentSource interface {
	ListEnrollments(ctx context.Context, token string) ([]models.Enrollment, error)
}

// EnrollmentService serves filtered and sorted enrollment lists.
type EnrollmentService interface {
	List(ctx context.Context, principal Principal, criteria dto.EnrollmentCriteria) (dto.EnrollmentListResponse, error)
	Invalidate(ctx context.Context, userID string) error
}

type enrollmentService struct {
	source   EnrollmentSource
	cache    *redis.Client
	cacheTTL time.Duration
	group    singleflight.Group
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// NewEnrollmentService builds the enrollment service. A nil cache disables caching.
func NewEnrollmentService(source EnrollmentSource, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) EnrollmentService {
	return &enrollmentService{
		source:   source,
		cache:    cache,
		cacheTTL: ttl,
		logger:   logger.With().Str("component", "enrollment_service").Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/lms-gateway/internal/service/enrollment"),
	}
}

func (s *enrollmentService) List(ctx context.Context, principal Principal, criteria dto.EnrollmentCriteria) (dto.EnrollmentListResponse, error) {
	if !principal.Valid() {
		return dto.EnrollmentListResponse{}, ErrPrincipalRequired
	}

	spanCtx, span := s.tracer.Start(ctx, "enrollments.list", trace.WithAttributes(
		attribute.String("enrollment.user_id", principal.UserID),
		attribute.String("enrollment.sort", criteria.Sort),
	))
	defer span.End()

	items, hit, err := s.load(spanCtx, principal)
	if err != nil {
		span.RecordError(err)
		return dto.EnrollmentListResponse{}, err
	}

	filtered := ApplyEnrollmentCriteria(items, criteria)
	return dto.EnrollmentListResponse{
		Items:    dto.NewEnrollmentResponseSlice(filtered),
		Matched:  len(filtered),
		Summary:  SummarizeEnrollments(items),
		CacheHit: hit,
	}, nil
}

func (s *enrollmentService) Invalidate(ctx context.Context, userID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, enrollmentCacheKey(userID)).Err()
}

func (s *enrollmentService) load(ctx context.Context, principal Principal) ([]models.Enrollment, bool, error) {
	cacheKey := enrollmentCacheKey(principal.UserID)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var items []models.Enrollment
			if unmarshalErr := json.Unmarshal([]byte(cached), &items); unmarshalErr == nil {
				observability.EnrollmentCache().WithLabelValues("hit").Inc()
				s.logger.Debug().Str("user_id", principal.UserID).Msg("enrollment cache hit")
				return items, true, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read enrollment cache")
		}
		observability.EnrollmentCache().WithLabelValues("miss").Inc()
	}

	result, err, _ := s.group.Do(cacheKey, func() (interface{}, error) {
		items, err := s.source.ListEnrollments(ctx, principal.Token)
		if err != nil {
			return nil, err
		}
		s.store(ctx, cacheKey, items)
		return items, nil
	})
	if err != nil {
		return nil, false, err
	}

	return result.([]models.Enrollment), false, nil
}

func (s *enrollmentService) store(ctx context.Context, key string, items []models.Enrollment) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(items)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode enrollment cache")
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.cacheTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to store enrollment cache")
	}
}

func enrollmentCacheKey(userID string) string {
	return fmt.Sprintf("enrollments:user:%s", userID)
}
