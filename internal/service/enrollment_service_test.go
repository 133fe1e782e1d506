package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-gateway/internal/dto"
	"github.com/noah-isme/lms-gateway/internal/models"
)

type stubEnrollmentSource struct {
	calls int32
	items []models.Enrollment
	err   error
	delay time.Duration
}

func (s *stubEnrollmentSource) ListEnrollments(ctx context.Context, token string) ([]models.Enrollment, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

func TestEnrollmentServiceFiltersAndCaches(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	source := &stubEnrollmentSource{items: sampleEnrollments()}
	svc := NewEnrollmentService(source, redisClient, time.Minute, zerolog.Nop())

	ctx := context.Background()
	principal := Principal{UserID: "u1", Token: "tok"}

	first, err := svc.List(ctx, principal, dto.EnrollmentCriteria{Category: "AI", Sort: dto.SortProgressDesc})
	require.NoError(t, err)
	require.False(t, first.CacheHit)
	require.Equal(t, 2, first.Matched)
	require.Equal(t, "3", first.Items[0].ID)
	require.Equal(t, 100, first.Items[0].Progress)
	require.Equal(t, models.ProgressBucketCompleted, first.Items[0].ProgressBucket)
	require.Equal(t, 5, first.Summary.Total)
	require.True(t, mini.Exists("enrollments:user:u1"))

	second, err := svc.List(ctx, principal, dto.EnrollmentCriteria{Search: "react"})
	require.NoError(t, err)
	require.True(t, second.CacheHit)
	require.Equal(t, 1, second.Matched)
	require.Equal(t, "2", second.Items[0].ID)
	require.Equal(t, int32(1), atomic.LoadInt32(&source.calls))

	require.NoError(t, svc.Invalidate(ctx, "u1"))
	third, err := svc.List(ctx, principal, dto.EnrollmentCriteria{})
	require.NoError(t, err)
	require.False(t, third.CacheHit)
	require.Equal(t, int32(2), atomic.LoadInt32(&source.calls))
}

func TestEnrollmentServiceCoalescesConcurrentFetches(t *testing.T) {
	source := &stubEnrollmentSource{items: sampleEnrollments(), delay: 50 * time.Millisecond}
	svc := NewEnrollmentService(source, nil, time.Minute, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			response, err := svc.List(context.Background(), Principal{UserID: "u1"}, dto.EnrollmentCriteria{})
			require.NoError(t, err)
			require.Equal(t, 5, response.Matched)
		}()
	}
	wg.Wait()

	require.Less(t, atomic.LoadInt32(&source.calls), int32(5))
}

func TestEnrollmentServicePropagatesSourceErrors(t *testing.T) {
	sourceErr := errors.New("backend down")
	svc := NewEnrollmentService(&stubEnrollmentSource{err: sourceErr}, nil, time.Minute, zerolog.Nop())

	_, err := svc.List(context.Background(), Principal{UserID: "u1"}, dto.EnrollmentCriteria{})
	require.ErrorIs(t, err, sourceErr)

	_, err = svc.List(context.Background(), Principal{}, dto.EnrollmentCriteria{})
	require.ErrorIs(t, err, ErrPrincipalRequired)
}
