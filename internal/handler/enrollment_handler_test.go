package handler_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-gateway/internal/backend"
	"github.com/noah-isme/lms-gateway/internal/dto"
	"github.com/noah-isme/lms-gateway/internal/handler"
	"github.com/noah-isme/lms-gateway/internal/service"
)

type stubEnrollmentService struct {
	principal service.Principal
	criteria  dto.EnrollmentCriteria
	response  dto.EnrollmentListResponse
	err       error

	invalidated string
}

func (s *stubEnrollmentService) List(_ context.Context, principal service.Principal, criteria dto.EnrollmentCriteria) (dto.EnrollmentListResponse, error) {
	s.principal = principal
	s.criteria = criteria
	return s.response, s.err
}

func (s *stubEnrollmentService) Invalidate(_ context.Context, userID string) error {
	s.invalidated = userID
	return nil
}

func newEnrollmentApp(svc service.EnrollmentService, middlewares ...fiber.Handler) *fiber.App {
	app := fiber.New()
	for _, mw := range middlewares {
		app.Use(mw)
	}
	handler.NewEnrollmentHandler(svc, validator.New(), "en", zerolog.New(io.Discard)).Register(app.Group("/enrollments"))
	return app
}

func TestEnrollmentHandlerListPassesCriteria(t *testing.T) {
	svc := &stubEnrollmentService{response: dto.EnrollmentListResponse{
		Items:    []dto.EnrollmentResponse{{ID: "e1", Progress: 40, ProgressBucket: "in-progress"}},
		Matched:  1,
		Summary:  dto.EnrollmentSummary{Total: 3, InProgress: 1, AverageProgress: 46.7},
		CacheHit: true,
	}}
	app := newEnrollmentApp(svc, asUser("u1"))

	req := httptest.NewRequest(http.MethodGet, "/enrollments?search=react&category=Web&progress=in-progress&sort=title-desc", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "true", resp.Header.Get("X-Cache-Hit"))

	var body envelope[dto.EnrollmentListResponse]
	decodeResponse(t, resp, &body)
	require.True(t, body.Success)
	require.Equal(t, true, body.Meta["cache_hit"])
	require.Len(t, body.Data.Items, 1)
	require.Equal(t, 3, body.Data.Summary.Total)

	require.Equal(t, "u1", svc.principal.UserID)
	require.Equal(t, "token-u1", svc.principal.Token)
	require.Equal(t, "react", svc.criteria.Search)
	require.Equal(t, "Web", svc.criteria.Category)
	require.Equal(t, "in-progress", svc.criteria.Progress)
	require.Equal(t, dto.SortTitleDesc, svc.criteria.Sort)
	require.Equal(t, "en", svc.criteria.Locale)
}

func TestEnrollmentHandlerRejectsUnknownSort(t *testing.T) {
	svc := &stubEnrollmentService{}
	app := newEnrollmentApp(svc, asUser("u1"))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/enrollments?sort=random", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var body envelope[interface{}]
	decodeResponse(t, resp, &body)
	require.False(t, body.Success)
	require.Equal(t, "oneof", body.Details["sort"])
}

func TestEnrollmentHandlerMapsBackendErrors(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
	}{
		"no principal": {err: service.ErrPrincipalRequired, status: fiber.StatusUnauthorized},
		"expired":      {err: &backend.APIError{Endpoint: "enrollments", StatusCode: 401}, status: fiber.StatusUnauthorized},
		"timeout":      {err: &backend.NetworkError{Endpoint: "enrollments", Err: context.DeadlineExceeded}, status: fiber.StatusGatewayTimeout},
		"rejected":     {err: &backend.APIError{Endpoint: "enrollments", StatusCode: 500, Message: "boom"}, status: fiber.StatusBadGateway},
	}

	for name, tc := range cases {
		app := newEnrollmentApp(&stubEnrollmentService{err: tc.err}, asUser("u1"))
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/enrollments", nil))
		require.NoError(t, err, name)
		require.Equal(t, tc.status, resp.StatusCode, name)
	}
}

func TestEnrollmentHandlerRefreshInvalidatesCache(t *testing.T) {
	svc := &stubEnrollmentService{}
	app := newEnrollmentApp(svc, asUser("u9"))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/enrollments?refresh=true", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "u9", svc.invalidated)
}
