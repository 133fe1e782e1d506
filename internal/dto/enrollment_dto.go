package dto

import (
	"github.com/noah-isme/lms-gateway/internal/models"
)

// Enrollment sort keys.
const (
	SortTitleAsc         = "title-asc"
	SortTitleDesc        = "title-desc"
	SortProgressAsc      = "progress-asc"
	SortProgressDesc     = "progress-desc"
	SortEnrolledAsc      = "enrolled-asc"
	SortEnrolledDesc     = "enrolled-desc"
	SortLastAccessedAsc  = "last-accessed-asc"
	SortLastAccessedDesc = "last-accessed-desc"
)

// FilterAll disables a filter dimension.
const FilterAll = "all"

// EnrollmentCriteria selects and orders a student's enrollments.
// Empty or "all" values leave a dimension unfiltered.
type EnrollmentCriteria struct {
	Search   string `query:"search" json:"search" validate:"omitempty,max=200"`
	Category string `query:"category" json:"category" validate:"omitempty,max=100"`
	Level    string `query:"level" json:"level" validate:"omitempty,max=50"`
	Progress string `query:"progress" json:"progress" validate:"omitempty,oneof=all not-started in-progress completed"`
	Sort     string `query:"sort" json:"sort" validate:"omitempty,oneof=title-asc title-desc progress-asc progress-desc enrolled-asc enrolled-desc last-accessed-asc last-accessed-desc"`
	Locale   string `query:"locale" json:"locale" validate:"omitempty,max=35"`
}

// EnrollmentResponse is an enrollment with its progress already resolved.
type EnrollmentResponse struct {
	ID             string           `json:"id"`
	Course         models.CourseRef `json:"course"`
	EnrolledAt     models.Timestamp `json:"enrolledAt"`
	LastAccessed   models.Timestamp `json:"lastAccessed"`
	Progress       int              `json:"progress"`
	ProgressBucket string           `json:"progressBucket"`
}

// NewEnrollmentResponse converts an enrollment into its DTO.
func NewEnrollmentResponse(enrollment models.Enrollment) EnrollmentResponse {
	percent := enrollment.Progress.Percent()
	return EnrollmentResponse{
		ID:             enrollment.ID,
		Course:         enrollment.Course,
		EnrolledAt:     enrollment.EnrolledAt,
		LastAccessed:   enrollment.LastAccessed,
		Progress:       percent,
		ProgressBucket: models.ProgressBucketOf(percent),
	}
}

// NewEnrollmentResponseSlice converts enrollments into DTOs.
func NewEnrollmentResponseSlice(items []models.Enrollment) []EnrollmentResponse {
	out := make([]EnrollmentResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewEnrollmentResponse(item))
	}
	return out
}

// EnrollmentSummary aggregates progress across all of a student's enrollments.
type EnrollmentSummary struct {
	Total           int     `json:"total"`
	NotStarted      int     `json:"notStarted"`
	InProgress      int     `json:"inProgress"`
	Completed       int     `json:"completed"`
	AverageProgress float64 `json:"averageProgress"`
}

// EnrollmentListResponse is returned by the enrollment listing endpoint.
type EnrollmentListResponse struct {
	Items    []EnrollmentResponse `json:"items"`
	Matched  int                  `json:"matched"`
	Summary  EnrollmentSummary    `json:"summary"`
	CacheHit bool                 `json:"-"`
}
