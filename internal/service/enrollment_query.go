package service

import (
	"math"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/noah-isme/lms-gateway/internal/dto"
	"github.com/noah-isme/lms-gateway/internal/models"
)

// ApplyEnrollmentCriteria filters and orders enrollments. The input slice is never
// modified; the result is a new slice. Filters are AND-combined and the sort is stable.
func ApplyEnrollmentCriteria(items []models.Enrollment, criteria dto.EnrollmentCriteria) []models.Enrollment {
	search := strings.ToLower(strings.TrimSpace(criteria.Search))
	category := activeFilter(criteria.Category)
	level := activeFilter(criteria.Level)
	bucket := activeFilter(criteria.Progress)

	result := make([]models.Enrollment, 0, len(items))
	for _, item := range items {
		if category != "" && item.Course.Category != category {
			continue
		}
		if level != "" && item.Course.Level != level {
			continue
		}
		if bucket != "" && item.Progress.Bucket() != bucket {
			continue
		}
		if search != "" && !matchesSearch(item, search) {
			continue
		}
		result = append(result, item)
	}

	sortEnrollments(result, criteria.Sort, criteria.Locale)
	return result
}

// SummarizeEnrollments counts enrollments per progress bucket and averages resolved progress.
func SummarizeEnrollments(items []models.Enrollment) dto.EnrollmentSummary {
	summary := dto.EnrollmentSummary{Total: len(items)}
	if len(items) == 0 {
		return summary
	}

	total := 0
	for _, item := range items {
		percent := item.Progress.Percent()
		total += percent
		switch models.ProgressBucketOf(percent) {
		case models.ProgressBucketNotStarted:
			summary.NotStarted++
		case models.ProgressBucketCompleted:
			summary.Completed++
		default:
			summary.InProgress++
		}
	}

	summary.AverageProgress = math.Round(float64(total)/float64(len(items))*10) / 10
	return summary
}

func activeFilter(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == dto.FilterAll {
		return ""
	}
	return trimmed
}

func matchesSearch(item models.Enrollment, needle string) bool {
	for _, field := range item.SearchFields() {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func sortEnrollments(items []models.Enrollment, key, locale string) {
	var less func(a, b models.Enrollment) bool

	switch key {
	case dto.SortTitleAsc, dto.SortTitleDesc:
		collator := collate.New(collationTag(locale), collate.IgnoreCase)
		if key == dto.SortTitleAsc {
			less = func(a, b models.Enrollment) bool {
				return collator.CompareString(a.Course.Title, b.Course.Title) < 0
			}
		} else {
			less = func(a, b models.Enrollment) bool {
				return collator.CompareString(a.Course.Title, b.Course.Title) > 0
			}
		}
	case dto.SortProgressAsc:
		less = func(a, b models.Enrollment) bool { return a.Progress.Percent() < b.Progress.Percent() }
	case dto.SortProgressDesc:
		less = func(a, b models.Enrollment) bool { return a.Progress.Percent() > b.Progress.Percent() }
	case dto.SortEnrolledAsc:
		less = func(a, b models.Enrollment) bool { return a.EnrolledAt.SortKey() < b.EnrolledAt.SortKey() }
	case dto.SortEnrolledDesc:
		less = func(a, b models.Enrollment) bool { return a.EnrolledAt.SortKey() > b.EnrolledAt.SortKey() }
	case dto.SortLastAccessedAsc:
		less = func(a, b models.Enrollment) bool { return a.LastAccessed.SortKey() < b.LastAccessed.SortKey() }
	case dto.SortLastAccessedDesc:
		less = func(a, b models.Enrollment) bool { return a.LastAccessed.SortKey() > b.LastAccessed.SortKey() }
	default:
		return
	}

	sort.SliceStable(items, func(i, j int) bool {
		return less(items[i], items[j])
	})
}

func collationTag(locale string) language.Tag {
	if strings.TrimSpace(locale) == "" {
		return language.English
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return language.English
	}
	return tag
}
