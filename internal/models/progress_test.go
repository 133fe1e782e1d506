package models

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProgressPercentResolvesBothShapes(t *testing.T) {
	require.Equal(t, 75, VideoCountProgress(3, 4).Percent())
	require.Equal(t, 88, PercentageProgress(87.6).Percent())
	require.Equal(t, 0, VideoCountProgress(5, 0).Percent())
	require.Equal(t, 100, PercentageProgress(140).Percent())
	require.Equal(t, 0, PercentageProgress(-12).Percent())
	require.Equal(t, 100, VideoCountProgress(9, 4).Percent())
	require.Equal(t, 33, VideoCountProgress(1, 3).Percent())
}

func TestProgressMalformedInputsResolveToZero(t *testing.T) {
	payloads := []string{
		`null`,
		`{}`,
		`{"completedVideos": 3}`,
		`{"totalVideos": 4}`,
		`{"completedVideos": "three", "totalVideos": 4}`,
		`"75"`,
		`[1, 2]`,
		`true`,
		`{"completedVideos": 2, "totalVideos": 0}`,
		`{"completedVideos": 2, "totalVideos": -5}`,
	}

	for _, payload := range payloads {
		var progress Progress
		require.NoError(t, json.Unmarshal([]byte(payload), &progress), payload)
		require.Equal(t, 0, progress.Percent(), payload)
	}

	require.Equal(t, 0, Progress{}.Percent())
	require.Equal(t, 0, PercentageProgress(math.NaN()).Percent())
	require.Equal(t, 0, VideoCountProgress(1, math.Inf(1)).Percent())
}

func TestProgressUnmarshalInsideEnrollment(t *testing.T) {
	payload := `[
		{"_id": "e1", "course": {"_id": "c1", "title": "Go"}, "progress": 42.4},
		{"id": "e2", "course": {"id": "c2", "title": "AI"}, "progress": {"completedVideos": 1, "totalVideos": 2}},
		{"id": "e3", "course": {"title": "Rust"}}
	]`

	var enrollments []Enrollment
	require.NoError(t, json.Unmarshal([]byte(payload), &enrollments))
	require.Len(t, enrollments, 3)

	require.Equal(t, "e1", enrollments[0].ID)
	require.Equal(t, "c1", enrollments[0].Course.ID)
	require.Equal(t, 42, enrollments[0].Progress.Percent())
	require.Equal(t, ProgressVideoCounts, enrollments[1].Progress.Kind)
	require.Equal(t, 50, enrollments[1].Progress.Percent())
	require.Equal(t, ProgressUnknown, enrollments[2].Progress.Kind)
	require.Equal(t, ProgressBucketNotStarted, enrollments[2].Progress.Bucket())
	require.True(t, enrollments[2].LastAccessed.IsZero())
	require.Equal(t, int64(0), enrollments[2].LastAccessed.SortKey())
}

func TestProgressBuckets(t *testing.T) {
	require.Equal(t, ProgressBucketNotStarted, ProgressBucketOf(0))
	require.Equal(t, ProgressBucketInProgress, ProgressBucketOf(1))
	require.Equal(t, ProgressBucketInProgress, ProgressBucketOf(99))
	require.Equal(t, ProgressBucketCompleted, ProgressBucketOf(100))
}

func TestTimestampLenientDecoding(t *testing.T) {
	var ts struct {
		A Timestamp `json:"a"`
		B Timestamp `json:"b"`
		C Timestamp `json:"c"`
		D Timestamp `json:"d"`
		E Timestamp `json:"e"`
		F Timestamp `json:"f"`
	}
	payload := `{"a": "2024-03-01T10:00:00Z", "b": "not a date", "c": 1700000000000, "d": null, "e": 1700000000000.5, "f": 1.7e12}`
	require.NoError(t, json.Unmarshal([]byte(payload), &ts))

	require.Equal(t, 2024, ts.A.Year())
	require.True(t, ts.B.IsZero())
	require.Equal(t, int64(1700000000000), ts.C.SortKey())
	require.True(t, ts.D.IsZero())
	require.Equal(t, int64(1700000000000), ts.E.SortKey())
	require.Equal(t, int64(1700000000000), ts.F.SortKey())

	encoded, err := json.Marshal(ts.B)
	require.NoError(t, err)
	require.Equal(t, "null", string(encoded))
}

func TestCourseDecodingToleratesLooseFields(t *testing.T) {
	var courses []CourseRef
	payload := `[
		{"id": "c1", "instructor": "64f0abc", "price": "12.50"},
		{"id": "c2", "instructor": {"firstName": "Grace", "lastName": 7}, "price": "free"},
		{"id": "c3", "instructor": null, "price": null}
	]`
	require.NoError(t, json.Unmarshal([]byte(payload), &courses))
	require.Len(t, courses, 3)

	require.Equal(t, Instructor{}, courses[0].Instructor)
	require.InDelta(t, 12.5, float64(courses[0].Price), 0.001)

	require.Equal(t, "Grace", courses[1].Instructor.FullName())
	require.Zero(t, courses[1].Price)

	require.Equal(t, Instructor{}, courses[2].Instructor)
	require.Zero(t, courses[2].Price)
}
