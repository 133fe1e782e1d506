package models

import (
	"bytes"
	"encoding/json"
	"math"
)

// ProgressKind tags which representation a Progress value carries.
type ProgressKind int

const (
	// ProgressUnknown covers null, missing and malformed progress payloads.
	ProgressUnknown ProgressKind = iota
	ProgressPercentage
	ProgressVideoCounts
)

// Progress buckets derived from a resolved percentage.
const (
	ProgressBucketAll        = "all"
	ProgressBucketNotStarted = "not-started"
	ProgressBucketInProgress = "in-progress"
	ProgressBucketCompleted  = "completed"
)

// Progress is the union of the two progress shapes the backend emits:
// a bare percentage or a completed/total video count pair.
type Progress struct {
	Kind            ProgressKind
	Percentage      float64
	CompletedVideos float64
	TotalVideos     float64
}

// PercentageProgress builds a percentage-shaped progress value.
func PercentageProgress(value float64) Progress {
	return Progress{Kind: ProgressPercentage, Percentage: value}
}

// VideoCountProgress builds a video-count-shaped progress value.
func VideoCountProgress(completed, total float64) Progress {
	return Progress{Kind: ProgressVideoCounts, CompletedVideos: completed, TotalVideos: total}
}

// Percent resolves the progress to an integer percentage in [0,100].
// It is total: malformed or empty values resolve to 0.
func (p Progress) Percent() int {
	switch p.Kind {
	case ProgressPercentage:
		return clampPercent(p.Percentage)
	case ProgressVideoCounts:
		if p.TotalVideos <= 0 || math.IsNaN(p.TotalVideos) || math.IsInf(p.TotalVideos, 0) {
			return 0
		}
		return clampPercent(100 * p.CompletedVideos / p.TotalVideos)
	default:
		return 0
	}
}

// Bucket reports which progress bucket the resolved percentage falls in.
func (p Progress) Bucket() string {
	return ProgressBucketOf(p.Percent())
}

// ProgressBucketOf maps a resolved percentage to its bucket name.
func ProgressBucketOf(percent int) string {
	switch {
	case percent <= 0:
		return ProgressBucketNotStarted
	case percent >= 100:
		return ProgressBucketCompleted
	default:
		return ProgressBucketInProgress
	}
}

func clampPercent(value float64) int {
	if math.IsNaN(value) {
		return 0
	}
	if value <= 0 {
		return 0
	}
	if value >= 100 {
		return 100
	}
	return int(math.Round(value))
}

// UnmarshalJSON never fails on well-formed JSON; unexpected shapes become ProgressUnknown.
func (p *Progress) UnmarshalJSON(data []byte) error {
	*p = Progress{}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	switch trimmed[0] {
	case '{':
		var counts struct {
			CompletedVideos *float64 `json:"completedVideos"`
			TotalVideos     *float64 `json:"totalVideos"`
		}
		if err := json.Unmarshal(trimmed, &counts); err != nil {
			return nil
		}
		if counts.CompletedVideos == nil || counts.TotalVideos == nil {
			return nil
		}
		*p = VideoCountProgress(*counts.CompletedVideos, *counts.TotalVideos)
	default:
		var value float64
		if err := json.Unmarshal(trimmed, &value); err != nil {
			return nil
		}
		*p = PercentageProgress(value)
	}

	return nil
}

// MarshalJSON writes the progress back in the shape it was received in.
func (p Progress) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case ProgressPercentage:
		return json.Marshal(p.Percentage)
	case ProgressVideoCounts:
		return json.Marshal(struct {
			CompletedVideos float64 `json:"completedVideos"`
			TotalVideos     float64 `json:"totalVideos"`
		}{p.CompletedVideos, p.TotalVideos})
	default:
		return []byte("null"), nil
	}
}
