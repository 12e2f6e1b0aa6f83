package harvest

import (
	"time"

	"hcharvest/internal/localize"
	"hcharvest/internal/validator"
)

// Run states.
const (
	StateEnumerate   = "Enumerate"
	StateProcess     = "Process"
	StateFlush       = "Flush"
	StateCompleted   = "Completed"
	StateFailedFatal = "FailedFatal"
)

// Summary is the outcome of one run.
type Summary struct {
	StartedAt           time.Time
	Verification        *validator.ValidationResult
	RunID               string
	State               string
	IndexPath           string
	Failures            []*PerArticleError
	ImageFailures       []localize.Failure
	Degraded            []string
	Duration            time.Duration
	Collections         int
	Sections            int
	Attempted           int
	Succeeded           int
	Failed              int
	ImagesDownloaded    int
	// ImagesWithoutSource counts <img> elements that had no src to fetch.
	ImagesWithoutSource int
}

// OK reports whether the run finished without a fatal error.
func (s *Summary) OK() bool {
	return s.State == StateCompleted
}
