package usage

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownPlan is returned for plan types missing from the catalog.
	ErrUnknownPlan = errors.New("unknown plan type")
	// ErrNegativeDelta is returned when an increment would lower a counter.
	ErrNegativeDelta = errors.New("usage delta must not be negative")
)

// QuotaKind names the limit that was hit.
type QuotaKind string

const (
	QuotaStorage   QuotaKind = "storage"
	QuotaFiles     QuotaKind = "files"
	QuotaFileSize  QuotaKind = "file_size"
	QuotaTokens    QuotaKind = "tokens"
	QuotaQuestions QuotaKind = "questions"
)

// QuotaExceededError describes a denied metered action.
type QuotaExceededError struct {
	Kind        QuotaKind `json:"kind"`
	Limit       int64     `json:"limit"`
	Used        int64     `json:"used"`
	Requested   int64     `json:"requested,omitempty"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	ResetsAt    time.Time `json:"resetsAt"`
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s quota exceeded: used %d of %d", e.Kind, e.Used, e.Limit)
}

// Decision is the verdict of a limit check. Exceeded is set when denied.
type Decision struct {
	Allowed  bool
	Message  string
	Exceeded *QuotaExceededError
}

// Err returns the quota error of a denied decision, or nil.
func (d Decision) Err() error {
	if d.Allowed || d.Exceeded == nil {
		return nil
	}
	return d.Exceeded
}
