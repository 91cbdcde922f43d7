package internal

import (
	"time"
)

// Mode selects which pipeline variant a run executes
type Mode string

const (
	ModeDownload Mode = "download"
	ModeExtend   Mode = "extend"
)

// Credentials are the ICANN account username and password.
// The password is never logged; use String for display.
type Credentials struct {
	Username string
	Password string
}

// String returns a display form with the password withheld
func (c Credentials) String() string {
	return c.Username + ":[REDACTED]"
}

// ResourceItem is one unit of work: a zone file link or an access request to extend
type ResourceItem struct {
	ID        string    `json:"id" yaml:"id"`
	URL       string    `json:"url,omitempty" yaml:"url,omitempty"`
	RequestID string    `json:"request_id,omitempty" yaml:"request_id,omitempty"`
	Expires   time.Time `json:"expires,omitempty" yaml:"expires,omitempty"`
}

// OutcomeStatus is the result class of one item
type OutcomeStatus int

const (
	StatusSuccess OutcomeStatus = iota
	StatusNotFound
	StatusTransientFailure
	StatusPermanentFailure
)

// String returns the string representation of OutcomeStatus
func (s OutcomeStatus) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusNotFound:
		return "NotFound"
	case StatusTransientFailure:
		return "TransientFailure"
	case StatusPermanentFailure:
		return "PermanentFailure"
	default:
		return "Unknown"
	}
}

// MarshalText lets reports render the status by name
func (s OutcomeStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsFailure reports whether the status counts against the run.
// NotFound is logged and skipped, not a failure.
func (s OutcomeStatus) IsFailure() bool {
	return s == StatusTransientFailure || s == StatusPermanentFailure
}

// FetchOutcome is the immutable result of processing one item
type FetchOutcome struct {
	Item         ResourceItem  `json:"item" yaml:"item"`
	Status       OutcomeStatus `json:"status" yaml:"status"`
	BytesWritten int64         `json:"bytes_written,omitempty" yaml:"bytes_written,omitempty"`
	Path         string        `json:"path,omitempty" yaml:"path,omitempty"`
	Digest       string        `json:"blake3,omitempty" yaml:"blake3,omitempty"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
	Error        string        `json:"error,omitempty" yaml:"error,omitempty"`
	Err          error         `json:"-" yaml:"-"`
}

// BatchReport aggregates the outcomes of one pipeline run
type BatchReport struct {
	RunID      string         `json:"run_id" yaml:"run_id"`
	Mode       Mode           `json:"mode" yaml:"mode"`
	StartedAt  time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time      `json:"finished_at" yaml:"finished_at"`
	Cancelled  bool           `json:"cancelled" yaml:"cancelled"`
	Outcomes   []FetchOutcome `json:"outcomes" yaml:"outcomes"`
}

// Count returns the number of outcomes with the given status
func (r *BatchReport) Count(status OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Failed returns the number of outcomes that count as failures
func (r *BatchReport) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status.IsFailure() {
			n++
		}
	}
	return n
}

// BytesWritten returns the total bytes persisted during the run
func (r *BatchReport) BytesWritten() int64 {
	var total int64
	for _, o := range r.Outcomes {
		total += o.BytesWritten
	}
	return total
}

// StoredFile describes a file committed by Storage
type StoredFile struct {
	Name   string
	Path   string
	Size   int64
	Digest string
}
