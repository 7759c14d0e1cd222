package internalerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDuplicate        = errors.New("duplicate entry")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// ExtractionError reports a source document that could not be read at all.
// It aborts the day's run; no dataset file is produced.
type ExtractionError struct {
	Source string
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("extract %s: %s", e.Source, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// SegmentationWarning is non-fatal: the structurer fell back to coarser
// (paragraph-level) boundaries or skipped an unusable block.
type SegmentationWarning struct {
	Page   int
	Reason string
}

func (w SegmentationWarning) Error() string {
	if w.Page > 0 {
		return fmt.Sprintf("segmentation (page %d): %s", w.Page, w.Reason)
	}
	return "segmentation: " + w.Reason
}

// DuplicateDetected describes a story whose id was already published on an
// earlier day. Whether it is kept, linked or dropped depends on the dedup policy.
type DuplicateDetected struct {
	ID        string
	FirstSeen string
	Policy    string
}

func (d DuplicateDetected) Error() string {
	return fmt.Sprintf("story %s already published on %s (policy %s)", d.ID, d.FirstSeen, d.Policy)
}

// Is lets errors.Is(err, ErrDuplicate) match.
func (d DuplicateDetected) Is(target error) bool { return target == ErrDuplicate }

// WriteConflict is returned when a dataset file for the day already exists
// and the caller did not ask to overwrite it.
type WriteConflict struct {
	Path string
}

func (e *WriteConflict) Error() string {
	return fmt.Sprintf("dataset file %s already exists (use force to overwrite)", e.Path)
}

// EnrichmentFailure is a per-record, retryable failure of the image pass.
type EnrichmentFailure struct {
	RecordID string
	Attempts int
	Err      error
}

func (e *EnrichmentFailure) Error() string {
	return fmt.Sprintf("enrich %s failed after %d attempt(s): %v", e.RecordID, e.Attempts, e.Err)
}

func (e *EnrichmentFailure) Unwrap() error { return e.Err }
