package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
)

// Status is the state of a run.
type Status string

const (
	StatusNotStarted          Status = "not-started"
	StatusDiscovering         Status = "discovering"
	StatusRetrieving          Status = "retrieving"
	StatusParsing             Status = "parsing"
	StatusNormalizing         Status = "normalizing"
	StatusStoring             Status = "storing"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed-with-errors"
	StatusFailed              Status = "failed"
)

// Stage names used in item errors and metrics.
const (
	StageDiscovery     = "discovery"
	StageRetrieval     = "retrieval"
	StageParsing       = "parsing"
	StageNormalization = "normalization"
	StageStorage       = "storage"
)

// Run modes.
const (
	ModeFull          = "full"
	ModeDiscoveryOnly = "discovery-only"
	ModeFromFilings   = "from-filings"
	ModeWithFilings   = "with-filings"
	ModeDownloadOnly  = "download-only"
	ModeBulk          = "bulk"
)

// ItemError is a failure attached to one filing or record.
type ItemError struct {
	Stage    string `json:"stage"`
	FilingID string `json:"filing_id,omitempty"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

// RunReport summarizes one pipeline run.
type RunReport struct {
	RunID               string      `json:"run_id"`
	Mode                string      `json:"mode"`
	Status              Status      `json:"status"`
	DurationSeconds     float64     `json:"duration_seconds"`
	Discovered          int         `json:"discovered"`
	Retrieved           int         `json:"retrieved"`
	Parsed              int         `json:"parsed"`
	Normalized          int         `json:"normalized"`
	Entities            int         `json:"entities"`
	Filings             int         `json:"filings"`
	Stored              int         `json:"stored"`
	Inserted            int         `json:"inserted"`
	Updated             int         `json:"updated"`
	Skipped             int         `json:"skipped"`
	Rejected            int         `json:"rejected"`
	DataQualityWarnings int         `json:"data_quality_warnings"`
	ParseDiagnostics    int         `json:"parse_diagnostics"`
	Errors              int         `json:"errors"`
	ErrorDetails        []ItemError `json:"error_details"`
	Failure             string      `json:"failure,omitempty"`
	StartTime           time.Time   `json:"start_time"`
	EndTime             time.Time   `json:"end_time"`

	cause error
}

// Err is non-nil when the run failed at stage level. It wraps the stage
// error, so errors.Is sees context.Canceled for an interrupted run.
func (r *RunReport) Err() error {
	if r.Status != StatusFailed {
		return nil
	}
	if r.cause == nil {
		return fmt.Errorf("run %s (%s) failed: %w", r.RunID, r.Mode, errors.New(r.Failure))
	}
	return fmt.Errorf("run %s (%s) failed: %w", r.RunID, r.Mode, r.cause)
}

// recorder collects counters from concurrent stage workers.
type recorder struct {
	mu         sync.Mutex
	report     *RunReport
	maxDetails int
}

func (rc *recorder) add(fn func(r *RunReport)) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	fn(rc.report)
}

func (rc *recorder) fail(stage, filingID string, err error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.report.Errors++
	if len(rc.report.ErrorDetails) < rc.maxDetails {
		rc.report.ErrorDetails = append(rc.report.ErrorDetails, ItemError{
			Stage:    stage,
			FilingID: filingID,
			Kind:     internalerr.Kind(err),
			Message:  err.Error(),
		})
	}
}

// reject notes a record the normalizer refused. It lands in ErrorDetails
// but not in Errors; rejections are counted in Rejected.
func (rc *recorder) reject(stage, filingID string, reason error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.report.Rejected++
	if len(rc.report.ErrorDetails) < rc.maxDetails {
		rc.report.ErrorDetails = append(rc.report.ErrorDetails, ItemError{
			Stage:    stage,
			FilingID: filingID,
			Kind:     internalerr.Kind(reason),
			Message:  reason.Error(),
		})
	}
}

func (rc *recorder) snapshot() RunReport {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	r := *rc.report
	r.ErrorDetails = append([]ItemError(nil), rc.report.ErrorDetails...)
	return r
}
