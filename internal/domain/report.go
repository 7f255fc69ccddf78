package domain

import "time"

// DocumentState is the position of a document in the processing state machine.
type DocumentState string

const (
	StateParsed          DocumentState = "parsed"
	StateValidated       DocumentState = "validated"
	StateAllValid        DocumentState = "all_valid"
	StateNeedsResolution DocumentState = "needs_resolution"
	StateResolved        DocumentState = "resolved"
	StateReplaced        DocumentState = "replaced"
)

// Terminal reports whether no further transitions follow s.
func (s DocumentState) Terminal() bool {
	return s == StateAllValid || s == StateReplaced
}

// DocumentReport is the per-document outcome of Process.
type DocumentReport struct {
	DocumentID      string             `json:"document_id"`
	State           DocumentState      `json:"state"`
	ImagesChecked   int                `json:"images_checked"`
	FailuresFound   int                `json:"failures_found"`
	Replaced        int                `json:"replaced"`
	Removed         int                `json:"removed"`
	LeftAsIs        int                `json:"left_as_is"`
	CacheHits       int                `json:"cache_hits"`
	SimilarityHits  int                `json:"similarity_hits"`
	SuggestionCalls int                `json:"suggestion_calls"`
	Fallbacks       int                `json:"fallbacks"`
	Partial         bool               `json:"partial"`
	Degraded        bool               `json:"degraded"`
	Plans           []ReplacementPlan  `json:"plans,omitempty"`
	Elapsed         time.Duration      `json:"elapsed_ns"`
	Error           string             `json:"error,omitempty"`
}

// Report aggregates a Process call.
type Report struct {
	RunID              string           `json:"run_id"`
	TotalDocuments     int              `json:"total_documents"`
	ProcessedDocuments int              `json:"processed_documents"`
	PartialDocuments   int              `json:"partial_documents"`
	DocumentsChanged   int              `json:"documents_changed"`
	ImagesChecked      int              `json:"images_checked"`
	FailuresFound      int              `json:"failures_found"`
	Replaced           int              `json:"replaced"`
	Removed            int              `json:"removed"`
	LeftAsIs           int              `json:"left_as_is"`
	CacheHits          int              `json:"cache_hits"`
	SimilarityHits     int              `json:"similarity_hits"`
	SuggestionCalls    int              `json:"suggestion_calls"`
	Fallbacks          int              `json:"fallbacks"`
	Documents          []DocumentReport `json:"documents"`
	Errors             []string         `json:"errors,omitempty"`
	StartTime          time.Time        `json:"start_time"`
	EndTime            time.Time        `json:"end_time"`
}

// Add folds one document report into the totals.
func (r *Report) Add(d DocumentReport) {
	r.Documents = append(r.Documents, d)
	r.ImagesChecked += d.ImagesChecked
	r.FailuresFound += d.FailuresFound
	r.Replaced += d.Replaced
	r.Removed += d.Removed
	r.LeftAsIs += d.LeftAsIs
	r.CacheHits += d.CacheHits
	r.SimilarityHits += d.SimilarityHits
	r.SuggestionCalls += d.SuggestionCalls
	r.Fallbacks += d.Fallbacks
	if d.Error != "" {
		r.Errors = append(r.Errors, d.DocumentID+": "+d.Error)
		return
	}
	r.ProcessedDocuments++
	if d.Partial {
		r.PartialDocuments++
	}
	if d.Replaced+d.Removed > 0 {
		r.DocumentsChanged++
	}
}

// ImageAudit is one image in an audit report.
type ImageAudit struct {
	Src           string        `json:"src"`
	AltText       string        `json:"alt_text,omitempty"`
	Valid         bool          `json:"valid"`
	FormatOK      bool          `json:"format_ok"`
	StatusCode    int           `json:"status_code,omitempty"`
	ErrorCategory ErrorCategory `json:"error_category,omitempty"`
	Topic         string        `json:"topic,omitempty"`
}

// DocumentAudit is the per-document part of an audit report.
type DocumentAudit struct {
	DocumentID string       `json:"document_id"`
	SlideType  SlideType    `json:"slide_type"`
	Images     []ImageAudit `json:"images"`
	Valid      int          `json:"valid"`
	Invalid    int          `json:"invalid"`
}

// HostCount counts the audited images served by one host.
type HostCount struct {
	Total int `json:"total"`
	Valid int `json:"valid"`
}

// AuditReport is the read-only result of ValidatePresentation.
type AuditReport struct {
	RunID           string               `json:"run_id"`
	TotalDocuments  int                  `json:"total_documents"`
	TotalImages     int                  `json:"total_images"`
	ValidImages     int                  `json:"valid_images"`
	InvalidImages   int                  `json:"invalid_images"`
	FormatFailures  int                  `json:"format_failures"`
	ImagesByHost    map[string]HostCount `json:"images_by_host"`
	Documents       []DocumentAudit      `json:"documents"`
	CacheStats      *CacheStats          `json:"cache_stats,omitempty"`
	Recommendations []string             `json:"recommendations"`
	Elapsed         time.Duration        `json:"elapsed_ns"`
}

// StrategyStats is the success record of one suggestion prompt strategy.
type StrategyStats struct {
	Name        string  `json:"name"`
	Attempts    int     `json:"attempts"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
	Current     bool    `json:"current"`
}
