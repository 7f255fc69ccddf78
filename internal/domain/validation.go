package domain

import "time"

// ErrorCategory classifies why a URL failed validation.
type ErrorCategory string

const (
	ErrorCategoryNone           ErrorCategory = ""
	ErrorCategoryTimeout        ErrorCategory = "timeout"
	ErrorCategoryHTTP           ErrorCategory = "http_error"
	ErrorCategoryBadContentType ErrorCategory = "bad_content_type"
	ErrorCategoryNetwork        ErrorCategory = "network_error"
)

// ValidationResult is the outcome of checking one URL. It lives for a single batch.
type ValidationResult struct {
	URL            string        `json:"url"`
	Valid          bool          `json:"valid"`
	StatusCode     int           `json:"status_code,omitempty"`
	ContentType    string        `json:"content_type,omitempty"`
	ContentLength  int64         `json:"content_length,omitempty"`
	ImageID        string        `json:"image_id,omitempty"`
	SourceProvider Provider      `json:"source_provider,omitempty"`
	ErrorCategory  ErrorCategory `json:"error_category,omitempty"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
}
