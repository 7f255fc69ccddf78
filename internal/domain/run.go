package domain

import "time"

// RunStatus is the lifecycle state of a processing run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// RunKind distinguishes mutating runs from dry-run audits.
type RunKind string

const (
	RunKindProcess RunKind = "process"
	RunKindAudit   RunKind = "audit"
)

// ProcessingRun is the persisted summary of one Process or audit call.
type ProcessingRun struct {
	ID              string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Kind            RunKind    `gorm:"type:varchar(16);not null;index" json:"kind"`
	Status          RunStatus  `gorm:"type:varchar(16);not null;default:running" json:"status"`
	Documents       int        `gorm:"default:0" json:"documents"`
	ImagesChecked   int        `gorm:"default:0" json:"images_checked"`
	FailuresFound   int        `gorm:"default:0" json:"failures_found"`
	Replaced        int        `gorm:"default:0" json:"replaced"`
	Removed         int        `gorm:"default:0" json:"removed"`
	LeftAsIs        int        `gorm:"default:0" json:"left_as_is"`
	CacheHits       int        `gorm:"default:0" json:"cache_hits"`
	SuggestionCalls int        `gorm:"default:0" json:"suggestion_calls"`
	ErrorLog        string     `gorm:"type:text" json:"error_log,omitempty"`
	ArchiveKey      string     `gorm:"type:text" json:"archive_key,omitempty"`
	StartedAt       time.Time  `gorm:"not null;index" json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ProcessingRun.
func (ProcessingRun) TableName() string {
	return "processing_runs"
}
