package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Provider identifies the image CDN an image id belongs to.
type Provider string

const (
	ProviderUnsplash Provider = "unsplash"
	ProviderPexels   Provider = "pexels"
	ProviderPixabay  Provider = "pixabay"
)

// StringArray stores a string slice as a JSON column.
type StringArray []string

// Value implements driver.Valuer.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	raw, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		raw = []byte(str)
	}
	return json.Unmarshal(raw, a)
}

// CacheEntry associates a topic with one validated image.
type CacheEntry struct {
	TopicHash      string     `gorm:"type:varchar(32);primaryKey" json:"topic_hash"`
	ImageID        string     `gorm:"type:varchar(255);primaryKey" json:"image_id"`
	SourceProvider Provider   `gorm:"type:varchar(32);not null" json:"source_provider"`
	Valid          bool       `gorm:"not null;index:idx_cache_valid_usage,priority:1" json:"valid"`
	Confidence     float64    `gorm:"not null;default:0" json:"confidence"`
	UsageCount     int64      `gorm:"not null;default:0;index:idx_cache_valid_usage,priority:2" json:"usage_count"`
	LastValidated  time.Time  `gorm:"not null;index" json:"last_validated"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the database table name for CacheEntry.
func (CacheEntry) TableName() string {
	return "image_cache_entries"
}

// TopicMapping records the raw text behind a topic hash. Rows are never updated.
type TopicMapping struct {
	TopicHash      string      `gorm:"type:varchar(32);primaryKey" json:"topic_hash"`
	RawText        string      `gorm:"type:text" json:"raw_text"`
	NormalizedText string      `gorm:"type:text;not null" json:"normalized_text"`
	Keywords       StringArray `gorm:"type:text" json:"keywords"`
	CreatedAt      time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the database table name for TopicMapping.
func (TopicMapping) TableName() string {
	return "topic_mappings"
}

// CacheMetric holds the daily observability counters.
type CacheMetric struct {
	Date            string `gorm:"type:varchar(10);primaryKey" json:"date"` // YYYY-MM-DD
	TotalLookups    int64  `gorm:"not null;default:0" json:"total_lookups"`
	CacheHits       int64  `gorm:"not null;default:0" json:"cache_hits"`
	SuggestionCalls int64  `gorm:"not null;default:0" json:"suggestion_calls"`
}

// TableName returns the database table name for CacheMetric.
func (CacheMetric) TableName() string {
	return "cache_metrics"
}

// CachedImage is one lookup hit.
type CachedImage struct {
	ImageID        string   `json:"image_id"`
	SourceProvider Provider `json:"source_provider"`
	Confidence     float64  `json:"confidence"`
	UsageCount     int64    `json:"usage_count"`
}

// CandidateImage is an image offered to the cache for upsert.
type CandidateImage struct {
	ImageID        string
	SourceProvider Provider
	Valid          bool
	Confidence     float64
}

// TopicSummary is one element of the topic scan used by similarity search.
type TopicSummary struct {
	TopicHash      string
	NormalizedText string
	Keywords       []string
	Images         []CachedImage // best valid images, at most three
	TopUsage       int64
}

// SimilarTopic is a similarity search hit.
type SimilarTopic struct {
	TopicHash  string        `json:"topic_hash"`
	TopicText  string        `json:"topic_text"`
	Similarity float64       `json:"similarity"`
	Images     []CachedImage `json:"images"`
	TopUsage   int64         `json:"top_usage"`
}

// CacheStats summarizes the cache contents and recent activity.
type CacheStats struct {
	TotalTopics     int64   `json:"total_topics"`
	TotalImages     int64   `json:"total_images"`
	ValidImages     int64   `json:"valid_images"`
	AvgUsage        float64 `json:"avg_usage"`
	MaxUsage        int64   `json:"max_usage"`
	WindowDays      int     `json:"window_days"`
	WindowLookups   int64   `json:"window_lookups"`
	WindowHits      int64   `json:"window_hits"`
	WindowHitRate   float64 `json:"window_hit_rate"`
	SuggestionCalls int64   `json:"suggestion_calls"`
}

// CacheSnapshot is a full dump of the cache tables.
type CacheSnapshot struct {
	ExportedAt time.Time      `json:"exported_at"`
	Topics     []TopicMapping `json:"topics"`
	Entries    []CacheEntry   `json:"entries"`
	Metrics    []CacheMetric  `json:"metrics"`
}
