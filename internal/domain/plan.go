package domain

// Provenance records how a replacement image was obtained.
type Provenance string

const (
	ProvenanceCache      Provenance = "cache"
	ProvenanceSimilarity Provenance = "similarity"
	ProvenanceGenerated  Provenance = "generated"
	ProvenanceFallback   Provenance = "fallback"
)

// Candidate is one usable image in a topic's pool.
type Candidate struct {
	URL            string     `json:"url"`
	ImageID        string     `json:"image_id,omitempty"`
	SourceProvider Provider   `json:"source_provider,omitempty"`
	Confidence     float64    `json:"confidence"`
	Provenance     Provenance `json:"provenance"`
}

// ReplacementPlan rewrites or removes every <img> whose src is OriginalSrc.
// An empty NewSrc means removal.
type ReplacementPlan struct {
	OriginalSrc    string     `json:"original_src"`
	NewSrc         string     `json:"new_src,omitempty"`
	AltText        string     `json:"alt_text,omitempty"`
	Provenance     Provenance `json:"provenance,omitempty"`
	Topic          string     `json:"topic"`
	ImageID        string     `json:"image_id,omitempty"`
	SourceProvider Provider   `json:"source_provider,omitempty"`
	Confidence     float64    `json:"confidence,omitempty"`
}

// IsRemoval reports whether the plan drops the element.
func (p ReplacementPlan) IsRemoval() bool {
	return p.NewSrc == ""
}

// ApplyStats counts what Apply did to a document.
type ApplyStats struct {
	Replaced  int `json:"replaced"`
	Removed   int `json:"removed"`
	Untouched int `json:"untouched"` // img elements not covered by any plan
}
