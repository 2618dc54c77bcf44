package model

// EvidenceSource represents one literature item returned by the research collaborator
type EvidenceSource struct {
	Title           string   `json:"title"`
	URL             string   `json:"url"`
	SourceType      string   `json:"source_type"`                // pubmed, tavily, openalex
	PublicationType []string `json:"publication_type,omitempty"` // PubMed publication types and MeSH tags
	RelevanceScore  float64  `json:"relevance_score"`
	Snippet         *string  `json:"snippet,omitempty"`

	// Optional bibliometric fields (OpenAlex)
	PublicationDate              *string     `json:"publication_date,omitempty"`
	CitedByCount                 *int        `json:"cited_by_count,omitempty"`
	FWCI                         *float64    `json:"fwci,omitempty"`
	CitationNormalizedPercentile *float64    `json:"citation_normalized_percentile,omitempty"`
	PrimarySourceDisplayName     *string     `json:"primary_source_display_name,omitempty"`
	PrimarySourceIsCore          *bool       `json:"primary_source_is_core,omitempty"`
	CountsByYear                 []YearCount `json:"counts_by_year,omitempty"`
	InstitutionDisplayNames      []string    `json:"institution_display_names,omitempty"`
}

// YearCount is a per-year citation count
type YearCount struct {
	Year         int `json:"year"`
	CitedByCount int `json:"cited_by_count"`
}

// SnippetText returns the snippet or an empty string
func (e EvidenceSource) SnippetText() string {
	if e.Snippet == nil {
		return ""
	}
	return *e.Snippet
}
