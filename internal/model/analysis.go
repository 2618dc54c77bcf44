package model

// AnalysisRequest is the input of a single pipeline run
type AnalysisRequest struct {
	Segments           []TranscriptSegment `json:"segments" validate:"required,min=1,dive"`
	ClaimsPerChunk     int                 `json:"claims_per_chunk" validate:"min=1,max=30"`
	ChunkSizeChars     int                 `json:"chunk_size_chars" validate:"min=500,max=20000"`
	ResearchMaxResults int                 `json:"research_max_results" validate:"min=1,max=20"`
	ResearchSources    []string            `json:"research_sources" validate:"required,min=1,dive,oneof=pubmed tavily openalex"`
}

// WithDefaults fills zero-valued options with their defaults
func (r AnalysisRequest) WithDefaults() AnalysisRequest {
	if r.ClaimsPerChunk == 0 {
		r.ClaimsPerChunk = 8
	}
	if r.ChunkSizeChars == 0 {
		r.ChunkSizeChars = 5000
	}
	if r.ResearchMaxResults == 0 {
		r.ResearchMaxResults = 5
	}
	if len(r.ResearchSources) == 0 {
		r.ResearchSources = []string{"pubmed"}
	}
	return r
}

// AnalysisResponse is the final result of a pipeline run
type AnalysisResponse struct {
	ID            string        `json:"id"`
	Claims        []ClaimResult `json:"claims"`
	Summary       string        `json:"summary"`
	OverallRating string        `json:"overall_rating"`
	TookMS        int64         `json:"took_ms"`
	Warnings      []string      `json:"warnings"`
	Costs         ClaimCosts    `json:"costs"` // Totals across claims plus extraction and report calls
}
