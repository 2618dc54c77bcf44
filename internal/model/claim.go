package model

// ClaimDraft represents a health claim extracted from a transcript chunk
type ClaimDraft struct {
	Claim       string  `json:"claim"`                  // The claim text itself
	Category    string  `json:"category,omitempty"`     // Topic label from extraction (e.g., "supplements")
	Timestamp   *string `json:"timestamp,omitempty"`    // "mm:ss" position in the video, if known
	Specificity string  `json:"specificity,omitempty"`  // vague, specific, quantified
	SearchQuery *string `json:"search_query,omitempty"` // Literature search query, attached after extraction
	Chunk       int     `json:"-"`                      // Index of the chunk that produced the claim
}

// Query returns the text used for evidence search
func (d ClaimDraft) Query() string {
	if d.SearchQuery != nil && *d.SearchQuery != "" {
		return *d.SearchQuery
	}
	return d.Claim
}

// Verdict is a canonical verdict label (the allowed set comes from the taxonomy)
type Verdict string

// Default taxonomy labels
const (
	VerdictSupported          Verdict = "supported"
	VerdictPartiallySupported Verdict = "partially_supported"
	VerdictUnsupported        Verdict = "unsupported_by_evidence"
	VerdictNoEvidence         Verdict = "no_evidence_found"
	VerdictNotAssessable      Verdict = "not_assessable"
)

// EvidenceLevel grades the strength of the evidence behind a verdict
type EvidenceLevel string

const (
	EvidenceHigh     EvidenceLevel = "high"
	EvidenceModerate EvidenceLevel = "moderate"
	EvidenceLow      EvidenceLevel = "low"
	EvidenceVeryLow  EvidenceLevel = "very_low"
)

// Valid reports whether the level is one of the known grades
func (l EvidenceLevel) Valid() bool {
	switch l {
	case EvidenceHigh, EvidenceModerate, EvidenceLow, EvidenceVeryLow:
		return true
	}
	return false
}

// StudyType classifies the design of a study
type StudyType string

const (
	StudyMetaAnalysis     StudyType = "meta_analysis"
	StudySystematicReview StudyType = "systematic_review"
	StudyRCT              StudyType = "rct"
	StudyClinicalTrial    StudyType = "clinical_trial"
	StudyObservational    StudyType = "observational"
	StudyCaseReport       StudyType = "case_report"
	StudyAnimal           StudyType = "animal"
	StudyInVitro          StudyType = "in_vitro"
	StudyUnknown          StudyType = "unknown"
)

// ClaimAnalysis is the judgment for a single claim
type ClaimAnalysis struct {
	Verdict       Verdict       `json:"verdict"`
	Confidence    float64       `json:"confidence"` // Always within [0, 1] after the policy pass
	Explanation   string        `json:"explanation"`
	Nuance        *string       `json:"nuance,omitempty"`
	EvidenceLevel EvidenceLevel `json:"evidence_level,omitempty"`
	StudyType     StudyType     `json:"study_type,omitempty"`
}

// ClaimResult is the final, immutable outcome for one claim
type ClaimResult struct {
	ClaimDraft
	ClaimAnalysis
	Sources []EvidenceSource `json:"sources"`
	Costs   ClaimCosts       `json:"costs"`
}

// ClaimCosts counts external calls and tokens spent on a claim
type ClaimCosts struct {
	PubMedRequests      int `json:"pubmed_requests"`
	TavilyRequests      int `json:"tavily_requests"`
	OpenAlexRequests    int `json:"openalex_requests"`
	LLMPromptTokens     int `json:"llm_prompt_tokens"`
	LLMCompletionTokens int `json:"llm_completion_tokens"`
}

// Add returns the sum of two cost records
func (c ClaimCosts) Add(o ClaimCosts) ClaimCosts {
	return ClaimCosts{
		PubMedRequests:      c.PubMedRequests + o.PubMedRequests,
		TavilyRequests:      c.TavilyRequests + o.TavilyRequests,
		OpenAlexRequests:    c.OpenAlexRequests + o.OpenAlexRequests,
		LLMPromptTokens:     c.LLMPromptTokens + o.LLMPromptTokens,
		LLMCompletionTokens: c.LLMCompletionTokens + o.LLMCompletionTokens,
	}
}

// AddUsage adds LLM token usage to the cost record
func (c ClaimCosts) AddUsage(u Usage) ClaimCosts {
	c.LLMPromptTokens += u.PromptTokens
	c.LLMCompletionTokens += u.CompletionTokens
	return c
}

// Usage tracks LLM token consumption
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Add returns the sum of two usage records
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
	}
}
