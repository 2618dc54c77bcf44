package llm

import (
	"fmt"
	"strings"
)

const extractionSystemPrompt = `You are a medical claim extraction specialist. Analyze the transcript and
extract all health-related claims suitable for verification.

Claims must be in English so they are easy to search in PubMed and Tavily.
When there are more candidate claims than allowed, prefer the most
extraordinary and specific ones.

Return ONLY valid JSON. Do not include markdown, code fences, or extra text.

Return a JSON array with at most %d objects. Do not exceed this limit.

Each object has fields:
- claim (string)
- category (string)
- timestamp (string "mm:ss" or null)
- specificity (vague | specific | quantified)

The user message is a JSON array of transcript items {"t": "mm:ss", "text": "..."}.`

const querySystemPrompt = `You are an expert PubMed query generation engine. Create precise, neutral
PubMed search queries for already-extracted medical claims.

Input: a JSON object with one key "claims". Each item has:
- id (integer)
- claim (string)
- timestamp (string or null)

Output: ONLY valid JSON, no markdown, no explanations. A single root object
with exactly one key "claims", an array with one object per input item.
Each output object contains exactly:
1. id (integer): copied from the input item
2. search_query (string): a precision PubMed query using PICO logic

Query rules:
- Use AND to combine concepts (Population AND Intervention AND Outcome).
- Use OR inside parentheses for synonyms.
- Use * for wildcards when useful.
- Use single quotes for multi-word phrases.
- Never start or end the query with AND, OR or NOT.
- Keep every parenthesis, bracket and quote balanced.

Example:
{"claims":[{"id":1,"search_query":"('High-Intensity Interval Training'[tiab] OR 'HIIT'[tiab]) AND 'Insulin Resistance'[tiab] AND ('Meta Analysis'[pt] OR 'Randomized Controlled Trial'[pt])"}]}`

const analysisSystemPrompt = `You are a medical research analyst. Evaluate the claim using only the
provided evidence.

Return ONLY valid JSON. Do not include markdown, code fences, or extra text.

Return a JSON object with fields:
- verdict (%s)
- confidence (0.0-1.0)
- explanation (2-3 sentences)
- nuance (string or null)
- evidence_level (high | moderate | low | very_low, optional)
- study_type (meta_analysis | systematic_review | rct | clinical_trial | observational | case_report | animal | in_vitro | unknown, optional)

The user message is a JSON object {"claim": "...", "evidence": [...]}.
An empty evidence list means no relevant publications were found.`

const reportSystemPrompt = `Summarize analyzed health claims.

Return:
- summary: 2-3 sentences
- overall_rating: accurate | mostly_accurate | mixed

Verdict meaning:
- supported: evidence supports the claim
- unsupported_by_evidence: evidence does not support the claim
- no_evidence_found: no relevant publications found in this run (uncertainty, not contradiction)

Rating rules:
- no_evidence_found is less severe than unsupported_by_evidence
- accurate: mostly supported, no clear unsupported pattern
- mostly_accurate: generally supported, with some unsupported_by_evidence or no_evidence_found
- mixed: substantial mix of supported and unsupported_by_evidence/no_evidence_found

Output ONLY valid JSON with keys "summary" and "overall_rating".
No markdown, code fences, or extra text.

The user message is a JSON array of claim objects. Use only the provided items.`

// ExtractionPrompt returns the system prompt for claim extraction
func ExtractionPrompt(claimsPerChunk int) string {
	return fmt.Sprintf(extractionSystemPrompt, claimsPerChunk)
}

// QueryPrompt returns the system prompt for search query generation
func QueryPrompt() string {
	return querySystemPrompt
}

// AnalysisPrompt returns the system prompt for claim judgment listing the
// allowed verdict labels
func AnalysisPrompt(labels []string) string {
	return fmt.Sprintf(analysisSystemPrompt, strings.Join(labels, " | "))
}

// ReportPrompt returns the system prompt for the aggregate report
func ReportPrompt() string {
	return reportSystemPrompt
}

// CorrectivePrompt appends a regeneration instruction to a previous user prompt
func CorrectivePrompt(user string, problems []string) string {
	return fmt.Sprintf("%s\n\nYour previous output was invalid: %s. Regenerate the full answer and fix these problems.",
		user, strings.Join(problems, "; "))
}
