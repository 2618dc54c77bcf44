package verdict

import (
	"regexp"
	"strings"

	"github.com/victorx64/biohack-debunker/internal/model"
)

// studyRank orders study designs by strength of evidence
var studyRank = map[model.StudyType]int{
	model.StudyMetaAnalysis:     6,
	model.StudySystematicReview: 6,
	model.StudyRCT:              4,
	model.StudyClinicalTrial:    3,
	model.StudyObservational:    2,
	model.StudyCaseReport:       1,
	model.StudyAnimal:           1,
	model.StudyInVitro:          1,
	model.StudyUnknown:          0,
}

// studyPatterns are checked strongest first; the first match wins
var studyPatterns = []struct {
	studyType model.StudyType
	pattern   *regexp.Regexp
}{
	{model.StudyMetaAnalysis, regexp.MustCompile(`(?i)\bmeta[- ]?analys[ie]s\b`)},
	{model.StudySystematicReview, regexp.MustCompile(`(?i)\bsystematic (literature )?reviews?\b`)},
	{model.StudyRCT, regexp.MustCompile(`(?i)\brandomi[sz]ed (controlled |clinical |placebo[- ]controlled )?trials?\b|\brcts?\b`)},
	{model.StudyClinicalTrial, regexp.MustCompile(`(?i)\b(clinical|controlled) trials?\b`)},
	{model.StudyObservational, regexp.MustCompile(`(?i)\b(observational|cohort|case[- ]control|cross[- ]sectional|longitudinal)\b`)},
	{model.StudyCaseReport, regexp.MustCompile(`(?i)\bcase (reports?|series)\b`)},
	{model.StudyInVitro, regexp.MustCompile(`(?i)\b(in[- ]vitro|cell lines?|cell cultures?|cultured cells)\b`)},
	{model.StudyAnimal, regexp.MustCompile(`(?i)\b(mice|mouse|murine|rats?|rodents?|animals|animal (models?|stud(y|ies))|in animals|zebrafish|porcine|canine)\b`)},
}

// Rank returns the evidence strength of a study type
func Rank(t model.StudyType) int {
	return studyRank[t]
}

// LevelForRank derives an evidence level from a study rank
func LevelForRank(rank int) model.EvidenceLevel {
	switch {
	case rank >= 3:
		return model.EvidenceHigh
	case rank == 2:
		return model.EvidenceModerate
	case rank == 1:
		return model.EvidenceLow
	default:
		return model.EvidenceVeryLow
	}
}

// ParseStudyType maps a free-form study type name onto a known type
func ParseStudyType(raw string) (model.StudyType, bool) {
	key := normalizeKey(raw)
	if key == "" {
		return "", false
	}
	if _, ok := studyRank[model.StudyType(key)]; ok {
		return model.StudyType(key), true
	}
	text := strings.ReplaceAll(key, "_", " ")
	for _, sp := range studyPatterns {
		if sp.pattern.MatchString(text) {
			return sp.studyType, true
		}
	}
	return "", false
}

// ClassifyStudyType infers the study design of one evidence item,
// preferring publication type tags over title and snippet text
func ClassifyStudyType(src model.EvidenceSource) model.StudyType {
	tags := strings.Join(src.PublicationType, " | ")
	for _, sp := range studyPatterns {
		if sp.pattern.MatchString(tags) {
			return sp.studyType
		}
	}

	text := src.Title + " " + src.SnippetText()
	for _, sp := range studyPatterns {
		if sp.pattern.MatchString(text) {
			return sp.studyType
		}
	}

	return model.StudyUnknown
}

// TopStudyType returns the strongest study type across the evidence
func TopStudyType(evidence []model.EvidenceSource) model.StudyType {
	top := model.StudyUnknown
	for _, src := range evidence {
		if t := ClassifyStudyType(src); Rank(t) > Rank(top) {
			top = t
		}
	}
	return top
}

// IsHumanTagged reports whether an item carries the "Humans" tag
func IsHumanTagged(src model.EvidenceSource) bool {
	for _, tag := range src.PublicationType {
		switch strings.ToLower(strings.TrimSpace(tag)) {
		case "humans", "human":
			return true
		}
	}
	return false
}

// nonHumanOnly is true when every classified item is an animal or in vitro
// study and nothing is tagged as human research
func nonHumanOnly(evidence []model.EvidenceSource) bool {
	qualifying := 0
	for _, src := range evidence {
		if IsHumanTagged(src) {
			return false
		}
		switch ClassifyStudyType(src) {
		case model.StudyAnimal, model.StudyInVitro:
			qualifying++
		case model.StudyUnknown:
		default:
			return false
		}
	}
	return qualifying > 0
}
