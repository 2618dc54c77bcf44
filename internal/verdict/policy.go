package verdict

import (
	"math"
	"strings"

	"github.com/victorx64/biohack-debunker/internal/model"
)

// Confidence ceilings applied by the policy overrides
const (
	NoEvidenceConfidenceCap   = 0.2
	WeakEvidenceConfidenceCap = 0.55
	NonHumanConfidenceCap     = 0.4
)

// NonHumanCaveat is appended to the nuance when only animal or in vitro evidence exists
const NonHumanCaveat = "Evidence comes only from animal or in vitro studies and has not been confirmed in humans."

// Policy applies deterministic overrides to a raw model judgment
type Policy struct {
	taxonomy *Taxonomy
}

// NewPolicy creates a policy over the given taxonomy (nil means the default)
func NewPolicy(taxonomy *Taxonomy) *Policy {
	if taxonomy == nil {
		taxonomy = Default()
	}
	return &Policy{taxonomy: taxonomy}
}

// Taxonomy returns the taxonomy the policy enforces
func (p *Policy) Taxonomy() *Taxonomy {
	return p.taxonomy
}

// Apply is a pure, idempotent function of the raw analysis and the evidence
// the model was shown. It may change verdict, confidence, nuance, evidence
// level and study type, never the explanation.
func (p *Policy) Apply(raw model.ClaimAnalysis, evidence []model.EvidenceSource) model.ClaimAnalysis {
	out := raw
	hasEvidence := len(evidence) > 0

	supported := p.taxonomy.Label(RoleSupported)
	partial := p.taxonomy.Label(RolePartial)
	unsupported := p.taxonomy.Label(RoleUnsupported)
	noEvidence := p.taxonomy.Label(RoleNoEvidence)

	// 1. Name normalization
	out.Verdict = p.Normalize(string(raw.Verdict), hasEvidence)

	// 2-3. Evidence presence
	if !hasEvidence {
		out.Verdict = noEvidence
		out.Confidence = math.Min(out.Confidence, NoEvidenceConfidenceCap)
	} else if out.Verdict == noEvidence {
		out.Verdict = unsupported
	}

	// 4. Evidence quality
	studyType, ok := ParseStudyType(string(raw.StudyType))
	if !ok {
		studyType = TopStudyType(evidence)
	}
	out.StudyType = studyType
	if !raw.EvidenceLevel.Valid() {
		out.EvidenceLevel = LevelForRank(Rank(studyType))
	}

	// 5. Weak evidence
	if out.EvidenceLevel == model.EvidenceLow || out.EvidenceLevel == model.EvidenceVeryLow {
		if out.Verdict == supported {
			out.Verdict = partial
		}
		out.Confidence = math.Min(out.Confidence, WeakEvidenceConfidenceCap)
	}

	// 6. Non-human evidence
	if hasEvidence && nonHumanOnly(evidence) {
		if out.Verdict == supported || out.Verdict == partial {
			out.Verdict = unsupported
		}
		out.Confidence = math.Min(out.Confidence, NonHumanConfidenceCap)
		out.Nuance = appendSentence(out.Nuance, NonHumanCaveat)
	}

	out.Confidence = Clamp(out.Confidence)
	return out
}

// Normalize maps a provider label onto the taxonomy; unknown labels become
// unsupported when evidence exists and no-evidence otherwise
func (p *Policy) Normalize(raw string, hasEvidence bool) model.Verdict {
	if v, ok := p.taxonomy.Lookup(raw); ok {
		return v
	}
	if hasEvidence {
		return p.taxonomy.Label(RoleUnsupported)
	}
	return p.taxonomy.Label(RoleNoEvidence)
}

// Clamp bounds a confidence to [0, 1]; NaN becomes 0
func Clamp(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// appendSentence adds sentence to nuance unless it is already present
func appendSentence(nuance *string, sentence string) *string {
	if nuance == nil || strings.TrimSpace(*nuance) == "" {
		s := sentence
		return &s
	}
	if strings.Contains(strings.ToLower(*nuance), strings.ToLower(sentence)) {
		return nuance
	}
	s := strings.TrimSpace(*nuance)
	if !strings.HasSuffix(s, ".") {
		s += "."
	}
	s += " " + sentence
	return &s
}
