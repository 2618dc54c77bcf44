package extract

import (
	"strings"

	"github.com/victorx64/biohack-debunker/internal/model"
)

// Dedupe removes claims whose text repeats an earlier one, ignoring case
// and whitespace. The first occurrence wins, so input order decides which
// chunk a duplicate is attributed to.
func Dedupe(drafts []model.ClaimDraft) []model.ClaimDraft {
	seen := make(map[string]bool)
	var unique []model.ClaimDraft

	for _, draft := range drafts {
		key := dedupeKey(draft.Claim)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, draft)
	}

	return unique
}

func dedupeKey(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
