package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/victorx64/biohack-debunker/internal/llm"
	"github.com/victorx64/biohack-debunker/internal/logging"
	"github.com/victorx64/biohack-debunker/internal/model"
)

const minQueryLength = 8

var booleanOperators = map[string]bool{"AND": true, "OR": true, "NOT": true}

// QueryProblems lists everything wrong with a search query; nil means valid
func QueryProblems(query string) []string {
	var problems []string

	query = strings.TrimSpace(query)
	if len(query) < minQueryLength {
		problems = append(problems, fmt.Sprintf("query shorter than %d chars", minQueryLength))
	}

	problems = append(problems, balanceProblems(query)...)

	problems = append(problems, operatorProblems(query)...)

	return problems
}

// ValidateQuery returns an ErrInvalidQuery-wrapped error for a bad query
func ValidateQuery(query string) error {
	if problems := QueryProblems(query); len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidQuery, strings.Join(problems, "; "))
	}
	return nil
}

// balanceProblems checks bracket nesting and quote pairing. Brackets inside
// quotes are literal; an apostrophe between two letters is not a quote.
func balanceProblems(query string) []string {
	var (
		problems []string
		stack    []rune
		quote    rune
	)
	runes := []rune(query)

	for i, r := range runes {
		if quote != 0 {
			if r == quote && !isApostrophe(runes, i) {
				quote = 0
			}
			continue
		}

		switch r {
		case '"':
			quote = r
		case '\'':
			if !isApostrophe(runes, i) {
				quote = r
			}
		case '(', '[':
			stack = append(stack, r)
		case ')', ']':
			open := '('
			if r == ']' {
				open = '['
			}
			if len(stack) == 0 || stack[len(stack)-1] != open {
				return append(problems, fmt.Sprintf("unbalanced %q at position %d", r, i))
			}
			stack = stack[:len(stack)-1]
		}
	}

	if quote != 0 {
		problems = append(problems, fmt.Sprintf("unclosed %c quote", quote))
	}
	if len(stack) > 0 {
		problems = append(problems, fmt.Sprintf("unclosed %q", stack[len(stack)-1]))
	}
	return problems
}

// operatorProblems reports boolean operators missing an operand on either
// side: at the edges, next to a bracket, or next to another operator
func operatorProblems(query string) []string {
	var problems []string
	tokens := queryTokens(query)

	isOperand := func(i int) bool {
		if i < 0 || i >= len(tokens) {
			return false
		}
		tok := tokens[i]
		return !booleanOperators[tok] && tok != "(" && tok != ")" && tok != "[" && tok != "]"
	}

	for i, tok := range tokens {
		if !booleanOperators[tok] {
			continue
		}
		left := i > 0 && (isOperand(i-1) || tokens[i-1] == ")" || tokens[i-1] == "]")
		right := i+1 < len(tokens) && (isOperand(i+1) || tokens[i+1] == "(")
		switch {
		case i == 0:
			problems = append(problems, "query starts with "+tok)
		case i == len(tokens)-1:
			problems = append(problems, "query ends with "+tok)
		case !left:
			problems = append(problems, fmt.Sprintf("%s at token %d has no left operand", tok, i+1))
		case !right:
			problems = append(problems, fmt.Sprintf("%s at token %d has no right operand", tok, i+1))
		}
	}
	return problems
}

// queryTokens splits a query into words and single-bracket tokens; quoted
// phrases stay inside one token
func queryTokens(query string) []string {
	var (
		tokens []string
		cur    []rune
		quote  rune
	)
	runes := []rune(query)
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, string(cur))
			cur = cur[:0]
		}
	}

	for i, r := range runes {
		if quote != 0 {
			cur = append(cur, r)
			if r == quote && !isApostrophe(runes, i) {
				quote = 0
			}
			continue
		}
		switch {
		case r == '"' || (r == '\'' && !isApostrophe(runes, i)):
			quote = r
			cur = append(cur, r)
		case r == '(' || r == ')' || r == '[' || r == ']':
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsSpace(r):
			flush()
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return tokens
}

func isApostrophe(runes []rune, i int) bool {
	return runes[i] == '\'' && i > 0 && i+1 < len(runes) &&
		unicode.IsLetter(runes[i-1]) && unicode.IsLetter(runes[i+1])
}

type queryInput struct {
	ID        int     `json:"id"`
	Claim     string  `json:"claim"`
	Timestamp *string `json:"timestamp"`
}

type queryOutput struct {
	Claims []struct {
		ID          int    `json:"id"`
		SearchQuery string `json:"search_query"`
	} `json:"claims"`
}

// attachQueries asks the query stage for one search query per draft and
// retries with a corrective instruction until every query validates
func (e *Extractor) attachQueries(ctx context.Context, chunk int, drafts []model.ClaimDraft) (model.Usage, error) {
	var usage model.Usage

	inputs := make([]queryInput, len(drafts))
	for i, d := range drafts {
		inputs[i] = queryInput{ID: i + 1, Claim: d.Claim, Timestamp: d.Timestamp}
	}
	payload, err := json.Marshal(map[string]any{"claims": inputs})
	if err != nil {
		return usage, fmt.Errorf("encode query input: %w", err)
	}

	user := string(payload)
	var problems []string

	for attempt := 1; attempt <= e.opts.QueryMaxAttempts; attempt++ {
		prompt := user
		if len(problems) > 0 {
			prompt = llm.CorrectivePrompt(user, problems)
		}

		result, err := e.gen.Generate(ctx, llm.Request{
			Stage:  llm.StageQuery,
			System: llm.QueryPrompt(),
			User:   prompt,
		})
		if err != nil {
			return usage, fmt.Errorf("chunk %d query generation: %w", chunk, err)
		}
		usage = usage.Add(result.Usage)

		var out queryOutput
		if err := result.Decode(&out); err != nil {
			problems = []string{"output is not a {\"claims\": [...]} object"}
			logging.Ctx(ctx, e.logger).Warn("invalid query output", "chunk", chunk, "attempt", attempt, "error", err)
			continue
		}

		queries := make(map[int]string, len(out.Claims))
		for _, c := range out.Claims {
			queries[c.ID] = strings.TrimSpace(c.SearchQuery)
		}

		problems = nil
		for _, in := range inputs {
			q, ok := queries[in.ID]
			if !ok {
				problems = append(problems, fmt.Sprintf("id %d missing", in.ID))
				continue
			}
			for _, p := range QueryProblems(q) {
				problems = append(problems, fmt.Sprintf("id %d: %s", in.ID, p))
			}
		}

		if len(problems) == 0 {
			for i := range drafts {
				q := queries[inputs[i].ID]
				drafts[i].SearchQuery = &q
			}
			return usage, nil
		}

		logging.Ctx(ctx, e.logger).Warn("invalid search queries", "chunk", chunk, "attempt", attempt, "problems", problems)
	}

	return usage, fmt.Errorf("chunk %d: %w after %d attempts: %s",
		chunk, ErrInvalidQuery, e.opts.QueryMaxAttempts, strings.Join(problems, "; "))
}
