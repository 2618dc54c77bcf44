package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/victorx64/biohack-debunker/internal/model"
)

const footer = "_Verdicts are generated automatically from retrieved literature and are not medical advice._\n"

// Renderer writes analysis results as JSON, Markdown and a console summary
type Renderer struct {
	out           io.Writer
	includeFooter bool
}

// NewRenderer creates a new renderer. Output without a path and the summary
// go to out.
func NewRenderer(out io.Writer, includeFooter bool) *Renderer {
	if out == nil {
		out = os.Stdout
	}
	return &Renderer{out: out, includeFooter: includeFooter}
}

// RenderJSON writes the response as indented JSON to path, or to the
// renderer output when path is empty or "-"
func (r *Renderer) RenderJSON(resp *model.AnalysisResponse, path string) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	data = append(data, '\n')

	return r.write(path, data)
}

// RenderMarkdown writes a human-readable report
func (r *Renderer) RenderMarkdown(resp *model.AnalysisResponse, path string) error {
	return r.write(path, []byte(r.Markdown(resp)))
}

// Markdown formats the response as a Markdown document
func (r *Renderer) Markdown(resp *model.AnalysisResponse) string {
	var b strings.Builder

	b.WriteString("# Health Claim Analysis\n\n")
	fmt.Fprintf(&b, "**Overall rating:** %s\n\n", resp.OverallRating)
	if resp.Summary != "" {
		b.WriteString(resp.Summary + "\n\n")
	}

	b.WriteString("## Claims\n\n")
	for i, c := range resp.Claims {
		fmt.Fprintf(&b, "### %d. %s\n\n", i+1, c.Claim)
		if c.Timestamp != nil {
			fmt.Fprintf(&b, "- **Timestamp:** %s\n", *c.Timestamp)
		}
		fmt.Fprintf(&b, "- **Verdict:** %s (confidence %.2f)\n", c.Verdict, c.Confidence)
		if c.EvidenceLevel != "" {
			fmt.Fprintf(&b, "- **Evidence level:** %s\n", c.EvidenceLevel)
		}
		if c.StudyType != "" && c.StudyType != model.StudyUnknown {
			fmt.Fprintf(&b, "- **Study type:** %s\n", c.StudyType)
		}
		b.WriteString("\n" + c.Explanation + "\n\n")
		if c.Nuance != nil {
			fmt.Fprintf(&b, "> %s\n\n", *c.Nuance)
		}

		if len(c.Sources) > 0 {
			b.WriteString("Sources:\n\n")
			for _, s := range c.Sources {
				fmt.Fprintf(&b, "- [%s](%s) (%s)\n", s.Title, s.URL, s.SourceType)
			}
			b.WriteString("\n")
		}
	}

	if len(resp.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range resp.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Costs\n\n")
	fmt.Fprintf(&b, "| PubMed | Tavily | OpenAlex | Prompt tokens | Completion tokens |\n")
	fmt.Fprintf(&b, "|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %d |\n\n",
		resp.Costs.PubMedRequests,
		resp.Costs.TavilyRequests,
		resp.Costs.OpenAlexRequests,
		resp.Costs.LLMPromptTokens,
		resp.Costs.LLMCompletionTokens,
	)

	if r.includeFooter {
		b.WriteString("---\n\n" + footer)
	}

	return b.String()
}

// RenderSummary prints a short console summary
func (r *Renderer) RenderSummary(resp *model.AnalysisResponse) {
	counts := make(map[model.Verdict]int)
	var order []model.Verdict
	for _, c := range resp.Claims {
		if counts[c.Verdict] == 0 {
			order = append(order, c.Verdict)
		}
		counts[c.Verdict]++
	}

	fmt.Fprintf(r.out, "\nAnalysis %s\n", resp.ID)
	fmt.Fprintf(r.out, "  Rating:   %s\n", resp.OverallRating)
	fmt.Fprintf(r.out, "  Claims:   %d\n", len(resp.Claims))
	for _, v := range order {
		fmt.Fprintf(r.out, "    %-24s %d\n", v, counts[v])
	}
	if len(resp.Warnings) > 0 {
		fmt.Fprintf(r.out, "  Warnings: %d\n", len(resp.Warnings))
	}
	fmt.Fprintf(r.out, "  Took:     %dms\n", resp.TookMS)
}

func (r *Renderer) write(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := r.out.Write(data)
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
