package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/victorx64/biohack-debunker/internal/model"
	"github.com/victorx64/biohack-debunker/internal/pipeline"
)

var (
	outJSON            string
	outMD              string
	timeout            time.Duration
	noFooter           bool
	partialFailure     bool
	claimsPerChunk     int
	chunkSizeChars     int
	researchMaxResults int
	researchSources    []string
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze <segments.json>",
	Short: "Analyse the health claims in one transcript",
	Long: `Analyze reads transcript segments and:
- Extracts the health claims made in the video
- Builds a literature search query for each claim
- Retrieves evidence from the research service
- Grades each claim against the evidence it found
- Writes a JSON report with a summary and overall rating

The input is {"segments": [{"start", "end", "text"}]} or a bare array.

Example:
  debunker analyze episode.json
  debunker analyze episode.json --out report.json --md report.md
  debunker analyze episode.json --sources pubmed,openalex --max-results 8`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	// Output flags
	analyzeCmd.Flags().StringVar(&outJSON, "out", "", "output JSON path (default: stdout)")
	analyzeCmd.Flags().StringVar(&outMD, "md", "", "output Markdown path (optional)")
	analyzeCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall analysis timeout")
	analyzeCmd.Flags().BoolVar(&noFooter, "no-footer", false, "disable footer in Markdown reports")

	addAnalysisFlags(analyzeCmd)
}

// addAnalysisFlags registers the request options shared by analyze and batch
func addAnalysisFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&claimsPerChunk, "claims-per-chunk", 0, "max claims per transcript chunk (default 8)")
	cmd.Flags().IntVar(&chunkSizeChars, "chunk-size", 0, "transcript chunk size in characters (default 5000)")
	cmd.Flags().IntVar(&researchMaxResults, "max-results", 0, "evidence items per claim (default 5)")
	cmd.Flags().StringSliceVar(&researchSources, "sources", nil, "literature sources: pubmed, tavily, openalex (default pubmed)")
	cmd.Flags().BoolVar(&partialFailure, "partial-failure", false, "mark failed claims not_assessable instead of failing")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	path := args[0]
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("partial-failure") {
		cfg.Analysis.PartialFailure = partialFailure
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "Analysing: %s\n", path)
		fmt.Fprintf(os.Stderr, "Timeout: %v\n", timeout)
		fmt.Fprintf(os.Stderr, "Research: %s\n", cfg.Research.URL)
		fmt.Fprintln(os.Stderr)
	}

	segments, err := model.FileTranscript{Path: path}.Segments(ctx)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	req := analysisTemplate()
	req.Segments = segments

	resp, err := a.pipeline.Analyze(ctx, req)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	renderer := pipeline.NewRenderer(os.Stdout, !noFooter)
	if err := renderer.RenderJSON(resp, outJSON); err != nil {
		return fmt.Errorf("render JSON: %w", err)
	}
	if verbose && outJSON != "" {
		fmt.Fprintf(os.Stderr, "✓ Wrote JSON: %s\n", outJSON)
	}

	if outMD != "" {
		if err := renderer.RenderMarkdown(resp, outMD); err != nil {
			return fmt.Errorf("render markdown: %w", err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote Markdown: %s\n", outMD)
		}
	}

	// Console summary goes to stderr so stdout stays valid JSON
	pipeline.NewRenderer(os.Stderr, false).RenderSummary(resp)

	for _, w := range resp.Warnings {
		fmt.Fprintf(os.Stderr, "⚠ %s\n", w)
	}

	return nil
}
