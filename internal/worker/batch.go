package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/victorx64/biohack-debunker/internal/model"
)

// ReportSuffix marks files written by a batch run so they are not re-read as
// transcripts
const ReportSuffix = ".report.json"

// Analyzer runs one analysis; implemented by pipeline.Pipeline
type Analyzer interface {
	Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisResponse, error)
}

// FileResult is the outcome for one transcript file
type FileResult struct {
	Path     string
	Response *model.AnalysisResponse
	Error    error
	Took     time.Duration
}

// BatchProcessor analyses transcript files concurrently
type BatchProcessor struct {
	analyzer    Analyzer
	concurrency int
	template    model.AnalysisRequest
	logger      *slog.Logger
}

// NewBatchProcessor creates a new batch processor. Every request copies the
// options of template and replaces its segments.
func NewBatchProcessor(analyzer Analyzer, concurrency int, template model.AnalysisRequest, logger *slog.Logger) *BatchProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchProcessor{
		analyzer:    analyzer,
		concurrency: concurrency,
		template:    template,
		logger:      logger.With("component", "batch"),
	}
}

// ProcessFiles analyses each file and returns results in input order
func (b *BatchProcessor) ProcessFiles(ctx context.Context, paths []string) []*FileResult {
	if len(paths) == 0 {
		return []*FileResult{}
	}

	pool := NewPool[*FileResult](ctx, b.concurrency)
	pool.Start()

	for _, path := range paths {
		path := path
		pool.Submit(func(ctx context.Context) *FileResult {
			return b.processFile(ctx, path)
		})
	}

	values, done := pool.Wait()

	results := make([]*FileResult, len(paths))
	for i, path := range paths {
		if i < len(values) && done[i] {
			results[i] = values[i]
			continue
		}
		err := ctx.Err()
		if err == nil {
			err = errors.New("not processed")
		}
		results[i] = &FileResult{Path: path, Error: err}
	}

	return results
}

func (b *BatchProcessor) processFile(ctx context.Context, path string) *FileResult {
	start := time.Now()
	result := &FileResult{Path: path}

	segments, err := model.FileTranscript{Path: path}.Segments(ctx)
	if err != nil {
		result.Error = err
		result.Took = time.Since(start)
		return result
	}

	req := b.template
	req.Segments = segments

	resp, err := b.analyzer.Analyze(ctx, req)
	result.Response = resp
	result.Error = err
	result.Took = time.Since(start)

	if err != nil {
		b.logger.Warn("transcript failed", "path", path, "error", err)
	} else {
		b.logger.Info("transcript analysed", "path", path, "claims", len(resp.Claims), "took_ms", result.Took.Milliseconds())
	}
	return result
}

// ProcessPath analyses every transcript in a directory, or every path listed
// in a text file
func (b *BatchProcessor) ProcessPath(ctx context.Context, path string) ([]*FileResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	var paths []string
	if info.IsDir() {
		paths, err = ListTranscripts(path)
	} else {
		paths, err = ReadPathList(path)
	}
	if err != nil {
		return nil, err
	}

	return b.ProcessFiles(ctx, paths), nil
}

// ListTranscripts returns the *.json files in dir, sorted, skipping reports
func ListTranscripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ReportSuffix) {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)

	return paths, nil
}

// ReadPathList reads transcript paths from a file (one per line). Relative
// paths resolve against the list's directory.
func ReadPathList(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	base := filepath.Dir(filePath)

	var paths []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !filepath.IsAbs(line) {
			line = filepath.Join(base, line)
		}

		if !seen[line] {
			seen[line] = true
			paths = append(paths, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return paths, nil
}

// ReportPath returns where the report for a transcript is written in outDir
func ReportPath(outDir, transcriptPath string) string {
	name := strings.TrimSuffix(filepath.Base(transcriptPath), filepath.Ext(transcriptPath))
	return filepath.Join(outDir, sanitizeFilename(name)+ReportSuffix)
}

// sanitizeFilename keeps letters, digits, dots, dashes and underscores
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "transcript"
	}
	return b.String()
}
