package model

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// TranscriptSegment is one timed span of transcript text
type TranscriptSegment struct {
	Start float64 `json:"start" validate:"gte=0"`
	End   float64 `json:"end" validate:"gtefield=Start"`
	Text  string  `json:"text"`
}

// Transcript yields the segments of a video transcript, ordered by start
type Transcript interface {
	Segments(ctx context.Context) ([]TranscriptSegment, error)
}

// FileTranscript reads segments from a JSON file on disk
type FileTranscript struct {
	Path string
}

// Segments reads and parses the transcript file
func (f FileTranscript) Segments(ctx context.Context) ([]TranscriptSegment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	return ParseSegments(data)
}

// ParseSegments accepts either {"segments": [...]} or a bare array and
// returns the segments sorted by start time
func ParseSegments(data []byte) ([]TranscriptSegment, error) {
	var wrapped struct {
		Segments []TranscriptSegment `json:"segments"`
	}

	var segments []TranscriptSegment
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Segments != nil {
		segments = wrapped.Segments
	} else if err := json.Unmarshal(data, &segments); err != nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})

	return segments, nil
}
