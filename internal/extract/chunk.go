package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/victorx64/biohack-debunker/internal/model"
)

// chunkItem is the wire form of one segment inside a chunk
type chunkItem struct {
	T    string `json:"t"`
	Text string `json:"text"`
}

// Chunk packs consecutive segments greedily into JSON arrays of at most size
// chars. A single segment larger than size becomes its own chunk.
func Chunk(segments []model.TranscriptSegment, size int) []string {
	var (
		chunks  []string
		current []string
		length  int // Length of current rendered as a JSON array
	)

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, "["+strings.Join(current, ",")+"]")
		current = nil
		length = 0
	}

	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}

		item := marshalItem(chunkItem{T: FormatTimestamp(seg.Start), Text: text})

		// Brackets for a new chunk, one comma otherwise
		added := len(item) + 1
		if len(current) == 0 {
			added = len(item) + 2
		}

		if len(current) > 0 && length+added > size {
			flush()
			added = len(item) + 2
		}

		current = append(current, item)
		length += added
	}
	flush()

	return chunks
}

// FormatTimestamp renders seconds as mm:ss; minutes keep counting past an hour
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func marshalItem(item chunkItem) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(item) // Strings only; cannot fail
	return strings.TrimSuffix(buf.String(), "\n")
}
