// Package splitter subdivides raw document segments into bounded-length,
// overlapping text chunks suitable for embedding.
//
// Splitting preserves document boundaries: content from two distinct raw
// segments is never merged into one chunk.
package splitter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c2h5ohfu/AetherCell/internal/document"
)

// Defaults match the embedding model's useful context window.
const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// separators is the ordered preference list for split points: paragraph
// break, line break, word break, then a hard character cut.
var separators = []string{"\n\n", "\n", " ", ""}

// Chunk is one bounded-length slice of a source document's text.
//
// Metadata carries the originating raw segment's metadata plus:
//   - "source": the source file name
//   - "chunk_index": zero-based position in the file's overall split output
//   - "raw_metadata": a JSON blob of the metadata, scalars-or-containers
//     only, for portability into the relational store
type Chunk struct {
	Text     string
	Metadata map[string]any
}

// Splitter produces chunks from raw document segments.
type Splitter struct {
	chunkSize int
	overlap   int
	logger    *slog.Logger
}

// New creates a Splitter. Non-positive size/overlap fall back to defaults;
// overlap is clamped below chunk size.
func New(chunkSize, overlap int, logger *slog.Logger) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap, logger: logger}
}

// Split subdivides the raw segments of one source file into chunks, assigning
// contiguous zero-based chunk_index values across the whole file's output and
// stamping every chunk with the source name.
//
// A failure while preparing a chunk's metadata is non-fatal for the file: the
// affected chunk carries a minimal metadata set instead.
func (s *Splitter) Split(raws []document.Raw, sourceName string) []Chunk {
	var chunks []Chunk
	index := 0

	for _, raw := range raws {
		for _, piece := range s.splitText(raw.Content) {
			meta := cloneMetadata(raw.Metadata)
			meta["source"] = sourceName
			meta["chunk_index"] = index
			meta["raw_metadata"] = serializeMetadata(meta, s.logger, sourceName, index)

			chunks = append(chunks, Chunk{Text: piece, Metadata: meta})
			index++
		}
	}
	return chunks
}

// splitText recursively splits text on the preferred separators until every
// piece fits the chunk size, then merges adjacent pieces back together with
// the configured overlap.
func (s *Splitter) splitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len(text) <= s.chunkSize {
		return []string{text}
	}
	pieces := s.recursiveSplit(text, 0)
	return s.mergeWithOverlap(pieces)
}

func (s *Splitter) recursiveSplit(text string, sepIdx int) []string {
	if len(text) <= s.chunkSize {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	sep := separators[sepIdx]
	if sep == "" {
		// Hard cut on rune boundaries.
		return hardCut(text, s.chunkSize)
	}

	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return s.recursiveSplit(text, sepIdx+1)
	}

	var out []string
	for i, part := range parts {
		if i < len(parts)-1 {
			part += sep
		}
		out = append(out, s.recursiveSplit(part, sepIdx+1)...)
	}
	return out
}

// mergeWithOverlap greedily packs pieces into chunks up to the size limit,
// retaining a tail of trailing pieces (up to the overlap budget) as the seed
// of the next chunk.
func (s *Splitter) mergeWithOverlap(pieces []string) []string {
	var (
		out    []string
		cur    []string
		curLen int
	)

	for _, piece := range pieces {
		if curLen > 0 && curLen+len(piece) > s.chunkSize {
			out = append(out, strings.Join(cur, ""))
			// Keep trailing pieces within the overlap budget.
			for curLen > s.overlap && len(cur) > 0 {
				curLen -= len(cur[0])
				cur = cur[1:]
			}
		}
		cur = append(cur, piece)
		curLen += len(piece)
	}

	if last := strings.Join(cur, ""); strings.TrimSpace(last) != "" {
		out = append(out, last)
	}
	return out
}

// hardCut slices text into windows of at most size bytes, cut on rune
// boundaries.
func hardCut(text string, size int) []string {
	var out []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			out = append(out, text[start:])
			break
		}
		for end > start && !isRuneStart(text[end]) {
			end--
		}
		if end == start {
			// A single rune wider than the window; emit it whole.
			end = start + size
			for end < len(text) && !isRuneStart(text[end]) {
				end++
			}
		}
		out = append(out, text[start:end])
		start = end
	}
	return out
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// cloneMetadata copies metadata so chunks never alias the loader's maps.
func cloneMetadata(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta)+3)
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// serializeMetadata renders metadata as a JSON string for the relational
// store. Values outside the scalar-or-container serializable subset are
// converted to their string representation first.
func serializeMetadata(meta map[string]any, logger *slog.Logger, source string, index int) string {
	serializable := make(map[string]any, len(meta))
	for k, v := range meta {
		if k == "raw_metadata" {
			continue
		}
		switch v.(type) {
		case nil:
			continue
		case string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64,
			[]any, map[string]any:
			serializable[k] = v
		default:
			serializable[k] = fmt.Sprintf("%v", v)
		}
	}

	blob, err := json.Marshal(serializable)
	if err != nil {
		logger.Warn("failed to serialize chunk metadata",
			"source", source, "chunk_index", index, "error", err)
		return `{"error":"unserializable metadata"}`
	}
	return string(blob)
}
