package service

import (
	"strings"
	"unicode"

	"github.com/groundplane/groundplane/internal/domain"
)

// ChunkConfig controls how extracted text is split before embedding.
type ChunkConfig struct {
	Size    int // maximum chunk length in runes
	Overlap int // runes carried over between consecutive chunks
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		Size:    1000,
		Overlap: 150,
	}
}

// ChunkText splits text into overlapping chunks of at most cfg.Size runes.
// Cut points prefer paragraph breaks, then sentence ends, then any
// whitespace, so chunks stay readable. The result is deterministic for a
// given input and config.
func ChunkText(text string, cfg ChunkConfig) ([]string, error) {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil, domain.NewChunkingError("empty input")
	}
	if cfg.Size <= 0 {
		return nil, domain.NewChunkingError("chunk size must be positive")
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		return nil, domain.NewChunkingError("chunk overlap must be smaller than chunk size")
	}

	runes := []rune(clean)
	if len(runes) <= cfg.Size {
		return []string{clean}, nil
	}

	chunks := make([]string, 0, len(runes)/cfg.Size+1)
	start := 0
	for start < len(runes) {
		end := start + cfg.Size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = cutPoint(runes, start, end)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(runes) {
			break
		}

		nextStart := end - cfg.Overlap
		if nextStart <= start {
			nextStart = end
		}
		start = nextStart
	}

	if len(chunks) == 0 {
		return nil, domain.NewChunkingError("no chunks produced")
	}
	return chunks, nil
}

// cutPoint picks where to end a chunk that would otherwise split at end.
// It scans backwards no further than halfway through the window.
func cutPoint(runes []rune, start, end int) int {
	floor := start + (end-start)/2

	for i := end; i > floor+1; i-- {
		if runes[i-1] == '\n' && runes[i-2] == '\n' {
			return i
		}
	}
	for i := end; i > floor+1; i-- {
		if isSentenceEnd(runes[i-2]) && unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	for i := end; i > floor; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
