package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Chunk is one section of an audit report, carrying the heading it was
// split under so extraction prompts keep their local context.
type Chunk struct {
	Heading string
	Content string
}

// ChunkMarkdown splits a markdown document into sections at level-2
// headings. Audit reports conventionally use one "## Finding" section per
// vulnerability, so this granularity gives the extractor one finding per
// chunk. Text before the first heading becomes a preamble chunk. Headings
// inside fenced code blocks are not split points.
func ChunkMarkdown(text string) []Chunk {
	var chunks []Chunk
	var heading string
	var body strings.Builder
	inFence := false

	flush := func() {
		content := strings.TrimSpace(body.String())
		if content != "" || heading != "" {
			chunks = append(chunks, Chunk{Heading: heading, Content: content})
		}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence && strings.HasPrefix(line, "## ") && !strings.HasPrefix(line, "###") {
			flush()
			heading = strings.TrimSpace(strings.TrimPrefix(line, "## "))
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()
	return chunks
}

// ChunkFile loads a report file and chunks it by extension: markdown files
// are split at level-2 headings, plain-text files become a single chunk.
func ChunkFile(path string) ([]Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report %s: %w", path, err)
	}
	content := string(data)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md":
		return ChunkMarkdown(content), nil
	case ".txt":
		if strings.TrimSpace(content) == "" {
			return nil, nil
		}
		return []Chunk{{Content: content}}, nil
	default:
		return nil, fmt.Errorf("unsupported report type %q", filepath.Ext(path))
	}
}
