package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkMarkdownSplitsOnLevelTwoHeadings(t *testing.T) {
	doc := `# Audit Report

Intro paragraph.

## Reentrancy in withdraw()

The withdraw function calls out before updating balances.

### Details

More depth here.

## Integer Overflow

Unchecked arithmetic in reward calculation.
`
	chunks := ChunkMarkdown(doc)
	require.Len(t, chunks, 3)

	assert.Equal(t, "", chunks[0].Heading)
	assert.Contains(t, chunks[0].Content, "Intro paragraph.")

	assert.Equal(t, "Reentrancy in withdraw()", chunks[1].Heading)
	assert.Contains(t, chunks[1].Content, "calls out before updating balances")
	// Level-3 headings stay inside their parent section.
	assert.Contains(t, chunks[1].Content, "### Details")

	assert.Equal(t, "Integer Overflow", chunks[2].Heading)
}

func TestChunkMarkdownIgnoresHeadingsInCodeFences(t *testing.T) {
	doc := "## Finding\n\n```solidity\n// comment\n## not a heading\n```\n\ntext after\n"
	chunks := ChunkMarkdown(doc)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Finding", chunks[0].Heading)
	assert.Contains(t, chunks[0].Content, "## not a heading")
}

func TestChunkMarkdownEmpty(t *testing.T) {
	assert.Empty(t, ChunkMarkdown(""))
	assert.Empty(t, ChunkMarkdown("   \n\n  "))
}

func TestChunkFile(t *testing.T) {
	dir := t.TempDir()

	mdPath := filepath.Join(dir, "report.md")
	require.NoError(t, os.WriteFile(mdPath, []byte("## A\n\nbody\n"), 0o644))
	chunks, err := ChunkFile(mdPath)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "A", chunks[0].Heading)

	txtPath := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("plain text report"), 0o644))
	chunks, err = ChunkFile(txtPath)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "plain text report", chunks[0].Content)

	pdfPath := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("x"), 0o644))
	_, err = ChunkFile(pdfPath)
	assert.Error(t, err)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `[{"a":1}]`, stripCodeFence("```json\n[{\"a\":1}]\n```"))
	assert.Equal(t, `[{"a":1}]`, stripCodeFence(`[{"a":1}]`))
	assert.Equal(t, "[]", stripCodeFence("```\n[]\n```"))
}
