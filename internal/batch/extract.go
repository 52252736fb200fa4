package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/auditgraph/vulnalign-go/internal/apptype"
	"github.com/auditgraph/vulnalign-go/internal/extract"
)

// DefaultWorkers is the worker pool size used when none is configured.
const DefaultWorkers = 4

// ChunkExtractor extracts vulnerability records from one report chunk.
// *extract.Extractor satisfies it; tests substitute a fake.
type ChunkExtractor interface {
	Extract(ctx context.Context, chunk extract.Chunk) ([]apptype.VulnerabilityRecord, error)
}

// ExtractOptions configures a batch extraction run.
type ExtractOptions struct {
	InputDir  string
	OutputDir string
	Workers   int
}

// RunExtract processes every .md and .txt report under InputDir in parallel,
// writing one <stem>_result.json per report and a summary.json for the run.
// A failed report is recorded in the summary and does not abort the batch.
func RunExtract(ctx context.Context, extractor ChunkExtractor, opts ExtractOptions) (apptype.ExtractSummary, error) {
	summary := apptype.ExtractSummary{RunID: uuid.NewString()}

	files, err := listReportFiles(opts.InputDir)
	if err != nil {
		return summary, err
	}
	if len(files) == 0 {
		log.Printf("no audit report files found in %s", opts.InputDir)
		return summary, nil
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return summary, fmt.Errorf("failed to create output dir: %w", err)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var mu sync.Mutex
	statuses := make(map[string]error, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, file := range files {
		g.Go(func() error {
			err := extractOneReport(gctx, extractor, file, opts.OutputDir)
			mu.Lock()
			statuses[file] = err
			mu.Unlock()
			if err != nil {
				log.Printf("failed to process %s: %v", file, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	for _, err := range statuses {
		summary.Total++
		if err == nil {
			summary.Success++
		} else {
			summary.Failed++
		}
	}
	if err := writeJSON(filepath.Join(opts.OutputDir, "summary.json"), summary); err != nil {
		return summary, fmt.Errorf("failed to write summary: %w", err)
	}
	log.Printf("extraction run %s: %d reports, %d succeeded, %d failed",
		summary.RunID, summary.Total, summary.Success, summary.Failed)
	return summary, nil
}

func extractOneReport(ctx context.Context, extractor ChunkExtractor, path, outputDir string) error {
	chunks, err := extract.ChunkFile(path)
	if err != nil {
		return err
	}
	records := make([]apptype.VulnerabilityRecord, 0)
	for _, chunk := range chunks {
		found, err := extractor.Extract(ctx, chunk)
		if err != nil {
			return fmt.Errorf("chunk %q: %w", chunk.Heading, err)
		}
		records = append(records, found...)
	}
	out := filepath.Join(outputDir, stem(path)+"_result.json")
	return writeJSON(out, records)
}

func listReportFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".md", ".txt":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
