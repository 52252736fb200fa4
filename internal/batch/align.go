package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/auditgraph/vulnalign-go/internal/align"
	"github.com/auditgraph/vulnalign-go/internal/apptype"
)

// Aligner resolves one raw vulnerability type name to a canonical entity.
// *align.Engine satisfies it.
type Aligner interface {
	Align(ctx context.Context, rawName string) (apptype.AlignmentResult, error)
}

// AlignOptions configures a batch alignment run.
type AlignOptions struct {
	InputDir  string
	OutputDir string
	Workers   int
	Retry     RetryConfig
}

// RunAlign aligns the vulnerability_type of every record in every
// *_result.json under InputDir, writing one <stem>_aligned.json per input
// file and a summary.json for the run. Transient embedding failures are
// retried with backoff; a record that still fails is recorded per-file and
// does not abort the batch.
func RunAlign(ctx context.Context, aligner Aligner, opts AlignOptions) (apptype.AlignSummary, error) {
	summary := apptype.AlignSummary{RunID: uuid.NewString()}

	files, err := listResultFiles(opts.InputDir)
	if err != nil {
		return summary, err
	}
	if len(files) == 0 {
		log.Printf("no extraction results found in %s", opts.InputDir)
		return summary, nil
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return summary, fmt.Errorf("failed to create output dir: %w", err)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	retryCfg := opts.Retry
	if retryCfg.MaxAttempts <= 0 {
		retryCfg = DefaultRetryConfig()
	}

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, file := range files {
		g.Go(func() error {
			fa, aligned, failed := alignOneFile(gctx, aligner, retryCfg, file)
			out := filepath.Join(opts.OutputDir, alignedName(file))
			if err := writeJSON(out, fa); err != nil {
				log.Printf("failed to write %s: %v", out, err)
				failed += aligned
				aligned = 0
			}
			mu.Lock()
			summary.Total += aligned + failed
			summary.Aligned += aligned
			summary.Failed += failed
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	if summary.Total > 0 {
		summary.AlignmentRate = float64(summary.Aligned) / float64(summary.Total)
	}
	if err := writeJSON(filepath.Join(opts.OutputDir, "summary.json"), summary); err != nil {
		return summary, fmt.Errorf("failed to write summary: %w", err)
	}
	log.Printf("alignment run %s: %d records, %d aligned, %d failed",
		summary.RunID, summary.Total, summary.Aligned, summary.Failed)
	return summary, nil
}

func alignOneFile(ctx context.Context, aligner Aligner, retryCfg RetryConfig, path string) (apptype.FileAlignment, int, int) {
	fa := apptype.FileAlignment{
		File:    filepath.Base(path),
		Results: make(map[string]apptype.AlignmentResult),
		Errors:  make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fa.Errors[fa.File] = err.Error()
		return fa, 0, 1
	}
	var records []apptype.VulnerabilityRecord
	if err := json.Unmarshal(data, &records); err != nil {
		fa.Errors[fa.File] = fmt.Sprintf("invalid extraction result: %v", err)
		return fa, 0, 1
	}

	aligned, failed := 0, 0
	for _, record := range records {
		name := record.VulnerabilityType
		// Every record goes through the aligner, repeats included, so each
		// occurrence contributes an alias and a usage_count increment. The
		// artifact keeps one entry per name, latest outcome wins.
		var result apptype.AlignmentResult
		err := retry(ctx, retryCfg, func(err error) bool {
			return errors.Is(err, align.ErrEmbeddingUnavailable)
		}, func() error {
			var aErr error
			result, aErr = aligner.Align(ctx, name)
			return aErr
		})
		if err != nil {
			fa.Errors[name] = err.Error()
			failed++
			continue
		}
		fa.Results[name] = result
		delete(fa.Errors, name)
		aligned++
	}
	return fa, aligned, failed
}

func listResultFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), "_result.json") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func alignedName(resultPath string) string {
	base := filepath.Base(resultPath)
	return strings.TrimSuffix(base, "_result.json") + "_aligned.json"
}
