package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/auditgraph/vulnalign-go/internal/align"
	"github.com/auditgraph/vulnalign-go/internal/batch"
	"github.com/auditgraph/vulnalign-go/internal/config"
	"github.com/auditgraph/vulnalign-go/internal/database"
	"github.com/auditgraph/vulnalign-go/internal/embeddings"
	"github.com/auditgraph/vulnalign-go/internal/extract"
	"github.com/auditgraph/vulnalign-go/internal/metrics"
)

var (
	configPath = flag.String("config", "", "Path to YAML config (default: ./vulnalign.yaml if present)")
	mode       = flag.String("mode", "all", "Pipeline stage to run: extract, align, or all")
	reports    = flag.String("reports", "", "Directory of audit reports (.md/.txt) for extraction")
	records    = flag.String("records", "", "Directory of *_result.json files for alignment (defaults to -out)")
	out        = flag.String("out", "", "Output directory for extraction results and alignment artifacts")
	workers    = flag.Int("workers", 0, "Worker pool size (default 4)")
	threshold  = flag.Float64("threshold", 0, "Cosine similarity threshold for matching (default 0.85)")
	exportPath = flag.String("export", "", "Write the full canonical entity table to this JSON file after alignment")
	libsqlURL  = flag.String("libsql-url", "", "libSQL database URL (default: file:./vulnalign.db)")
	authToken  = flag.String("auth-token", "", "Authentication token for remote databases")
)

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, stopping...")
		cancel()
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *threshold > 0 {
		cfg.Threshold = *threshold
	}
	if *reports != "" {
		cfg.InputDir = *reports
	}
	if *out != "" {
		cfg.OutputDir = *out
	}
	recordsDir := cfg.OutputDir
	if *records != "" {
		recordsDir = *records
	}

	metrics.InitFromEnv()

	switch *mode {
	case "extract":
		runExtract(ctx, cfg)
	case "align":
		runAlign(ctx, cfg, recordsDir)
	case "all":
		runExtract(ctx, cfg)
		runAlign(ctx, cfg, cfg.OutputDir)
	default:
		log.Fatalf("unknown mode: %s (expected: extract, align, or all)", *mode)
	}
}

func runExtract(ctx context.Context, cfg config.Config) {
	extractor := extract.NewExtractorFromEnv()
	if extractor == nil {
		log.Fatal("Extraction requires OPENAI_API_KEY")
	}
	summary, err := batch.RunExtract(ctx, extractor, batch.ExtractOptions{
		InputDir:  cfg.InputDir,
		OutputDir: cfg.OutputDir,
		Workers:   cfg.Workers,
	})
	if err != nil {
		log.Fatalf("Extraction run failed: %v", err)
	}
	if summary.Failed > 0 {
		log.Printf("Extraction finished with %d failed reports", summary.Failed)
	}
}

func runAlign(ctx context.Context, cfg config.Config, recordsDir string) {
	dbConfig := database.NewConfig()
	dbConfig.URL = cfg.LibSQLURL
	dbConfig.AuthToken = cfg.AuthToken
	dbConfig.EmbeddingDims = cfg.EmbeddingDims
	if *libsqlURL != "" {
		dbConfig.URL = *libsqlURL
	}
	if *authToken != "" {
		dbConfig.AuthToken = *authToken
	}

	store, err := database.NewStore(dbConfig)
	if err != nil {
		log.Fatalf("Failed to open entity store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("Error closing entity store: %v", err)
		}
	}()

	provider, err := embeddings.NewFromEnv()
	if err != nil {
		log.Fatalf("Failed to configure embeddings provider: %v", err)
	}
	if provider == nil {
		log.Fatal("Alignment requires an embeddings provider (set EMBEDDINGS_PROVIDER)")
	}
	engine := align.NewEngine(store, provider, cfg.Threshold)

	summary, err := batch.RunAlign(ctx, engine, batch.AlignOptions{
		InputDir:  recordsDir,
		OutputDir: cfg.OutputDir,
		Workers:   cfg.Workers,
	})
	if err != nil {
		log.Fatalf("Alignment run failed: %v", err)
	}
	if summary.Failed > 0 {
		log.Printf("Alignment finished with %d failed records", summary.Failed)
	}

	if *exportPath != "" {
		entities, err := store.ExportEntities(ctx, false)
		if err != nil {
			log.Fatalf("Failed to export entities: %v", err)
		}
		data, err := json.MarshalIndent(entities, "", "  ")
		if err != nil {
			log.Fatalf("Failed to marshal export: %v", err)
		}
		if err := os.WriteFile(*exportPath, append(data, '\n'), 0o644); err != nil {
			log.Fatalf("Failed to write export: %v", err)
		}
		log.Printf("Exported %d entities to %s", len(entities), *exportPath)
	}
}
