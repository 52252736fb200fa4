package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/auditgraph/vulnalign-go/internal/align"
	"github.com/auditgraph/vulnalign-go/internal/config"
	"github.com/auditgraph/vulnalign-go/internal/database"
	"github.com/auditgraph/vulnalign-go/internal/embeddings"
	"github.com/auditgraph/vulnalign-go/internal/metrics"
	"github.com/auditgraph/vulnalign-go/internal/server"
)

var (
	configPath  = flag.String("config", "", "Path to YAML config (default: ./vulnalign.yaml if present)")
	libsqlURL   = flag.String("libsql-url", "", "libSQL database URL (default: file:./vulnalign.db)")
	authToken   = flag.String("auth-token", "", "Authentication token for remote databases")
	threshold   = flag.Float64("threshold", 0, "Cosine similarity threshold for matching (default 0.85)")
	transport   = flag.String("transport", "stdio", "Transport to use: stdio or sse")
	addr        = flag.String("addr", ":8080", "Address to listen on when using SSE transport")
	sseEndpoint = flag.String("sse-endpoint", "/sse", "SSE endpoint path when using SSE transport")
)

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, closing server...")
		cancel()
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize metrics (noop if disabled)
	metrics.InitFromEnv()

	dbConfig := database.NewConfig()
	dbConfig.URL = cfg.LibSQLURL
	dbConfig.AuthToken = cfg.AuthToken
	dbConfig.EmbeddingDims = cfg.EmbeddingDims

	// Override with command line flags if provided
	if *libsqlURL != "" {
		dbConfig.URL = *libsqlURL
	}
	if *authToken != "" {
		dbConfig.AuthToken = *authToken
	}
	if *threshold > 0 {
		cfg.Threshold = *threshold
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
		log.Println("No embeddings provider configured; align_type will be unavailable")
	}
	engine := align.NewEngine(store, provider, cfg.Threshold)

	mcpServer := server.NewMCPServer(store, engine, provider)

	log.Println("Starting vulnalign MCP server...")
	switch *transport {
	case "stdio":
		go func() {
			if err := mcpServer.Run(ctx); err != nil {
				log.Printf("Server error: %v", err)
			}
		}()
	case "sse":
		go func() {
			if err := mcpServer.RunSSE(ctx, *addr, *sseEndpoint); err != nil {
				log.Printf("SSE server error: %v", err)
			}
		}()
	default:
		log.Fatalf("unknown transport: %s (expected: stdio or sse)", *transport)
	}

	<-ctx.Done()

	log.Println("Server stopped")
}
