package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/engramdev/engram/internal/config"
	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/internal/server"
	"github.com/engramdev/engram/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

// openEngine wires a store, LLM client, embedder, and classifier from
// config plus environment overrides. The LLM is optional; retrieval and
// fingerprint dedup work without it.
func openEngine() (*engine.Engine, func(), error) {
	cfg := config.Default()

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.LLM.Provider = "anthropic"
		cfg.LLM.AnthropicKey = key
	}
	if url := os.Getenv("ENGRAM_OLLAMA_URL"); url != "" {
		cfg.LLM.OllamaURL = url
	}
	if path := os.Getenv("ENGRAM_DB"); path != "" {
		cfg.Database.Path = path
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	var client llm.Client
	var classifier engine.Classifier = engine.KeywordClassifier{}
	if c, err := llm.NewClient(cfg.LLM); err != nil {
		fmt.Fprintf(os.Stderr, "warning: LLM not configured (%v), consolidation degraded to fingerprint dedup\n", err)
	} else {
		client = c
		classifier = &engine.LLMClassifier{Client: c}
		fmt.Fprintf(os.Stderr, "  llm: %s\n", cfg.LLM.Provider)
	}

	ollamaURL := cfg.LLM.OllamaURL
	if ollamaURL == "" {
		ollamaURL = "http://localhost:11434"
	}
	embeddingModel := cfg.LLM.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "nomic-embed-text"
	}

	var emb engine.Embedder
	if engine.ProbeOllama(ollamaURL, embeddingModel) {
		emb = engine.NewOllamaEmbedder(ollamaURL, embeddingModel, 768)
		fmt.Fprintf(os.Stderr, "  embedder: ollama (%s)\n", embeddingModel)
	} else {
		emb = engine.NewHashedEmbedder(256)
		fmt.Fprintf(os.Stderr, "  embedder: hashed-bow (fallback)\n")
	}

	ttl := time.Duration(cfg.Search.CacheTTLSecs) * time.Second
	eng := engine.New(db, client, emb, classifier, ttl)
	cleanup := func() {
		eng.Stop()
		db.Close()
	}
	return eng, cleanup, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Default()

	eng, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := eng.StartMaintenance(); err != nil {
		return fmt.Errorf("start maintenance: %w", err)
	}

	srv := server.New(eng, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "engram serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", eng.DB.Path)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
