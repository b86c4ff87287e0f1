// Command recalld serves per-user conversational memory over HTTP.
//
// It wires an OpenAI-compatible LLM and embedder to the memory engine,
// a file-backed flat vector index, a history log (sqlite or postgres),
// and the RAG pipeline, then exposes them via the REST API in
// internal/server. Configuration comes from recall.toml plus RECALL_*
// env vars; pass -config to point at a different file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recallkit/recall"
	"github.com/recallkit/recall/history/postgres"
	"github.com/recallkit/recall/history/sqlite"
	"github.com/recallkit/recall/internal/config"
	"github.com/recallkit/recall/internal/server"
	"github.com/recallkit/recall/observer"
	"github.com/recallkit/recall/provider/openaicompat"
	"github.com/recallkit/recall/store/flat"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(*configPath, logger); err != nil {
		logger.Error("recalld exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg := config.Load(configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Providers.
	genOpts := []openaicompat.ProviderOption{
		openaicompat.WithHTTPClient(&http.Client{Timeout: 2 * time.Minute}),
	}
	if cfg.LLM.Temperature != nil {
		genOpts = append(genOpts, openaicompat.WithTemperature(*cfg.LLM.Temperature))
	}
	if cfg.LLM.TopP != nil {
		genOpts = append(genOpts, openaicompat.WithTopP(*cfg.LLM.TopP))
	}
	if cfg.LLM.MaxTokens > 0 {
		genOpts = append(genOpts, openaicompat.WithMaxTokens(cfg.LLM.MaxTokens))
	}
	generator := recall.Generator(openaicompat.NewProvider(
		cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL, genOpts...))

	metric := flat.MetricIP
	switch cfg.VectorStore.Metric {
	case "", "ip":
	case "l2":
		metric = flat.MetricL2
	default:
		return fmt.Errorf("unknown vector store metric %q", cfg.VectorStore.Metric)
	}

	embOpts := []openaicompat.EmbeddingOption{
		openaicompat.WithEmbeddingHTTPClient(&http.Client{Timeout: time.Minute}),
	}
	if metric == flat.MetricIP {
		// Unit-norm vectors make inner product behave like cosine.
		embOpts = append(embOpts, openaicompat.WithUnitNorm())
	}
	embedder := recall.Embedder(openaicompat.NewEmbedding(
		cfg.Embedder.APIKey, cfg.Embedder.Model, cfg.Embedder.BaseURL,
		cfg.Embedder.Dimensions, embOpts...))

	// Observability.
	tracer := recall.Tracer(nil)
	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx, cfg.Observer.ServiceName)
		if err != nil {
			return fmt.Errorf("init observer: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("observer shutdown", "error", err)
			}
		}()
		generator = observer.WrapGenerator(generator, cfg.LLM.Model, inst)
		embedder = observer.WrapEmbedder(embedder, cfg.Embedder.Model, inst)
		tracer = observer.NewTracer()
	}

	// Vector store.
	store, err := flat.New(cfg.VectorStore.Dir, cfg.VectorStore.Collection,
		cfg.Embedder.Dimensions, metric, flat.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	info := store.Info()
	logger.Info("vector store ready", "collection", info.Name, "rows", info.Rows, "dimension", info.Dimension)

	// History log.
	var history recall.HistoryLog
	switch cfg.History.Backend {
	case "", "sqlite":
		history = sqlite.New(cfg.History.Path, sqlite.WithLogger(logger))
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.History.PostgresURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		history = postgres.New(pool)
	default:
		return fmt.Errorf("unknown history backend %q", cfg.History.Backend)
	}
	if err := history.Init(ctx); err != nil {
		return fmt.Errorf("init history: %w", err)
	}
	defer history.Close()

	// Engine, pipeline, client.
	engineOpts := []recall.EngineOption{
		recall.WithSTMCapacity(cfg.STM.Capacity),
		recall.WithLogger(logger),
	}
	if tracer != nil {
		engineOpts = append(engineOpts, recall.WithTracer(tracer))
	}
	engine := recall.NewEngine(store, history, generator, embedder, engineOpts...)

	pipelineOpts := []recall.PipelineOption{
		recall.WithTopK(cfg.RAG.TopK),
		recall.WithLTMThreshold(float32(cfg.RAG.Threshold)),
	}
	if tracer != nil {
		pipelineOpts = append(pipelineOpts, recall.WithPipelineTracer(tracer))
	}
	pipeline := recall.NewPipeline(engine, pipelineOpts...)

	client := recall.NewClient(engine, pipeline,
		recall.WithProceduralCadence(cfg.Procedural.EveryNMessages))

	// HTTP server.
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(client, server.WithLogger(logger)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}
