package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duckmesh/text2sql/internal/answer"
	"github.com/duckmesh/text2sql/internal/api"
	"github.com/duckmesh/text2sql/internal/config"
	"github.com/duckmesh/text2sql/internal/conversation"
	"github.com/duckmesh/text2sql/internal/conversation/redisstore"
	"github.com/duckmesh/text2sql/internal/discovery"
	"github.com/duckmesh/text2sql/internal/intent"
	"github.com/duckmesh/text2sql/internal/llm"
	"github.com/duckmesh/text2sql/internal/migrations"
	"github.com/duckmesh/text2sql/internal/nl2sql"
	"github.com/duckmesh/text2sql/internal/observability"
	"github.com/duckmesh/text2sql/internal/query"
	duckdbengine "github.com/duckmesh/text2sql/internal/query/duckdb"
	"github.com/duckmesh/text2sql/internal/query/sqldb"
	"github.com/duckmesh/text2sql/internal/retrieval"
	"github.com/duckmesh/text2sql/internal/schema"
	"github.com/duckmesh/text2sql/internal/storage"
	s3store "github.com/duckmesh/text2sql/internal/storage/s3"
	"github.com/duckmesh/text2sql/internal/vectorindex"
	"github.com/duckmesh/text2sql/internal/vectorindex/pgvector"
)

func main() {
	cfg, err := config.LoadFromEnv("text2sql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger, closeLog, err := observability.NewLoggerWithFile(cfg, os.Stdout)
	if err != nil {
		slog.Error("failed to open log file", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = closeLog() }()

	if cfg.Observability.TracingEnabled {
		shutdownTracing, err := observability.SetupTracing(os.Stderr)
		if err != nil {
			logger.Error("failed to set up tracing", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("api server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var objectStore *s3store.Store
	if needsObjectStore(cfg) {
		store, err := s3store.New(ctx, cfg.ObjectStore)
		if err != nil {
			return fmt.Errorf("initialize object store: %w", err)
		}
		objectStore = store
	}

	engine, db, closeEngine, err := openEngine(ctx, cfg, objectStore)
	if err != nil {
		return err
	}
	defer func() { _ = closeEngine() }()

	model, err := llm.New(cfg.AI)
	if err != nil {
		return fmt.Errorf("initialize chat model: %w", err)
	}
	embedder, err := llm.NewEmbedder(cfg.AI)
	if err != nil {
		return fmt.Errorf("initialize embedder: %w", err)
	}
	logger.Info("language model configured",
		slog.String("provider", cfg.AI.Provider),
		slog.String("model", model.Name()),
		slog.String("embedding_provider", cfg.AI.EmbeddingProvider),
	)

	index, indexState, closeIndex, err := openIndex(ctx, cfg, embedder)
	if err != nil {
		return err
	}
	defer func() { _ = closeIndex() }()

	schemaProvider := schema.NewProvider(schema.NewSQLIntrospector(db, cfg.Database, logger), logger)
	indexer := retrieval.NewIndexer(index, indexState, logger)
	retriever := retrieval.NewRetriever(index, cfg.Index.TopK, logger)

	var discoveryStore discovery.Store = discovery.NewMemoryStore()
	if cfg.Cache.Backend == config.BackendObjectStore {
		discoveryStore = discovery.NewObjectStore(objectStore)
	}
	discoveryService := discovery.NewService(schemaProvider, discovery.NewCache(discoveryStore, discovery.NewLLMGenerator(model), logger))

	synthesizer := nl2sql.NewSynthesizer(retriever, model, engine, nl2sql.Config{
		Dialect:   cfg.Pipeline.Dialect,
		RowLimit:  cfg.Pipeline.RowLimit,
		MaxLength: cfg.Pipeline.GenerationMaxLength,
	}, logger)

	threads, closeThreads, err := openThreadStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeThreads() }()

	graph, err := conversation.New(conversation.Deps{
		Store:       threads,
		Classifier:  intent.NewClassifier(model, logger),
		Synthesizer: synthesizer,
		Executor:    query.NewExecutor(engine, logger),
		Responder:   answer.New(model, logger),
		Discovery:   discoveryService,
		MaxLength:   cfg.Pipeline.ClassificationMaxLength,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("build conversation graph: %w", err)
	}

	if cfg.Pipeline.ReindexOnStart {
		reindex(ctx, logger, schemaProvider, indexer)
	}

	readiness := []api.ReadinessCheck{api.CheckDatabase(db), api.CheckIndexed(indexState)}
	if objectStore != nil {
		readiness = append(readiness, api.CheckObjectStore(objectStore))
	}
	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:           logger,
		Readiness:        api.CombineReadinessChecks(readiness...),
		DependencyTimout: time.Second,
		Conversation:     graph,
		Schema:           schemaProvider,
		Indexer:          indexer,
		Tables:           retriever,
		Discovery:        discoveryService,
		Translator:       synthesizer,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func needsObjectStore(cfg config.Config) bool {
	if cfg.Cache.Backend == config.BackendObjectStore {
		return true
	}
	return cfg.Database.Driver == config.DriverDuckDB && len(cfg.DuckDB.Datasets) > 0
}

// openEngine returns the query engine together with the database the schema
// is introspected from.
func openEngine(ctx context.Context, cfg config.Config, store *s3store.Store) (query.Engine, *sql.DB, func() error, error) {
	if cfg.Database.Driver == config.DriverDuckDB {
		var datasets storage.ObjectStore
		if store != nil {
			datasets = store
		}
		engine, err := duckdbengine.Open(ctx, cfg.Database.DSN, datasets, cfg.DuckDB.Datasets)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open duckdb: %w", err)
		}
		return engine, engine.SQLDB(), engine.Close, nil
	}
	db, err := sqldb.Open(ctx, sqldb.ConfigFrom(cfg.Database))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	return sqldb.NewEngine(db, true), db, db.Close, nil
}

func openIndex(ctx context.Context, cfg config.Config, embedder llm.Embedder) (vectorindex.Index, retrieval.StateStore, func() error, error) {
	if cfg.Index.Backend != config.BackendPGVector {
		// An in-process index starts empty, so its state must not outlive it.
		return vectorindex.NewMemory(embedder), retrieval.NewMemoryStateStore(), func() error { return nil }, nil
	}
	dsn := cfg.Index.DSN
	if dsn == "" && cfg.Database.Driver == config.DriverPostgres {
		dsn = cfg.Database.DSN
	}
	db, err := sqldb.Open(ctx, sqldb.DBConfig{Driver: config.DriverPostgres, DSN: dsn})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open index database: %w", err)
	}
	if _, err := migrations.NewRunner(migrations.WithChunkTable(cfg.Index.Table)).Up(ctx, db, 0); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("migrate index database: %w", err)
	}
	store := pgvector.NewStore(db, cfg.Index.Table, embedder)
	return store, pgvector.NewStateStore(db, cfg.Index.Table), db.Close, nil
}

func openThreadStore(ctx context.Context, cfg config.Config) (conversation.ThreadStore, func() error, error) {
	if cfg.Threads.Backend != config.BackendRedis {
		return conversation.NewMemoryStore(), func() error { return nil }, nil
	}
	client, err := redisstore.Dial(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return redisstore.New(client, cfg.Redis.KeyPrefix, cfg.Redis.ThreadTTL), client.Close, nil
}

func reindex(ctx context.Context, logger *slog.Logger, provider *schema.Provider, indexer *retrieval.Indexer) {
	snapshot, err := provider.Refresh(ctx)
	if err != nil {
		logger.Error("schema snapshot failed; serving without index", slog.Any("error", err))
		return
	}
	summary, err := indexer.Reindex(ctx, snapshot.Text)
	if err != nil {
		logger.Error("schema reindex failed; serving without index", slog.Any("error", err))
		return
	}
	logger.Info("schema indexed",
		slog.String("schema_hash", summary.SchemaHash),
		slog.Int("tables", summary.TableCount),
		slog.Bool("skipped", summary.Skipped),
	)
}
