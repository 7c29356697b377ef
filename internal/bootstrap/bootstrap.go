package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"golang.org/x/time/rate"

	"github.com/Autopsias/raglite/internal/config"
	"github.com/Autopsias/raglite/internal/core/ports"
	"github.com/Autopsias/raglite/internal/core/usecase"
	"github.com/Autopsias/raglite/internal/infrastructure/chunking"
	"github.com/Autopsias/raglite/internal/infrastructure/extractor"
	"github.com/Autopsias/raglite/internal/infrastructure/llm/ollama"
	"github.com/Autopsias/raglite/internal/infrastructure/llm/openai"
	"github.com/Autopsias/raglite/internal/infrastructure/queue/nats"
	"github.com/Autopsias/raglite/internal/infrastructure/reference"
	"github.com/Autopsias/raglite/internal/infrastructure/repository/sqlstore"
	"github.com/Autopsias/raglite/internal/infrastructure/resilience"
	"github.com/Autopsias/raglite/internal/infrastructure/storage/localfs"
	"github.com/Autopsias/raglite/internal/infrastructure/tokenizer"
	"github.com/Autopsias/raglite/internal/infrastructure/vector/bolt"
	"github.com/Autopsias/raglite/internal/infrastructure/vector/qdrant"
)

type App struct {
	Config config.Config

	Queue     ports.MessageQueue
	Repo      ports.DocumentRepository
	IngestUC  ports.DocumentIngestor
	ProcessUC ports.DocumentProcessor
	Retriever ports.EvidenceRetriever
	AnswerUC  ports.AnswerService
	Entities  ports.EntityAdmin

	executors []*resilience.Executor
	closers   []func()
}

// Observers carries the telemetry sinks of the running binary. Either field
// may be nil.
type Observers struct {
	Retrieval ports.RetrievalObserver
	Ingestion ports.IngestionObserver
}

func New(ctx context.Context, cfg config.Config, observers Observers) (*App, error) {
	app := &App{Config: cfg}
	if err := app.init(ctx, cfg, observers); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (app *App) init(ctx context.Context, cfg config.Config, observers Observers) error {
	dialect, dsn, err := structuredBackend(cfg)
	if err != nil {
		return err
	}
	db, err := sqlstore.Open(dialect, dsn)
	if err != nil {
		return fmt.Errorf("open structured store: %w", err)
	}
	app.onClose(func() { _ = db.Close() })

	repo := sqlstore.NewDocumentRepository(db, dialect)
	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure document schema: %w", err)
	}
	facts := sqlstore.NewFactStore(db, dialect)
	if err := facts.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure facts schema: %w", err)
	}

	refSource := reference.NewFileSource(cfg.ReferencePath)
	refs, err := refSource.Load(ctx)
	if err != nil {
		return fmt.Errorf("load reference data: %w", err)
	}
	policy := retrievalPolicy(cfg)
	entities, err := usecase.NewEntityResolver(refs.Entities, policy, usecase.WithCatalogWriter(refSource))
	if err != nil {
		return fmt.Errorf("init entity resolver: %w", err)
	}
	metrics := usecase.NewMetricVocabulary(refs.Metrics)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig().WithRetries(cfg.RetryMaxAttempts, cfg.BreakerEnabled))
	app.executors = append(app.executors, executor)
	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{ResilienceExecutor: executor})
	if err != nil {
		return fmt.Errorf("init message queue: %w", err)
	}
	app.onClose(queue.Close)

	embedder, generator, err := models(cfg, executor)
	if err != nil {
		return err
	}

	vectors, keyword, err := app.vectorBackend(ctx, cfg, db, dialect)
	if err != nil {
		return err
	}

	counter := tokenizer.NewCounterOrFallback(tokenizer.DefaultEncoding)
	chunker := chunking.NewSplitter(counter, cfg.ChunkMaxTokens, cfg.ChunkOverlap, cfg.TableMaxTokens)
	normalizer := usecase.NewTableNormalizer(entities, metrics, policy)

	var limiter *rate.Limiter
	if cfg.EmbeddingRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.EmbeddingRatePerSec), 1)
	}
	processOpts := []usecase.ProcessOption{usecase.WithEmbeddingBatches(cfg.EmbeddingBatchSize, limiter)}
	if observers.Ingestion != nil {
		processOpts = append(processOpts, usecase.WithIngestionObserver(observers.Ingestion))
	}

	retrievalOpts := []usecase.RetrievalOption{}
	if keyword != nil {
		retrievalOpts = append(retrievalOpts, usecase.WithKeywordIndex(keyword))
	}
	if observers.Retrieval != nil {
		retrievalOpts = append(retrievalOpts, usecase.WithRetrievalObserver(observers.Retrieval))
	}

	retriever := usecase.NewRetrievalOrchestrator(
		usecase.NewQueryAnalyzer(entities, metrics),
		facts,
		embedder,
		vectors,
		policy,
		retrievalOpts...,
	)

	app.Queue = queue
	app.Repo = repo
	parsers := extractor.NewRouter()
	app.IngestUC = usecase.NewIngestDocumentUseCase(repo, storage, queue, usecase.WithFormatChecker(parsers))
	app.ProcessUC = usecase.NewProcessDocumentUseCase(
		repo,
		storage,
		parsers,
		normalizer,
		facts,
		chunker,
		embedder,
		vectors,
		processOpts...,
	)
	app.Retriever = retriever
	app.AnswerUC = usecase.NewAnswerUseCase(retriever, generator)
	app.Entities = entities

	slog.Info("app_initialized",
		"structured_backend", dialect,
		"vector_backend", cfg.VectorBackend,
		"keyword_index", keyword != nil,
		"entities", len(refs.Entities),
		"metrics", len(refs.Metrics),
	)
	return nil
}

// OpenCircuits names the dependencies currently cut off by a circuit breaker.
func (app *App) OpenCircuits() []string {
	var out []string
	for _, e := range app.executors {
		out = append(out, e.OpenCircuits()...)
	}
	return out
}

func (app *App) Close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		app.closers[i]()
	}
	app.closers = nil
}

func (app *App) onClose(fn func()) {
	app.closers = append(app.closers, fn)
}

func structuredBackend(cfg config.Config) (sqlstore.Dialect, string, error) {
	switch strings.ToLower(cfg.StructuredBackend) {
	case "", "postgres":
		return sqlstore.DialectPostgres, cfg.PostgresDSN, nil
	case "sqlite":
		if err := ensureParentDir(cfg.SQLitePath); err != nil {
			return "", "", err
		}
		return sqlstore.DialectSQLite, cfg.SQLitePath, nil
	default:
		return "", "", fmt.Errorf("unknown structured backend %q", cfg.StructuredBackend)
	}
}

// vectorBackend builds the chunk index. The keyword index is nil when it is
// disabled or the backend has no lexical search.
func (app *App) vectorBackend(ctx context.Context, cfg config.Config, db *sqlx.DB, dialect sqlstore.Dialect) (ports.VectorStore, ports.KeywordIndex, error) {
	switch strings.ToLower(cfg.VectorBackend) {
	case "", "qdrant":
		pathExecutor := resilience.NewExecutor(resilience.QueryPathConfig().WithRetries(cfg.RetryMaxAttempts, cfg.BreakerEnabled))
		app.executors = append(app.executors, pathExecutor)
		client := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, qdrant.WithResilience(pathExecutor))
		if !cfg.KeywordIndexEnabled {
			return client, nil, nil
		}
		return client, client, nil
	case "pgvector":
		if dialect != sqlstore.DialectPostgres {
			return nil, nil, fmt.Errorf("pgvector backend requires the postgres structured backend")
		}
		store := sqlstore.NewChunkStore(db, cfg.EmbeddingDimensions)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure chunks schema: %w", err)
		}
		if !cfg.KeywordIndexEnabled {
			return store, nil, nil
		}
		return store, store, nil
	case "bolt":
		if err := ensureParentDir(cfg.BoltPath); err != nil {
			return nil, nil, err
		}
		store, err := bolt.Open(cfg.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt store: %w", err)
		}
		app.onClose(func() { _ = store.Close() })
		if cfg.KeywordIndexEnabled {
			slog.Warn("keyword_index_unsupported", "vector_backend", "bolt")
		}
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
}

func models(cfg config.Config, executor *resilience.Executor) (ports.Embedder, ports.AnswerGenerator, error) {
	var (
		ollamaClient *ollama.Client
		openaiClient *openai.Client
	)
	ollamaFor := func() *ollama.Client {
		if ollamaClient == nil {
			ollamaClient = ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.WithResilience(executor))
		}
		return ollamaClient
	}
	openaiFor := func() *openai.Client {
		if openaiClient == nil {
			openaiClient = openai.New(openai.Config{
				APIKey:         cfg.OpenAIAPIKey,
				BaseURL:        cfg.OpenAIBaseURL,
				ChatModel:      cfg.OpenAIChatModel,
				EmbeddingModel: cfg.OpenAIEmbeddingModel,
				Dimensions:     cfg.EmbeddingDimensions,
			}, executor)
		}
		return openaiClient
	}

	var embedder ports.Embedder
	switch strings.ToLower(cfg.EmbeddingProvider) {
	case "", "ollama":
		embedder = ollama.NewEmbedder(ollamaFor())
	case "openai":
		embedder = openai.NewEmbedder(openaiFor())
	default:
		return nil, nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}

	var generator ports.AnswerGenerator
	switch strings.ToLower(cfg.GenerationProvider) {
	case "", "ollama":
		generator = ollama.NewGenerator(ollamaFor())
	case "openai":
		generator = openai.NewGenerator(openaiFor())
	default:
		return nil, nil, fmt.Errorf("unknown generation provider %q", cfg.GenerationProvider)
	}
	return embedder, generator, nil
}

func ensureParentDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

func retrievalPolicy(cfg config.Config) usecase.RetrievalPolicy {
	policy := usecase.DefaultRetrievalPolicy()
	policy.StructuredWeight = cfg.StructuredWeight
	policy.VectorWeight = cfg.VectorWeight
	policy.FuzzyThreshold = cfg.FuzzyThreshold
	policy.AmbiguityMargin = cfg.AmbiguityMargin
	policy.OrientationMargin = cfg.OrientationMargin
	policy.PathTimeout = cfg.PathTimeout
	policy.StructuredTopK = cfg.StructuredTopK
	policy.VectorTopK = cfg.VectorTopK
	policy.KeywordTopK = cfg.KeywordTopK
	policy.MaxEvidenceItems = cfg.MaxEvidenceItems
	return policy
}
