package bootstrap

import (
	"context"
	"fmt"

	"github.com/ndmitriev/recollect/internal/config"
	"github.com/ndmitriev/recollect/internal/core/domain"
	"github.com/ndmitriev/recollect/internal/core/ports"
	"github.com/ndmitriev/recollect/internal/core/usecase"
	"github.com/ndmitriev/recollect/internal/infrastructure/graph/neo4j"
	"github.com/ndmitriev/recollect/internal/infrastructure/llm/ollama"
	"github.com/ndmitriev/recollect/internal/infrastructure/queue/nats"
	"github.com/ndmitriev/recollect/internal/infrastructure/repository/postgres"
	"github.com/ndmitriev/recollect/internal/infrastructure/resilience"
	"github.com/ndmitriev/recollect/internal/infrastructure/storage/localfs"
	"github.com/ndmitriev/recollect/internal/infrastructure/vector/qdrant"
	"github.com/ndmitriev/recollect/internal/infrastructure/vision"
)

type App struct {
	Config config.Config
	Policy domain.FusionPolicy

	Queue   ports.MessageQueue
	Repo    ports.MemoryRepository
	Storage ports.ObjectStorage

	SearchUC  ports.MemorySearcher
	IngestUC  ports.MemoryIngestor
	EnrichUC  ports.MemoryEnricher
	RelatedUC ports.RelatedMemoryFinder

	closeFn func()
}

// Options carries per-process wiring that config cannot: the API process
// plugs its metrics recorder into the engine, the worker plugs its own into
// the enrichment pipeline.
type Options struct {
	SearchMetrics usecase.SearchMetrics
	EnrichMetrics usecase.EnrichMetrics
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	policy, err := cfg.LoadFusionPolicy()
	if err != nil {
		return nil, fmt.Errorf("load fusion policy: %w", err)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewMemoryRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	embedder := ollama.NewEmbedder(ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel, executor))
	visionClient := vision.New(cfg.VisionURL, executor)

	textVectors := qdrant.New(cfg.QdrantURL, cfg.QdrantTextCollection)
	imageVectors := qdrant.New(cfg.QdrantURL, cfg.QdrantImageCollection)
	semanticIndex := qdrant.NewSemanticIndex(embedder, textVectors)
	crossModalIndex := qdrant.NewCrossModalIndex(visionClient, imageVectors)
	indexer := qdrant.NewIndexer(textVectors, imageVectors)

	graph, err := neo4j.New(ctx, cfg.Neo4jURI, cfg.Neo4jUsername, cfg.Neo4jPassword)
	if err != nil {
		return nil, fmt.Errorf("init memory graph: %w", err)
	}

	searchUC := usecase.NewSearchUseCase(repo, semanticIndex, crossModalIndex, repo, usecase.SearchOptions{
		Policy:            policy,
		LookupConcurrency: cfg.SearchLookupConcurrency,
		Metrics:           opts.SearchMetrics,
	})
	ingestUC := usecase.NewIngestMemoryUseCase(repo, storage, queue)
	enrichUC := usecase.NewEnrichMemoryUseCase(
		repo,
		storage,
		visionClient,
		visionClient,
		embedder,
		visionClient,
		indexer,
		semanticIndex,
		graph,
		usecase.EnrichOptions{Metrics: opts.EnrichMetrics},
	)
	relatedUC := usecase.NewRelatedMemoriesUseCase(repo, graph)

	return &App{
		Config: cfg,
		Policy: policy,

		Queue:   queue,
		Repo:    repo,
		Storage: storage,

		SearchUC:  searchUC,
		IngestUC:  ingestUC,
		EnrichUC:  enrichUC,
		RelatedUC: relatedUC,

		closeFn: func() {
			queue.Close()
			_ = graph.Close(context.Background())
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
