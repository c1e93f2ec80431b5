// Package registry is the Service Registry: the single place that owns
// every long-lived shared resource the retrieval core depends on -
// database and Redis connections, the embedding/vector-store/rerank
// clients, the per-KB BM25 indexes, the LLM failover manager, and the
// domain services (retrieval engine, query rewriter, attribution,
// compression) built on top of them. Retrieval requests borrow references
// from it; they never own these resources themselves.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aihub/knowledge-retrieval/internal/attribution"
	"github.com/aihub/knowledge-retrieval/internal/bm25"
	"github.com/aihub/knowledge-retrieval/internal/config"
	"github.com/aihub/knowledge-retrieval/internal/database"
	"github.com/aihub/knowledge-retrieval/internal/ingestion"
	"github.com/aihub/knowledge-retrieval/internal/interfaces"
	"github.com/aihub/knowledge-retrieval/internal/knowledge"
	"github.com/aihub/knowledge-retrieval/internal/llm"
	"github.com/aihub/knowledge-retrieval/internal/logger"
	"github.com/aihub/knowledge-retrieval/internal/repository"
	"github.com/aihub/knowledge-retrieval/internal/resilience"
	"github.com/aihub/knowledge-retrieval/internal/retrieval"
	"github.com/aihub/knowledge-retrieval/internal/rewrite"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Registry holds every shared dependency, wired once at process start.
type Registry struct {
	DB    interfaces.DatabaseInterface
	Redis *redis.Client

	Breakers *resilience.BreakerRegistry

	LLM *llm.Manager

	Embedder    knowledge.Embedder
	VectorStore knowledge.VectorStore
	Reranker    knowledge.Reranker
	BM25        *bm25.Manager

	Engine     *retrieval.Engine
	Rewriter   *rewrite.Rewriter
	Attributor *attribution.Attributor
	Compressor *attribution.Compressor

	Repo     repository.CoreRepository
	Ingestor *ingestion.Pipeline

	cfg *config.Config
}

var (
	instance *Registry
	initMu   sync.Mutex
)

// Get returns the process-wide Registry, building it on first call.
// Double-checked: the fast path (no lock) covers every call after the
// first; the mutex only serializes the handful of concurrent callers that
// can race during startup (§9 "single-initialization with a double-checked
// init under a mutex").
func Get() (*Registry, error) {
	if instance != nil {
		return instance, nil
	}
	initMu.Lock()
	defer initMu.Unlock()
	if instance != nil {
		return instance, nil
	}

	built, err := build(config.AppConfig)
	if err != nil {
		return nil, err
	}
	instance = built
	return instance, nil
}

// Reset tears down and clears the process-wide instance, for tests that
// need a fresh registry against a different config.
func Reset() {
	initMu.Lock()
	defer initMu.Unlock()
	if instance != nil {
		instance.Shutdown(context.Background())
		instance = nil
	}
}

func build(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("registry: config not loaded, call config.LoadConfig first")
	}

	db, err := database.NewDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("registry: init database: %w", err)
	}
	db.StartMonitoring(context.Background())

	redisClient, err := database.InitRedis()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registry: init redis: %w", err)
	}

	breakers := resilience.NewBreakerRegistry(resilience.CircuitBreakerOptions{
		FailureThreshold:      cfg.Resilience.FailureThreshold,
		SuccessThreshold:      cfg.Resilience.SuccessThreshold,
		RecoveryTimeout:       time.Duration(cfg.Resilience.RecoveryTimeoutS) * time.Second,
		HalfOpenMaxConcurrent: cfg.Resilience.HalfOpenMaxConcurrent,
	})
	retryOpts := resilience.RetryOptions{
		MaxAttempts: cfg.Resilience.RetryMaxAttempts,
		BaseDelay:   time.Duration(cfg.Resilience.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Resilience.RetryMaxDelayMs) * time.Millisecond,
		Jitter:      cfg.Resilience.RetryJitter,
	}

	gormDB := db.GetDB()

	embedder := knowledge.NewOpenAIEmbedder(cfg.Embedding.APIKey, cfg.Embedding.Model)

	vectorStore, err := buildVectorStore(cfg, gormDB)
	if err != nil {
		_ = redisClient.Close()
		_ = db.Close()
		return nil, err
	}

	reranker := knowledge.NewHTTPReranker(cfg.Rerank.BaseURL, cfg.Rerank.APIKey, cfg.Rerank.Model)
	if !cfg.Rerank.Enabled {
		reranker = &knowledge.NoopReranker{}
	}

	source := newChunkSource(gormDB)
	bm25Manager := bm25.NewManager(cfg.BM25.PersistDir, time.Duration(cfg.BM25.FlushIntervalS)*time.Second, source)
	fulltext := bm25.NewFulltextAdapter(bm25Manager)

	validator := newKBValidator(gormDB)

	providers := []llm.Provider{llm.NewOpenAIProvider(cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIBaseURL, cfg.LLM.DefaultModel)}
	degrade := resilience.NewDegradationManager(
		"The assistant is temporarily unavailable. Please retry shortly or search the knowledge base directly.",
		[]string{"retry", "search_knowledge_base", "contact_support"},
		nil,
	)
	llmManager := llm.NewManager(providers, breakers, retryOpts, degrade)

	sessionStore := rewrite.NewRedisSessionStore(redisClient, cfg.Rewrite.MaxHistoryTurns, time.Duration(cfg.Rewrite.HistoryTTLSeconds)*time.Second)
	rewriter := rewrite.NewRewriter(sessionStore, llmManager, cfg.LLM.DefaultModel, cfg.Rewrite.MaxVariations, cfg.Rewrite.EnableExpansion)

	engine := retrieval.New(embedder, vectorStore, fulltext, reranker, validator, rewriter, breakers, retryOpts, retrieval.EngineConfig{
		DefaultAlpha:               cfg.Retrieval.DefaultAlpha,
		DefaultTopK:                cfg.Retrieval.DefaultTopK,
		RerankBatchCap:             cfg.Retrieval.RerankBatchCap,
		MaxConcurrentRequests:      cfg.Service.MaxConcurrentRequests,
		MaxConcurrentUpstreamCalls: cfg.Service.MaxConcurrentUpstreamCallsPerReq,
	})

	attributor := attribution.NewAttributor(embedder, breakers, retryOpts)
	compressor := attribution.NewCompressor(embedder, breakers, retryOpts, nil)

	coreRepo := repository.NewCoreRepository(gormDB)
	lifecycle := ingestion.NewLifecycle(gormDB)
	ingestor := ingestion.NewPipeline(coreRepo, lifecycle, embedder, vectorStore, fulltext, breakers, retryOpts)

	reg := &Registry{
		DB:          db,
		Redis:       redisClient,
		Breakers:    breakers,
		LLM:         llmManager,
		Embedder:    embedder,
		VectorStore: vectorStore,
		Reranker:    reranker,
		BM25:        bm25Manager,
		Engine:      engine,
		Rewriter:    rewriter,
		Attributor:  attributor,
		Compressor:  compressor,
		Repo:        coreRepo,
		Ingestor:    ingestor,
		cfg:         cfg,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ids, err := activeKBIDs(ctx, gormDB)
	if err != nil {
		logger.Warn("registry: listing active kbs for bm25 warmup failed, indexes will build lazily", zap.Error(err))
	} else if err := bm25Manager.RebuildAll(ctx, ids); err != nil {
		logger.Warn("registry: bm25 warmup rebuild failed, indexes will build lazily", zap.Error(err))
	}
	bm25Manager.StartFlushLoop(context.Background())

	go func() {
		reconcileCtx, reconcileCancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer reconcileCancel()
		if _, err := ingestor.ReconcileAll(reconcileCtx); err != nil {
			logger.Warn("registry: startup reconciliation failed", zap.Error(err))
		}
	}()

	return reg, nil
}

// buildVectorStore picks the vector-store backend per
// cfg.VectorStore.Provider: "milvus" talks to a real Milvus cluster;
// anything else (including an unreachable Milvus at startup) falls back
// to the Postgres-backed degenerate store so the engine still has a dense
// backend to call, degrading quality rather than availability.
func buildVectorStore(cfg *config.Config, db *gorm.DB) (knowledge.VectorStore, error) {
	if cfg.VectorStore.Provider != "milvus" {
		return knowledge.NewDatabaseVectorStore(db), nil
	}

	store, err := knowledge.NewMilvusVectorStore(knowledge.MilvusOptions{
		Address:    cfg.VectorStore.Milvus.Address,
		Username:   cfg.VectorStore.Milvus.Username,
		Password:   cfg.VectorStore.Milvus.Password,
		Database:   cfg.VectorStore.Milvus.Database,
		VectorSize: cfg.VectorStore.Milvus.VectorSize,
		Distance:   cfg.VectorStore.Milvus.Distance,
		UseTLS:     cfg.VectorStore.Milvus.TLS,
	})
	if err != nil {
		logger.Warn("registry: milvus unavailable, falling back to database vector store", zap.Error(err))
		return knowledge.NewDatabaseVectorStore(db), nil
	}
	return store, nil
}

// Shutdown tears resources down in reverse dependency order: stop
// background work that still touches the store before closing the store
// itself (§9 "tears resources down in reverse dependency order").
func (r *Registry) Shutdown(ctx context.Context) {
	if r.BM25 != nil {
		r.BM25.Stop()
		if err := r.BM25.FlushAll(); err != nil {
			logger.Warn("registry: final bm25 flush failed", zap.Error(err))
		}
	}
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			logger.Warn("registry: closing redis failed", zap.Error(err))
		}
	}
	if r.DB != nil {
		r.DB.StopHealthCheck()
		if err := r.DB.Close(); err != nil {
			logger.Warn("registry: closing database failed", zap.Error(err))
		}
	}
}
