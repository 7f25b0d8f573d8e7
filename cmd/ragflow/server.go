package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/ragflow/api/handlers"
	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/embedding"
	"github.com/BaSui01/ragflow/graph"
	"github.com/BaSui01/ragflow/ingest"
	"github.com/BaSui01/ragflow/internal/cache"
	"github.com/BaSui01/ragflow/internal/database"
	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/internal/server"
	"github.com/BaSui01/ragflow/internal/telemetry"
	"github.com/BaSui01/ragflow/llm"
	"github.com/BaSui01/ragflow/orchestrator"
	"github.com/BaSui01/ragflow/pipeline"
	"github.com/BaSui01/ragflow/rag"
	"github.com/BaSui01/ragflow/rerank"
	"github.com/BaSui01/ragflow/session"
	"github.com/BaSui01/ragflow/web"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 ragflow 的主服务器，持有全部已装配的依赖。
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 共享资源，关闭时释放
	cacheManager *cache.Manager
	db           *gorm.DB
	otel         *telemetry.Providers
}

// NewServer 装配全部依赖并构建 HTTP / Metrics 服务器（不启动）。
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otelProviders,
	}

	collector := metrics.NewCollector("ragflow", nil, logger)

	// Redis：检查点 / 租约 / 会话记忆
	cacheManager, err := cache.NewManager(cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	s.cacheManager = cacheManager

	// 文档元数据库
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db

	// 嵌入能力（查询嵌入可选缓存）
	var embedder embedding.Provider = embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		MaxBatch:   cfg.Embedding.MaxBatch,
		Timeout:    cfg.Embedding.Timeout,
	})
	if cfg.Embedding.CacheTTL > 0 {
		embedder = embedding.NewCachedProvider(embedder, cfg.Embedding.CacheTTL)
	}

	// 向量索引后端
	store, err := buildVectorStore(cfg.VectorStore, logger)
	if err != nil {
		return nil, err
	}

	// 稀疏索引 + 重排链 + 混合检索
	sparse := rag.NewSparseIndex(cfg.Retrieval)
	reranker, err := buildRerankChain(cfg.Rerank, logger)
	if err != nil {
		return nil, err
	}
	hybrid := rag.NewHybridRetriever(embedder, store, sparse, reranker, cfg.Retrieval, logger)

	// 可选检索策略：知识图谱 / 实时网页
	var graphRetriever orchestrator.GraphRetriever
	if cfg.Graph.Enabled {
		graphRetriever = graph.NewRetriever(graph.NewHTTPClient(cfg.Graph, logger), cfg.Graph, logger)
	}
	var webRetriever orchestrator.WebRetriever
	if cfg.Web.Enabled {
		webRetriever = web.NewRetriever(web.NewHTTPSearchFunc(cfg.Web, logger), cfg.Web, logger)
	}

	fanout := orchestrator.NewRetriever(
		hybrid,
		graphRetriever,
		webRetriever,
		cfg.Orchestrator.StrategyTimeout,
		cfg.Retrieval.TopK,
		logger,
	).WithMetrics(collector)

	// 判断/生成能力（可选限流）
	var provider llm.Provider = llm.NewOpenAIProvider(llm.OpenAIConfig{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	})
	if cfg.LLM.RateLimitRPS > 0 {
		provider = llm.NewRateLimitedProvider(provider, cfg.LLM.RateLimitRPS, cfg.LLM.RateLimitBurst)
	}

	// 工作流编排器
	orch := orchestrator.New(orchestrator.Deps{
		Analyzer:    pipeline.NewAnalyzer(provider, logger),
		Grader:      pipeline.NewGrader(provider, logger),
		Rewriter:    pipeline.NewRewriter(provider, logger),
		Validator:   pipeline.NewValidator(provider, logger),
		Synthesizer: pipeline.NewSynthesizer(provider, logger),
		Retriever:   fanout,
		Checkpoints: orchestrator.NewRedisCheckpointStore(cacheManager, cfg.Orchestrator.CheckpointTTL, logger),
		Lease:       orchestrator.NewLease(cacheManager, cfg.Orchestrator.LeaseTTL, logger),
		Sessions:    session.NewStore(cacheManager, cfg.Session, logger),
		Metrics:     collector,
	}, cfg.Orchestrator, logger)

	// 文档摄取
	tokenizer := rag.NewTiktokenCounter("cl100k_base", logger)
	chunker := rag.NewChunker(cfg.Chunking, embedder, tokenizer, logger)
	ingestor, err := ingest.NewIngestor(chunker, store, sparse, db, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build ingestor: %w", err)
	}

	// Handlers 与路由
	health := handlers.NewHealthHandler(logger)
	health.AddCheck(handlers.HealthCheckFunc{CheckName: "redis", Fn: cacheManager.Ping})
	health.AddCheck(handlers.HealthCheckFunc{
		CheckName: "database",
		Fn:        func(ctx context.Context) error { return database.Ping(ctx, db) },
	})

	mux := http.NewServeMux()
	health.Register(mux)
	handlers.NewQueryHandler(orch, logger).Register(mux)
	handlers.NewIngestHandler(ingestor, collector, logger).Register(mux)

	handler := Chain(mux,
		Recovery(logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(logger),
		MetricsMiddleware(collector),
		OTelTracing(),
	)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * cfg.Server.ReadTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsManager = server.NewManager(metricsMux, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	return s, nil
}

// buildVectorStore 按配置选择向量索引后端。
func buildVectorStore(cfg config.VectorStoreConfig, logger *zap.Logger) (rag.VectorStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return rag.NewMemoryVectorStore(), nil
	case "qdrant":
		return rag.NewQdrantStore(cfg, logger), nil
	case "pgvector":
		pgdb, err := gorm.Open(postgres.Open(cfg.PgDSN), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to connect pgvector database: %w", err)
		}
		return rag.NewPgVectorStore(pgdb, logger)
	default:
		return nil, fmt.Errorf("unsupported vector store backend: %s (supported: memory, qdrant, pgvector)", cfg.Backend)
	}
}

// buildRerankChain 按配置构建重排回退链。未启用时返回 nil（跳过重排）。
func buildRerankChain(cfg config.RerankConfig, logger *zap.Logger) (*rerank.Chain, error) {
	if !cfg.Enabled || len(cfg.Providers) == 0 {
		return nil, nil
	}
	providers := make([]rerank.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := rerank.NewProvider(rerank.ProviderConfig{
			Name:    pc.Provider,
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
			Timeout: pc.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build reranker %q: %w", pc.Provider, err)
		}
		providers = append(providers, p)
	}
	return rerank.NewChain(logger, providers...), nil
}

// =============================================================================
// 🚀 启动与关闭
// =============================================================================

// Start 启动 HTTP 与 Metrics 服务器（非阻塞）。
func (s *Server) Start() error {
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.metricsManager.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// WaitForShutdown 等待关闭信号并优雅关闭。
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务与共享资源。
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	if err := s.httpManager.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := s.metricsManager.Shutdown(ctx); err != nil {
		s.logger.Error("Metrics server shutdown error", zap.Error(err))
	}

	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}
	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
