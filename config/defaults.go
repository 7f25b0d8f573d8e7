// =============================================================================
// 📦 ragflow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Redis:        DefaultRedisConfig(),
		Database:     DefaultDatabaseConfig(),
		VectorStore:  DefaultVectorStoreConfig(),
		LLM:          DefaultLLMConfig(),
		Embedding:    DefaultEmbeddingConfig(),
		Rerank:       DefaultRerankConfig(),
		Chunking:     DefaultChunkingConfig(),
		Retrieval:    DefaultRetrievalConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Graph:        DefaultGraphConfig(),
		Web:          DefaultWebConfig(),
		Session:      DefaultSessionConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:       "sqlite",
		DSN:          "ragflow.db",
		MaxOpenConns: 10,
		MaxIdleConns: 2,
	}
}

// DefaultVectorStoreConfig 返回默认向量存储配置
func DefaultVectorStoreConfig() VectorStoreConfig {
	return VectorStoreConfig{
		Backend:    "memory",
		QdrantHost: "localhost",
		QdrantPort: 6333,
		Collection: "passages",
		Dimensions: 1536,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:          "gpt-4o-mini",
		Temperature:    0.1,
		Timeout:        60 * time.Second,
		RateLimitRPS:   10,
		RateLimitBurst: 20,
	}
}

// DefaultEmbeddingConfig 返回默认嵌入配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		MaxBatch:   100,
		Timeout:    30 * time.Second,
		CacheTTL:   10 * time.Minute,
	}
}

// DefaultRerankConfig 返回默认重排配置。
// Providers 顺序即回退顺序：主 reranker 失败时依次尝试后续项。
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		Enabled: true,
		Providers: []RerankProviderConfig{
			{Provider: "cohere", Model: "rerank-v3.5", Timeout: 10 * time.Second},
			{Provider: "jina", Model: "jina-reranker-v2-base-multilingual", Timeout: 10 * time.Second},
		},
	}
}

// DefaultChunkingConfig 返回默认分块配置
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		SimilarityThreshold: 0.5,
		MaxChunkSentences:   12,
		MaxChunkTokens:      512,
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:       10,
		CandidateN: 50,
		RRFK:       60,
		BM25K1:     1.5,
		BM25B:      0.75,
	}
}

// DefaultOrchestratorConfig 返回默认编排配置
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		RewriteThreshold:  0.7,
		MaxRewrites:       2,
		StrategyTimeout:   15 * time.Second,
		CheckpointTTL:     24 * time.Hour,
		LeaseTTL:          60 * time.Second,
		CandidatePoolSize: 15,
	}
}

// DefaultGraphConfig 返回默认图谱检索配置
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		Enabled:     false,
		Endpoint:    "http://localhost:7474",
		MaxHopDepth: 3,
		Timeout:     10 * time.Second,
	}
}

// DefaultWebConfig 返回默认网页搜索配置
func DefaultWebConfig() WebConfig {
	return WebConfig{
		Enabled:    false,
		Endpoint:   "https://api.tavily.com/search",
		MaxResults: 10,
		Timeout:    15 * time.Second,
	}
}

// DefaultSessionConfig 返回默认会话配置
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		TTL:      24 * time.Hour,
		MaxTurns: 20,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Format:     "json",
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "ragflow",
		SampleRate:   1.0,
	}
}
