// =============================================================================
// 📦 ragflow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("RAGFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是 ragflow 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Redis 会话缓存 / 检查点 / 租约
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 文档元数据存储
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// VectorStore 向量索引后端
	VectorStore VectorStoreConfig `yaml:"vector_store" env:"VECTOR_STORE"`

	// LLM 判断/生成能力
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Embedding 嵌入能力
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Rerank 交叉编码器重排
	Rerank RerankConfig `yaml:"rerank" env:"RERANK"`

	// Chunking 语义分块
	Chunking ChunkingConfig `yaml:"chunking" env:"CHUNKING"`

	// Retrieval 混合检索
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Orchestrator 工作流编排
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`

	// Graph 知识图谱检索
	Graph GraphConfig `yaml:"graph" env:"GRAPH"`

	// Web 实时网页搜索
	Web WebConfig `yaml:"web" env:"WEB"`

	// Session 会话记忆
	Session SessionConfig `yaml:"session" env:"SESSION"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 文档元数据库配置
type DatabaseConfig struct {
	// 驱动类型: sqlite, postgres
	Driver string `yaml:"driver" env:"DRIVER"`
	// DSN（sqlite 为文件路径，postgres 为连接串）
	DSN string `yaml:"dsn" env:"DSN"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
}

// VectorStoreConfig 向量索引配置
type VectorStoreConfig struct {
	// 后端类型: memory, qdrant, pgvector
	Backend string `yaml:"backend" env:"BACKEND"`
	// Qdrant 主机
	QdrantHost string `yaml:"qdrant_host" env:"QDRANT_HOST"`
	// Qdrant REST 端口
	QdrantPort int `yaml:"qdrant_port" env:"QDRANT_PORT"`
	// 集合名
	Collection string `yaml:"collection" env:"COLLECTION"`
	// API Key（可选）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// pgvector DSN
	PgDSN string `yaml:"pg_dsn" env:"PG_DSN"`
	// 向量维度
	Dimensions int `yaml:"dimensions" env:"DIMENSIONS"`
}

// LLMConfig 判断/生成能力配置
type LLMConfig struct {
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（OpenAI 兼容端点）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 温度参数
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 每秒请求限制（0 = 不限流）
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// EmbeddingConfig 嵌入能力配置
type EmbeddingConfig struct {
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 维度
	Dimensions int `yaml:"dimensions" env:"DIMENSIONS"`
	// 批量上限
	MaxBatch int `yaml:"max_batch" env:"MAX_BATCH"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 查询嵌入缓存 TTL（0 = 关闭缓存）
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// RerankProviderConfig 单个重排提供者配置
type RerankProviderConfig struct {
	// 提供者: cohere, jina
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RerankConfig 重排链路配置。Providers 顺序即回退顺序。
type RerankConfig struct {
	// 是否启用重排
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 提供者链（按回退顺序）
	Providers []RerankProviderConfig `yaml:"providers"`
}

// ChunkingConfig 语义分块配置
type ChunkingConfig struct {
	// 相似度阈值 τ：max_sim ≥ τ 时并入当前块
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
	// 最大块大小 S（句子数）
	MaxChunkSentences int `yaml:"max_chunk_sentences" env:"MAX_CHUNK_SENTENCES"`
	// 单块 Token 预算（0 = 不限制）
	MaxChunkTokens int `yaml:"max_chunk_tokens" env:"MAX_CHUNK_TOKENS"`
}

// RetrievalConfig 混合检索配置
type RetrievalConfig struct {
	// 最终返回条数
	TopK int `yaml:"top_k" env:"TOP_K"`
	// 融合前每路候选条数（N ≫ top_k）
	CandidateN int `yaml:"candidate_n" env:"CANDIDATE_N"`
	// RRF 常数 k
	RRFK int `yaml:"rrf_k" env:"RRF_K"`
	// BM25 参数 k1
	BM25K1 float64 `yaml:"bm25_k1" env:"BM25_K1"`
	// BM25 参数 b
	BM25B float64 `yaml:"bm25_b" env:"BM25_B"`
}

// OrchestratorConfig 工作流编排配置
type OrchestratorConfig struct {
	// 改写触发阈值：grading score 低于该值时触发改写
	RewriteThreshold float64 `yaml:"rewrite_threshold" env:"REWRITE_THRESHOLD"`
	// 改写预算上限
	MaxRewrites int `yaml:"max_rewrites" env:"MAX_REWRITES"`
	// 单策略检索超时
	StrategyTimeout time.Duration `yaml:"strategy_timeout" env:"STRATEGY_TIMEOUT"`
	// 检查点 TTL
	CheckpointTTL time.Duration `yaml:"checkpoint_ttl" env:"CHECKPOINT_TTL"`
	// 会话租约 TTL
	LeaseTTL time.Duration `yaml:"lease_ttl" env:"LEASE_TTL"`
	// 候选池上限（多策略合并后）
	CandidatePoolSize int `yaml:"candidate_pool_size" env:"CANDIDATE_POOL_SIZE"`
}

// GraphConfig 知识图谱检索配置
type GraphConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 图数据库 HTTP 端点
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
	// API Key（可选）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 最大跳数
	MaxHopDepth int `yaml:"max_hop_depth" env:"MAX_HOP_DEPTH"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// WebConfig 实时网页搜索配置
type WebConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 搜索 API 端点
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 最大结果数
	MaxResults int `yaml:"max_results" env:"MAX_RESULTS"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// SessionConfig 会话记忆配置
type SessionConfig struct {
	// 会话 TTL
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 每会话保留的最大轮次
	MaxTurns int `yaml:"max_turns" env:"MAX_TURNS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 日志文件路径（空 = 仅控制台）
	FilePath string `yaml:"file_path" env:"FILE_PATH"`
	// 轮转：单文件上限（MB）
	MaxSizeMB int `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	// 轮转：保留文件数
	MaxBackups int `yaml:"max_backups" env:"MAX_BACKUPS"`
	// 轮转：保留天数
	MaxAgeDays int `yaml:"max_age_days" env:"MAX_AGE_DAYS"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "RAGFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// Validate 校验配置的基础约束。
func Validate(cfg *Config) error {
	if cfg.Orchestrator.MaxRewrites < 0 {
		return fmt.Errorf("orchestrator.max_rewrites must be >= 0")
	}
	if cfg.Orchestrator.RewriteThreshold < 0 || cfg.Orchestrator.RewriteThreshold > 1 {
		return fmt.Errorf("orchestrator.rewrite_threshold must be in [0,1]")
	}
	if cfg.Chunking.SimilarityThreshold < 0 || cfg.Chunking.SimilarityThreshold > 1 {
		return fmt.Errorf("chunking.similarity_threshold must be in [0,1]")
	}
	if cfg.Chunking.MaxChunkSentences < 1 {
		return fmt.Errorf("chunking.max_chunk_sentences must be >= 1")
	}
	if cfg.Retrieval.TopK < 1 || cfg.Retrieval.CandidateN < cfg.Retrieval.TopK {
		return fmt.Errorf("retrieval.candidate_n must be >= retrieval.top_k >= 1")
	}
	return nil
}
