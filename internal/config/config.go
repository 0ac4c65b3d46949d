package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Engine EngineConfig
	Store  StoreConfig
	Redis  RedisConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	engine, err := loadEngineConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	redis, err := loadRedisConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Engine: engine, Store: store, Redis: redis, Log: logCfg}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述大模型相关配置。经济档与高级档各对应一个模型。
type AIConfig struct {
	APIKey        string
	AccessKey     string
	SecretKey     string
	BaseURL       string
	Region        string
	EconomyModel  string
	AdvancedModel string
	TopP          *float64
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.EconomyModel != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置为指定模型创建一个实例。温度与最大 token 数按请求传入。
func (c AIConfig) NewChatModel(ctx context.Context, modelName string) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY (or ARK_ACCESS_KEY/ARK_SECRET_KEY) and ARK_MODEL_ECONOMY")
	}
	if modelName == "" {
		return nil, fmt.Errorf("model name is required")
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:   c.BaseURL,
		Region:    c.Region,
		APIKey:    c.APIKey,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Model:     modelName,
		TopP:      topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	economy := getEnvOrDefault("ARK_MODEL_ECONOMY", strings.TrimSpace(os.Getenv("Model")))
	advanced := getEnvOrDefault("ARK_MODEL_ADVANCED", economy)

	return AIConfig{
		APIKey:        strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:     strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:     strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		BaseURL:       getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:        getEnvOrDefault("ARK_REGION", "cn-beijing"),
		EconomyModel:  economy,
		AdvancedModel: advanced,
		TopP:          topP,
	}, nil
}

// EngineConfig 描述编排引擎的缓存、超时与后台队列参数。
type EngineConfig struct {
	GenerationTimeout  time.Duration
	ResponseCacheSize  int
	ResponseCacheTTL   time.Duration
	MemoryCacheTTL     time.Duration
	ResonanceCacheTTL  time.Duration
	PersistWorkers     int
	PersistQueueSize   int
	ConversionCooldown time.Duration
	AdaptationSpeed    float64
	SessionCacheSize   int
	SessionTTL         time.Duration
	RandomSeed         *int
}

func loadEngineConfig() (EngineConfig, error) {
	cfg := EngineConfig{
		GenerationTimeout:  20 * time.Second,
		ResponseCacheSize:  4096,
		ResponseCacheTTL:   30 * time.Minute,
		MemoryCacheTTL:     5 * time.Minute,
		ResonanceCacheTTL:  30 * time.Minute,
		PersistWorkers:     4,
		PersistQueueSize:   256,
		ConversionCooldown: 24 * time.Hour,
		AdaptationSpeed:    0.3,
		SessionCacheSize:   10000,
		SessionTTL:         2 * time.Hour,
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"ENGINE_GENERATION_TIMEOUT", &cfg.GenerationTimeout},
		{"ENGINE_RESPONSE_CACHE_TTL", &cfg.ResponseCacheTTL},
		{"ENGINE_MEMORY_CACHE_TTL", &cfg.MemoryCacheTTL},
		{"ENGINE_RESONANCE_CACHE_TTL", &cfg.ResonanceCacheTTL},
		{"ENGINE_CONVERSION_COOLDOWN", &cfg.ConversionCooldown},
		{"ENGINE_SESSION_TTL", &cfg.SessionTTL},
	}
	for _, d := range durations {
		v, err := parseOptionalDurationEnv(d.key)
		if err != nil {
			return EngineConfig{}, err
		}
		if v != nil {
			*d.dst = *v
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"ENGINE_RESPONSE_CACHE_SIZE", &cfg.ResponseCacheSize},
		{"ENGINE_PERSIST_WORKERS", &cfg.PersistWorkers},
		{"ENGINE_PERSIST_QUEUE_SIZE", &cfg.PersistQueueSize},
		{"ENGINE_SESSION_CACHE_SIZE", &cfg.SessionCacheSize},
	}
	for _, i := range ints {
		v, err := parseOptionalIntEnv(i.key)
		if err != nil {
			return EngineConfig{}, err
		}
		if v != nil {
			if *v < 1 {
				return EngineConfig{}, fmt.Errorf("invalid %s value %d: must be positive", i.key, *v)
			}
			*i.dst = *v
		}
	}

	speed, err := parseOptionalFloatEnv("ENGINE_ADAPTATION_SPEED")
	if err != nil {
		return EngineConfig{}, err
	}
	if speed != nil {
		if *speed <= 0 || *speed > 1 {
			return EngineConfig{}, fmt.Errorf("invalid ENGINE_ADAPTATION_SPEED value %v: must be in (0,1]", *speed)
		}
		cfg.AdaptationSpeed = *speed
	}

	seed, err := parseOptionalIntEnv("ENGINE_RANDOM_SEED")
	if err != nil {
		return EngineConfig{}, err
	}
	cfg.RandomSeed = seed

	return cfg, nil
}

// StoreConfig 描述持久化存储。Driver 为 memory、mysql 或 postgres。
type StoreConfig struct {
	Driver      string
	DSN         string
	TablePrefix string
	AutoMigrate bool
}

func loadStoreConfig() (StoreConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("STORE_DRIVER", "memory"))
	switch driver {
	case "memory", "mysql", "postgres":
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value: %q", driver)
	}

	dsn := strings.TrimSpace(os.Getenv("STORE_DSN"))
	if driver != "memory" && dsn == "" {
		return StoreConfig{}, fmt.Errorf("STORE_DSN is required for driver %s", driver)
	}

	migrate, err := parseBoolEnv("STORE_AUTO_MIGRATE", true)
	if err != nil {
		return StoreConfig{}, err
	}

	return StoreConfig{
		Driver:      driver,
		DSN:         dsn,
		TablePrefix: getEnvOrDefault("STORE_TABLE_PREFIX", "companion"),
		AutoMigrate: migrate,
	}, nil
}

// RedisConfig 描述可选的共享响应缓存。
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Enabled 表示是否配置了 Redis。
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

func loadRedisConfig() (RedisConfig, error) {
	db, err := parseOptionalIntEnv("REDIS_DB")
	if err != nil {
		return RedisConfig{}, err
	}
	cfg := RedisConfig{
		Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		Password: os.Getenv("REDIS_PASSWORD"),
		Prefix:   getEnvOrDefault("REDIS_PREFIX", "companion:resp"),
	}
	if db != nil {
		cfg.DB = *db
	}
	return cfg, nil
}

// LogConfig 描述日志级别与格式。
type LogConfig struct {
	Level       string
	Development bool
}

func loadLogConfig() (LogConfig, error) {
	dev, err := parseBoolEnv("LOG_DEVELOPMENT", false)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{
		Level:       getEnvOrDefault("LOG_LEVEL", "info"),
		Development: dev,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	if val <= 0 {
		return nil, fmt.Errorf("invalid %s value %q: must be positive", key, value)
	}
	return &val, nil
}
