package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-companion/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-companion/backend/internal/analysis/modulation"
	"github.com/zhouzirui/z-companion/backend/internal/config"
	"github.com/zhouzirui/z-companion/backend/internal/handler"
	"github.com/zhouzirui/z-companion/backend/internal/logging"
	"github.com/zhouzirui/z-companion/backend/internal/model/persona"
	"github.com/zhouzirui/z-companion/backend/internal/service/ai"
	"github.com/zhouzirui/z-companion/backend/internal/service/cache"
	"github.com/zhouzirui/z-companion/backend/internal/service/chat"
	"github.com/zhouzirui/z-companion/backend/internal/service/memory"
	"github.com/zhouzirui/z-companion/backend/internal/service/orchestrator"
	"github.com/zhouzirui/z-companion/backend/internal/service/relationship"
	"github.com/zhouzirui/z-companion/backend/internal/store"
	"github.com/zhouzirui/z-companion/backend/internal/store/memstore"
	"github.com/zhouzirui/z-companion/backend/internal/store/sqlstore"
	"github.com/zhouzirui/z-companion/backend/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run 组装并启动服务。所有清理都通过 defer 完成，因此这里只返回错误，不直接退出进程。
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, _, err := logging.New(logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("no .env file loaded, using system environment only", zap.Error(envErr))
	}

	st, closeStore, err := openStore(cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	defer closeStore()

	responseCache, closeCache := openCache(ctx, cfg, logger)
	defer closeCache()

	var generator ai.Generator = ai.Offline{}
	aiEnabled := false
	if cfg.AI.Enabled() {
		svc, err := ai.NewService(ctx, cfg.AI, logger)
		if err != nil {
			logger.Warn("failed to initialize AI service, serving fallback replies", zap.Error(err))
		} else {
			generator = svc
			aiEnabled = true
			logger.Info("AI service initialized",
				zap.String("economy", cfg.AI.EconomyModel),
				zap.String("advanced", cfg.AI.AdvancedModel))
		}
	} else {
		logger.Warn("Ark credentials not configured, serving fallback replies")
	}

	rnd := utils.NewRandomRand()
	if cfg.Engine.RandomSeed != nil {
		seed := uint64(*cfg.Engine.RandomSeed)
		rnd = utils.NewLockedRand(seed, seed)
	}

	queue := orchestrator.NewQueue(orchestrator.QueueConfig{
		Workers:   cfg.Engine.PersistWorkers,
		QueueSize: cfg.Engine.PersistQueueSize,
	}, logger)
	// 先于存储关闭执行，排空未完成的记忆与信任写入。
	defer queue.Stop()

	personaStore := persona.NewMemoryStore(persona.Seed())
	memCfg := memory.DefaultConfig()
	memCfg.CacheTTL = cfg.Engine.MemoryCacheTTL

	engine, err := orchestrator.New(orchestrator.Deps{
		Analyzer:     emotion.NewAnalyzer(),
		Memory:       memory.NewService(st, memCfg, logger),
		Relationship: relationship.NewTracker(st, cfg.Engine.SessionCacheSize, cfg.Engine.ResonanceCacheTTL, logger),
		Generator:    generator,
		Queue:        queue,
		Cache:        responseCache,
		Conversions:  st,
		Personas:     personaStore,
		Prompts:      ai.NewPromptBuilder(),
		Modulation: modulation.NewRegistry(cfg.Engine.SessionCacheSize, cfg.Engine.SessionTTL, modulation.Options{
			AdaptationSpeed: cfg.Engine.AdaptationSpeed,
			Rand:            rnd,
		}),
		Logger: logger,
	}, orchestrator.Options{
		GenerationTimeout:  cfg.Engine.GenerationTimeout,
		ConversionCooldown: cfg.Engine.ConversionCooldown,
		Rand:               rnd,
	})
	if err != nil {
		return fmt.Errorf("failed to build companion engine: %w", err)
	}

	cacheKind := "lru"
	if cfg.Redis.Enabled() {
		cacheKind = "redis"
	}
	router := handler.NewRouter(handler.RouterDeps{
		Personas: personaStore,
		Chats:    chat.NewService(chat.WithMaxSessions(cfg.Engine.SessionCacheSize), chat.WithSessionTTL(cfg.Engine.SessionTTL)),
		Engine:   engine,
		Health:   handler.Health{AI: aiEnabled, Store: cfg.Store.Driver, Cache: cacheKind},
		Logger:   logger,
	})

	return startServer(ctx, cfg.Server, router, logger)
}

func openStore(cfg config.StoreConfig, logger *zap.Logger) (store.Store, func(), error) {
	if cfg.Driver == "memory" {
		logger.Info("using in-memory store")
		return memstore.New(), func() {}, nil
	}

	db, err := sqlstore.Open(sqlstore.Config{Driver: cfg.Driver, DSN: cfg.DSN, TablePrefix: cfg.TablePrefix})
	if err != nil {
		return nil, nil, err
	}
	st, err := sqlstore.New(db, cfg.TablePrefix)
	if err != nil {
		return nil, nil, err
	}
	if cfg.AutoMigrate {
		if err := st.AutoMigrate(); err != nil {
			return nil, nil, err
		}
	}
	closeFn := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	logger.Info("connected to database", zap.String("driver", cfg.Driver), zap.String("prefix", cfg.TablePrefix))
	return st, closeFn, nil
}

func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Cache, func()) {
	local := cache.NewLRU(cfg.Engine.ResponseCacheSize, cfg.Engine.ResponseCacheTTL)
	if !cfg.Redis.Enabled() {
		return local, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, using in-process response cache", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		_ = client.Close()
		return local, func() {}
	}
	logger.Info("using redis response cache", zap.String("addr", cfg.Redis.Addr))
	return cache.NewRedis(client, cfg.Redis.Prefix, cfg.Engine.ResponseCacheTTL, logger), func() { _ = client.Close() }
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("companion backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Error("server error", zap.Error(err))
		return err
	}
	logger.Info("companion backend stopped")
	return nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
