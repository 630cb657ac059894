package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/panjf2000/ants/v2"
	"github.com/redis/go-redis/v9"

	"BlockJack/config"
	"BlockJack/internal/auth"
	"BlockJack/internal/bridge"
	"BlockJack/internal/events"
	"BlockJack/internal/game/engine"
	"BlockJack/internal/game/manager"
	"BlockJack/internal/health"
	"BlockJack/internal/lobby"
	"BlockJack/internal/middleware"
	"BlockJack/internal/stats"
	"BlockJack/internal/storage"
	"BlockJack/internal/utils"
	"BlockJack/internal/websocket"
)

func main() {
	path := flag.String("config", "config/config.yaml", "config file")
	flag.Parse()
	if err := config.Load(*path); err != nil {
		log.Fatal("load config", "err", err)
	}
	cfg := config.C

	logger, closer := utils.Init(utils.LogOptions{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		MaxBackups: cfg.Log.MaxBackups,
	})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//-------------------------------------------------------
	// 1. 持久层：Postgres（未配置时用内存）
	//-------------------------------------------------------
	var store storage.Store
	if cfg.Database.DSN != "" {
		// 只有 DSN 写错才退出；库暂时不可达时以降级模式启动，连通后建表
		db, err := storage.OpenPostgres(cfg.Database.DSN, cfg.Database.MaxOpen)
		if err != nil {
			logger.Fatal("Postgres init failed", "err", err)
		}
		defer db.Close()
		store = storage.NewPostgresStore(db)
	} else {
		logger.Warn("database.dsn not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	//-------------------------------------------------------
	// 2. Redis：待写队列、死信、去重、房间缓存（未配置时用内存）
	//-------------------------------------------------------
	var (
		rdb   *redis.Client
		queue bridge.Queue
		dedup bridge.Dedup
		cache lobby.Cache
	)
	if cfg.Redis.Addr != "" {
		var err error
		rdb, err = storage.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Redis init failed", "err", err)
		}
		defer rdb.Close()
		queue = bridge.NewRedisQueue(rdb, cfg.Redis.Prefix)
		dedup = bridge.NewRedisDedup(rdb, cfg.Redis.Prefix, cfg.Bridge.DedupTTL)
		cache = lobby.NewRedisCache(rdb)
	} else {
		logger.Warn("redis.addr not set, pending writes are kept in memory")
		queue = bridge.NewMemoryQueue()
		dedup = bridge.NewMemoryDedup(cfg.Bridge.DedupTTL)
		cache = lobby.NewMemoryCache()
	}

	//-------------------------------------------------------
	// 3. 一致性桥：健康探测 + 写入口 + 重试
	//-------------------------------------------------------
	gate := bridge.NewGate(store, cfg.Bridge.CheckInterval, cfg.Bridge.Threshold, logger)
	if !gate.Warmup(ctx) {
		logger.Warn("durable store unreachable at startup, writes are queued until it recovers")
	}
	go gate.Run(ctx)

	pool, err := ants.NewPool(cfg.Bridge.PoolSize, ants.WithNonblocking(true))
	if err != nil {
		logger.Fatal("ants pool init failed", "err", err)
	}

	applier := bridge.NewStoreApplier(store)
	writer := bridge.NewWriter(gate, queue, applier, dedup, pool, logger)
	retrier := bridge.NewRetrier(gate, queue, applier, dedup, bridge.RetryConfig{
		UnhealthyWait: cfg.Bridge.UnhealthyWait,
		BaseBackoff:   cfg.Bridge.BaseBackoff,
		MaxBackoff:    cfg.Bridge.MaxBackoff,
		MaxAttempts:   cfg.Bridge.MaxAttempts,
		PollWait:      cfg.Bridge.PollWait,
	}, logger)
	retrierDone := make(chan struct{})
	go func() {
		defer close(retrierDone)
		retrier.Run(ctx)
	}()

	//-------------------------------------------------------
	// 4. 房间目录 + Session Registry
	//-------------------------------------------------------
	broker := events.NewBroker()
	sched := engine.NewWheelScheduler(cfg.Game.TickInterval, cfg.Game.WheelSize)
	defer sched.Stop()

	rooms := lobby.NewService(cache, store, writer, cfg.Lobby.CacheTTL, logger)
	registry := manager.NewRegistry(manager.Config{
		Decks:            cfg.Game.Decks,
		JoinGrace:        cfg.Game.JoinGrace,
		BettingCountdown: cfg.Game.BettingCountdown,
		TurnTimeout:      cfg.Game.TurnTimeout,
		DealerPacing:     cfg.Game.DealerPacing,
		RoundDelay:       cfg.Game.RoundDelay,
		StartingBalance:  cfg.Game.StartingBalance,
		EvictionGrace:    cfg.Registry.EvictionGrace,
		RetainRecords:    cfg.Registry.RetainRecords,
		RetainFor:        cfg.Registry.RetainFor,
		Shards:           cfg.Registry.Shards,
	}, rooms, writer, broker, sched, logger)
	rooms.BindSessions(registry)

	//-------------------------------------------------------
	// 5. 凭证：配置了凭证服务时远程校验，否则本地 JWT
	//-------------------------------------------------------
	jwtVerifier := auth.NewJWTVerifier(cfg.JWT.Secret)
	var verifier auth.Verifier = jwtVerifier
	if cfg.Credential.URL != "" {
		tokens := auth.NewServiceTokenSource(auth.ServiceTokenConfig{
			URL:       cfg.Credential.URL,
			ServiceID: cfg.Credential.ServiceID,
			Secret:    cfg.Credential.Secret,
			Lifetime:  cfg.Credential.TokenLifetime,
			Margin:    cfg.Credential.RefreshMargin,
		}, nil, logger)
		go tokens.Run(ctx)
		verifier = auth.NewRemoteVerifier(cfg.Credential.URL, tokens, nil)
	}

	//-------------------------------------------------------
	// 6. Hub
	//-------------------------------------------------------
	hub := websocket.NewHub(broker, registry, websocket.Options{
		SendBuffer:   cfg.WS.SendBuffer,
		CommandRate:  cfg.WS.CommandRate,
		CommandBurst: cfg.WS.CommandBurst,
	}, logger)
	go hub.Run()

	//-------------------------------------------------------
	// 7. Gin + CORS + 路由
	//-------------------------------------------------------
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	hh := health.NewHandler(gate, queue, registry, health.CounterFunc(hub.Clients), broker, hub)
	r.GET("/health", hh.Health)

	r.GET("/ws", middleware.JwtAuthMiddleware(verifier), websocket.ServeWS(hub))

	internal := r.Group("/", middleware.ServiceTokenMiddleware(jwtVerifier))
	{
		lobby.NewHandler(rooms).Register(internal)
		stats.NewHandler(stats.NewService(store, gate, registry, logger)).Register(internal)
		internal.GET("/internal/dead-letters", hh.DeadLetters)
	}

	//-------------------------------------------------------
	// 8. 启动服务器，收到信号后优雅退出
	//-------------------------------------------------------
	srv := &http.Server{Addr: cfg.Server.Port, Handler: r}
	go func() {
		logger.Info("Server running", "addr", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	hub.Close()
	// 关闭所有 session，最后的汇总通过 writer 提交
	registry.Shutdown()
	<-retrierDone
	if err := pool.ReleaseTimeout(cfg.Server.ShutdownTimeout); err != nil {
		logger.Warn("pending writes still running", "err", err)
	}
}
