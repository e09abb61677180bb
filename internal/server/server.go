package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"parley/internal/ai"
	"parley/internal/config"
	"parley/internal/handler"
	"parley/internal/pkg/cache"
	"parley/internal/pkg/jwt"
	"parley/internal/pkg/mongodb"
	"parley/internal/pkg/ratelimit"
	"parley/internal/repository"
	"parley/internal/server/middleware"
	"parley/internal/service"
)

// Server HTTP 服务器
type Server struct {
	cfg    *config.Config
	engine *gin.Engine
	mongo  *mongodb.Client
	redis  *cache.RedisCache

	globalLimiter    *ratelimit.Registry
	perUserLimiter   *ratelimit.Registry
	expensiveLimiter *ratelimit.Registry
}

// New 创建服务器实例
func New(cfg *config.Config) (*Server, error) {
	// 设置 Gin 模式
	switch cfg.Server.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// 初始化 MongoDB (可选，未配置时对话接口不可用)
	var mongoClient *mongodb.Client
	if cfg.Mongo.URI != "" {
		client, err := mongodb.New(&cfg.Mongo)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to MongoDB, continuing without it")
		} else {
			mongoClient = client
			log.Info().Str("database", cfg.Mongo.Database).Msg("connected to MongoDB")

			if err := mongodb.EnsureIndexes(mongoClient.Database()); err != nil {
				log.Warn().Err(err).Msg("failed to ensure indexes")
			}
		}
	}

	// 初始化 Redis (可选)
	var redisCache *cache.RedisCache
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing without it")
		} else {
			redisCache = rc
			log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
		}
	}

	srv := &Server{
		cfg:    cfg,
		engine: engine,
		mongo:  mongoClient,
		redis:  redisCache,
		globalLimiter: ratelimit.NewRegistry(ratelimit.Policy{
			Name:        "global",
			MaxRequests: cfg.RateLimit.Global.MaxRequests,
			Window:      cfg.RateLimit.Global.Window,
		}),
		perUserLimiter: ratelimit.NewRegistry(ratelimit.Policy{
			Name:        "per_user",
			MaxRequests: cfg.RateLimit.PerUser.MaxRequests,
			Window:      cfg.RateLimit.PerUser.Window,
			CoarseHint:  true,
		}),
		expensiveLimiter: ratelimit.NewRegistry(ratelimit.Policy{
			Name:        "expensive",
			MaxRequests: cfg.RateLimit.Expensive.MaxRequests,
			Window:      cfg.RateLimit.Expensive.Window,
		}),
	}

	if err := srv.setupRoutes(); err != nil {
		return nil, err
	}

	return srv, nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() error {
	// 全局中间件
	s.engine.Use(middleware.Recovery())
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger())
	s.engine.Use(middleware.CORS())
	s.engine.Use(middleware.RateLimit(s.globalLimiter))

	// 健康检查
	healthHandler := handler.NewHealthHandler(s.mongo)
	s.engine.GET("/health", healthHandler.Health)
	s.engine.GET("/ready", healthHandler.Ready)

	// Swagger 文档
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	if s.mongo == nil {
		log.Warn().Msg("MongoDB not configured, chat endpoints disabled")
		return nil
	}

	jwtSecret := s.cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "default-secret-key-change-in-production"
		log.Warn().Msg("JWT secret not configured, using default (NOT SECURE for production)")
	}
	accessTokenExpiry := s.cfg.Auth.AccessTokenExpiry
	if accessTokenExpiry == 0 {
		accessTokenExpiry = 24 * time.Hour
	}
	jwtUtil := jwt.NewJWT(jwtSecret, accessTokenExpiry)

	// AI 能力层
	aiClient, err := ai.NewClient(context.Background(), &s.cfg.AI)
	if err != nil {
		return err
	}
	log.Info().
		Str("provider", aiClient.Provider()).
		Str("model", s.cfg.AI.Model).
		Msg("initialized AI client")

	// 数据层与业务层
	store := repository.NewStore(s.mongo.Database())
	chatSvc := service.NewChatService(s.cfg, store, aiClient)
	convSvc := service.NewConversationService(
		repository.NewConversationRepo(s.mongo.Database()),
		repository.NewMessageRepo(s.mongo.Database()),
		s.redis,
	)

	chatHdl := handler.NewChatHandler(chatSvc)
	wsHdl := handler.NewWSHandler(chatSvc, s.expensiveLimiter)
	convHdl := handler.NewConversationHandler(convSvc)

	// API v1，需要认证，按用户限流
	v1 := s.engine.Group("/api/v1")
	v1.Use(middleware.Auth(jwtUtil))
	v1.Use(middleware.RateLimit(s.perUserLimiter))
	{
		// 触发 AI 生成的接口单独再过一道更紧的限流；
		// WebSocket 握手不消耗令牌，每个入站帧在连接内单独检查
		expensive := v1.Group("")
		expensive.Use(middleware.RateLimit(s.expensiveLimiter))
		{
			expensive.POST("/chat", chatHdl.Chat)
			expensive.POST("/chat/stream", chatHdl.Stream)
		}
		v1.GET("/chat/ws", wsHdl.Serve)

		v1.GET("/conversations", convHdl.List)
		v1.GET("/conversations/:id", convHdl.Get)
		v1.POST("/conversations/:id/archive", convHdl.Archive)
		v1.DELETE("/conversations/:id", convHdl.Delete)
		v1.POST("/conversations/:id/clear", convHdl.Clear)
		v1.GET("/conversations/:id/messages", convHdl.Messages)
	}

	return nil
}

// Run 启动服务器
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	// 周期回收空闲限流桶
	sweepInterval := s.cfg.RateLimit.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}
	s.globalLimiter.StartSweeper(sweepInterval)
	s.perUserLimiter.StartSweeper(sweepInterval)
	s.expensiveLimiter.StartSweeper(sweepInterval)

	// 启动服务器
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待关闭信号或错误
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server...")

		s.globalLimiter.Stop()
		s.perUserLimiter.Stop()
		s.expensiveLimiter.Stop()

		if s.mongo != nil {
			if err := s.mongo.Close(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to close MongoDB connection")
			}
		}
		if s.redis != nil {
			if err := s.redis.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close Redis connection")
			}
		}

		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Engine 获取 Gin 引擎 (用于测试)
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
