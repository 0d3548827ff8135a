package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/tidepool/internal/api"
	"github.com/lalith-99/tidepool/internal/cache"
	"github.com/lalith-99/tidepool/internal/chat"
	"github.com/lalith-99/tidepool/internal/config"
	"github.com/lalith-99/tidepool/internal/db"
	"github.com/lalith-99/tidepool/internal/middleware"
	"github.com/lalith-99/tidepool/internal/notify"
	"github.com/lalith-99/tidepool/internal/observ"
	"github.com/lalith-99/tidepool/internal/realtime"
	"github.com/lalith-99/tidepool/internal/repository/postgres"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	if cfg.JWTSecret == "" {
		// Everything downstream treats an empty secret as a config
		// error per request; refusing to boot is kinder to ops.
		return fmt.Errorf("JWT_SECRET is not set")
	}

	// Startup has no parent request or deadline — Background() is the
	// right root here; per-request contexts take over once serving.
	database, err := db.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	// Redis only backs the username cache; if it is unreachable the
	// cache degrades to misses, so a failed ping is a warning, not a
	// boot failure.
	var rdb *redis.Client
	if opts, err := redis.ParseURL(cfg.RedisURL); err != nil {
		logger.Warn("invalid redis URL, username cache disabled", zap.Error(err))
	} else {
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, username cache will miss", zap.Error(err))
		}
	}
	names := cache.NewUsernames(rdb, logger)

	pool := database.Pool()
	chatRepo := postgres.NewChatStore(pool)
	messageRepo := postgres.NewMessageStore(pool)
	notificationRepo := postgres.NewNotificationStore(pool)
	inviteRepo := postgres.NewInviteStore(pool)
	userRepo := postgres.NewUserStore(pool)

	// The registry is owned here and injected everywhere that
	// broadcasts — REST mirroring, the notifier, and the pipeline all
	// share the same group table.
	registry := realtime.NewRegistry()
	notifier := notify.New(notificationRepo, userRepo, names, registry, logger)
	pipeline := chat.NewService(chatRepo, messageRepo, notifier, registry, logger)

	wsServer := realtime.NewServer(
		registry, pipeline, chatRepo, notificationRepo, userRepo, names,
		cfg.JWTSecret, logger,
	)

	authHandler := api.NewAuthHandler(userRepo, cfg.JWTSecret, cfg.JWTTTL, logger)
	chatHandler := api.NewChatHandler(chatRepo, inviteRepo, userRepo, pipeline, notifier, registry, logger)
	notificationHandler := api.NewNotificationHandler(notificationRepo, logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := gin.New()
	srv.Use(gin.Logger(), gin.Recovery())

	logger.Info("starting tidepool",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
	)

	// Health check is public — load balancers hit this.
	srv.GET("/v1/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	srv.POST("/v1/auth/signup", authHandler.Signup)
	srv.POST("/v1/auth/login", authHandler.Login)

	// The WebSocket endpoint authenticates its own credential (auth
	// field / header / query) and is not behind the REST middleware.
	srv.GET("/v1/ws", wsServer.HandleWS)

	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	v1.POST("/chats", chatHandler.Create)
	v1.GET("/chats/my", chatHandler.ListMine)
	v1.GET("/chats/invites", chatHandler.ListInvites)
	v1.POST("/chats/invites/:id/accept", chatHandler.AcceptInvite)
	v1.POST("/chats/invites/:id/reject", chatHandler.RejectInvite)
	v1.POST("/chats/:id/invite", chatHandler.Invite)
	v1.POST("/chats/:id/messages", chatHandler.SendMessage)
	v1.GET("/chats/:id/messages", chatHandler.ListMessages)
	v1.POST("/chats/:id/leave", chatHandler.Leave)

	v1.GET("/notifications", notificationHandler.List)
	v1.GET("/notifications/unread-count", notificationHandler.UnreadCount)
	v1.PUT("/notifications/read-all", notificationHandler.MarkAllRead)
	v1.PUT("/notifications/:id/read", notificationHandler.MarkRead)
	v1.DELETE("/notifications/:id", notificationHandler.Delete)
	v1.DELETE("/notifications", notificationHandler.DeleteAll)

	return srv.Run(":" + cfg.Port)
}
