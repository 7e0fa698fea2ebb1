package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"convo-llm/internal/config"
	"convo-llm/internal/db"
	"convo-llm/internal/email"
	"convo-llm/internal/gateway"
	apihttp "convo-llm/internal/http"
	"convo-llm/internal/repository"
	"convo-llm/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	sessionRepo := repository.NewPgSessionRepository(pool)
	messageRepo := repository.NewPgMessageRepository(pool)
	searchRepo := repository.NewPgSearchRepository(pool)
	gw := gateway.NewHTTPGateway(cfg.AssistantBaseURL, cfg.AssistantAPIKey, logger)

	var (
		kvStore     service.KVStore
		queue       service.OfflineQueue
		tokenStore  service.RefreshTokenStore
		limiter     service.SendRateLimiter
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			kvStore = service.NewRedisKVStore(redisClient)
			queue = service.NewRedisOfflineQueue(redisClient, "")
			tokenStore = service.NewRedisRefreshTokenStore(redisClient)
			limiter = service.NewRedisSendRateLimiter(redisClient, time.Duration(cfg.SendRateWindowSec)*time.Second, cfg.SendRateMax)
		}
		cancel()
	}

	lifecycle := service.NewLifecycleManager(gw, sessionRepo, messageRepo, kvStore, queue, logger)

	emailSender := email.NewDisabledSender("email sender not configured")
	if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			emailSender = sender
		}
	}
	exporter := service.NewFileExporter(cfg.ExportDir, emailSender, cfg.ExportEmailTo, logger)

	jwtSvc := service.NewJWTServiceWithStore(
		cfg.JWTSecret,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLMinutes)*time.Minute,
		tokenStore,
	)
	if cfg.JWTSecret == "" {
		logger.Warn("jwt secret not configured")
	}
	authSvc := service.NewDeviceAuthService(cfg.AccessKeyHash, jwtSvc)

	authHandler := apihttp.NewAuthHandler(logger, authSvc)
	chatHandler := apihttp.NewChatHandler(logger, lifecycle, sessionRepo, messageRepo, searchRepo, gw, exporter, limiter)
	router := apihttp.NewRouter(logger, jwtSvc, authHandler, chatHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
