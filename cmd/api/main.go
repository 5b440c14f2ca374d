package main

import (
	"log"
	"time"

	"classlink/config"
	"classlink/internal/handler"
	"classlink/internal/push"
	"classlink/internal/redis"
	"classlink/internal/repository"
	"classlink/internal/server"
	"classlink/internal/services"
	"classlink/pkg/database"
	"classlink/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	l := logger.New(cfg.AppMode)
	logger.SetGlobalLogger(l)

	database.Connect(cfg)

	redis.Initialize(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
	})
	cache := redis.NewConvCacheStore(redis.GetClient(), time.Duration(cfg.CacheTTLSeconds)*time.Second)
	limiter := redis.NewRateLimiter(redis.GetClient(), redis.DefaultRateLimitConfig())
	presence := redis.NewPresenceTracker(redis.GetClient(), 5*time.Minute)

	conversationRepo := repository.NewConversationRepository(database.DB)
	messageRepo := repository.NewMessageRepository(database.DB)
	notificationRepo := repository.NewNotificationRepository(database.DB)
	userRepo := repository.NewUserRepository(database.DB)

	provider := push.FromMode(cfg.PushProviderMode, l)

	var emailQueue push.EmailQueue
	if cfg.RabbitMQURL != "" {
		queue, err := push.NewAMQPEmailQueue(cfg.RabbitMQURL, cfg.EmailQueue)
		if err != nil {
			l.Errorf("email queue unavailable, continuing without it: %s", err)
		} else {
			emailQueue = queue
			defer queue.Close()
		}
	}

	authService := services.NewAuthService(cfg.JWTSecret)

	hub := server.NewHub(conversationRepo, presence)
	go hub.Run()
	defer hub.Stop()

	conversationService := services.NewConversationService(database.DB, conversationRepo, messageRepo, userRepo, cache, hub, l)
	messageService := services.NewMessageService(
		database.DB, messageRepo, conversationRepo, userRepo, cache, hub, l,
		time.Duration(cfg.EditWindowMin)*time.Minute,
	)
	topicManager := services.NewTopicManager(notificationRepo, provider, l)
	resolver := services.NewTopicSubscriberResolver(notificationRepo)
	notificationService := services.NewNotificationService(notificationRepo, resolver, provider, hub, emailQueue, l)

	handlers := &server.Handlers{
		Conversation: handler.NewConversationHandler(conversationService),
		Message:      handler.NewMessageHandler(messageService),
		Notification: handler.NewNotificationHandler(notificationService, topicManager),
		Presence:     handler.NewPresenceHandler(presence),
		WebSocket:    server.NewWebSocketHandler(hub, authService),
	}

	srv := server.New(cfg, l)
	srv.SetupRoutes(handlers, authService, limiter)

	if err := srv.Start(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
