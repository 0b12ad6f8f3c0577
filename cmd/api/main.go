package main

import (
	"context"
	"log"
	"time"

	"peercall/config"
	"peercall/internal/auth"
	"peercall/internal/controller"
	"peercall/internal/handler"
	"peercall/internal/media"
	"peercall/internal/redis"
	"peercall/internal/repository"
	"peercall/internal/server"
	"peercall/internal/signalch"
	"peercall/internal/store"
	"peercall/internal/websocket"
	"peercall/pkg/database"
	"peercall/pkg/logger"

	"github.com/google/uuid"
)

func main() {
	cfg := config.LoadConfig()

	mode := logger.DevelopmentMode
	if cfg.AppMode == server.ReleaseMode {
		mode = logger.ProductionMode
	}
	l := logger.New(mode)
	logger.SetGlobalLogger(l)

	selfID, err := uuid.Parse(cfg.SelfUserID)
	if err != nil {
		log.Fatalf("SELF_USER_ID must be a valid UUID: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.ApplyRawMigrations(db, "migrations"); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}

	redisClient := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()

	stack, err := media.NewWebRTC()
	if err != nil {
		log.Fatalf("Failed to initialize media stack: %v", err)
	}

	history := repository.NewCallHistory(db)

	ctrl := controller.New(controller.Config{
		SelfID:      selfID,
		SelfName:    cfg.SelfUserName,
		SelfAvatar:  cfg.SelfUserAvatar,
		Store:       store.NewRedisStore(redisClient),
		Channel:     signalch.NewRedisChannel(redisClient, time.Duration(cfg.SignalTTLSec)*time.Second),
		Devices:     stack,
		Connector:   stack,
		Archiver:    history,
		STUNServers: cfg.STUNServers,
		RingTimeout: time.Duration(cfg.RingTimeoutSec) * time.Second,
		Log:         l,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ctrl.Run(ctx); err != nil {
		log.Fatalf("Failed to start call controller: %v", err)
	}
	defer ctrl.Close()

	hub := websocket.NewHub()
	go hub.Run(ctx)

	bridge := websocket.NewBridge(hub, l)
	detach := bridge.Attach(ctrl)
	defer detach()

	verifier := auth.NewVerifier(cfg.JWTSecret)
	limiter := redis.NewRateLimiter(redisClient, redis.DefaultRateLimitConfig())
	presence := redis.NewPresenceStore(redisClient, 0)

	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Call:     handler.NewCallHandler(ctrl, history),
		Presence: handler.NewPresenceHandler(presence),
		WS:       websocket.NewHandler(hub, verifier, presence, l),
	}, verifier, limiter, db)

	if err := srv.Start(); err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
}
