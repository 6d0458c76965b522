package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"quizrooms/internal/cache"
	"quizrooms/internal/config"
	"quizrooms/internal/relay"
	"quizrooms/internal/repository"
	"quizrooms/internal/service"
	"quizrooms/internal/transport/rest"
	"quizrooms/internal/transport/ws"
)

const connectTimeout = 5 * time.Second

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	instanceID := uuid.NewString()
	logger = logger.With("instance", instanceID)
	if cfg.AI.IsEnabled() {
		logger.Info("question generator configured", "model", cfg.AI.Model)
	} else {
		logger.Warn("GEMINI_API_KEY not set, using mock questions")
	}

	rdb, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()
	logger.Info("connected to redis", "addr", cfg.RedisAddr)

	store, closeStore, err := openStore(ctx, cfg, rdb, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	broker, err := openBroker(cfg, rdb)
	if err != nil {
		return err
	}
	defer broker.Close()

	presence := cache.NewPresenceCache(rdb)
	queue := cache.NewMatchmakingCache(rdb)
	deadlines := cache.NewDeadlineCache(rdb)

	authSvc := service.NewAuthService(cfg.JWTSecret, cfg.TokenTTL)
	roomSvc := service.NewRoomService(store, deadlines, service.NewGeneratorService(cfg.AI), logger, service.RoomServiceConfig{
		DeadlineGrace:     cfg.DeadlineGrace,
		GenerationTimeout: cfg.AI.Timeout + 5*time.Second,
	})
	matchSvc := service.NewMatchmakingService(queue, roomSvc, service.MatchmakingDefaults{
		Duration:          cfg.MatchDuration,
		NumberOfQuestions: cfg.MatchQuestions,
	}, logger)

	hub := ws.NewHub()
	rl := relay.New(instanceID, broker, presence, hub, logger)
	roomSvc.SetBroadcaster(rl)
	matchSvc.SetBroadcaster(rl)

	relayErr := make(chan error, 1)
	go func() {
		relayErr <- rl.Run(ctx)
	}()
	go roomSvc.RunDeadlineSweeper(ctx, cfg.SweepInterval)

	router := rest.NewRouter(&rest.Container{
		AuthService:        authSvc,
		RoomService:        roomSvc,
		MatchmakingService: matchSvc,
		WSHandler:          ws.NewHandler(hub, authSvc, presence, roomSvc, matchSvc, instanceID, logger),
		JoinURL:            cfg.JoinURL,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "store", cfg.Store, "broker", cfg.Broker)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-serveErr:
		runErr = fmt.Errorf("listen: %w", err)
	case err := <-relayErr:
		if err != nil {
			runErr = fmt.Errorf("relay: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	hub.Close()
	roomSvc.Close()

	logger.Info("server exited")
	return runErr
}

func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	if strings.HasPrefix(cfg.RedisAddr, "redis://") || strings.HasPrefix(cfg.RedisAddr, "rediss://") {
		parsed, err := redis.ParseURL(cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func openStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *slog.Logger) (service.RoomStore, func(), error) {
	if cfg.Store == config.StoreRedis {
		return cache.NewRoomCache(rdb, cfg.RoomTTL), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongodb: %w", err)
	}
	closeFn := func() {
		if err := client.Disconnect(context.Background()); err != nil {
			logger.Warn("mongodb disconnect failed", "error", err)
		}
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("ping mongodb: %w", err)
	}

	repo := repository.NewRoomRepo(client.Database(cfg.MongoDatabase), cfg.RoomTTL)
	if err := repo.EnsureIndexes(connectCtx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("ensure room indexes: %w", err)
	}
	logger.Info("connected to mongodb", "database", cfg.MongoDatabase)
	return repo, closeFn, nil
}

func openBroker(cfg *config.Config, rdb *redis.Client) (relay.Broker, error) {
	if cfg.Broker == config.BrokerNATS {
		b, err := relay.NewNATSBroker(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		return b, nil
	}
	return relay.NewRedisBroker(rdb), nil
}
