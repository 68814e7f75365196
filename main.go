package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/lostfound/internal/auth"
	"github.com/example/lostfound/internal/config"
	"github.com/example/lostfound/internal/corpus"
	"github.com/example/lostfound/internal/descriptorcache"
	"github.com/example/lostfound/internal/engine"
	"github.com/example/lostfound/internal/features"
	"github.com/example/lostfound/internal/grpcserver"
	"github.com/example/lostfound/internal/handlers"
	"github.com/example/lostfound/internal/logging"
	"github.com/example/lostfound/internal/preprocess"
	"github.com/example/lostfound/internal/repository"
	"github.com/example/lostfound/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(ctx, cfg.DatabaseDSN, logger)
	photos := repository.NewPhotoRepository(db, logger)
	if err := photos.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate photos failed", zap.Error(err))
	}
	comparisons := repository.NewComparisonRepository(db, logger)
	if err := comparisons.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate comparisons failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)

	blobs, err := corpus.NewBlobStore(cfg.MediaRoot, "")
	if err != nil {
		logger.Fatal("failed to prepare media root", zap.Error(err))
	}
	extractor := features.NewDefaultExtractor(cfg.Matching.MaxKeypoints, logger)
	descriptors := descriptorCache(cfg, extractor.MaxKeypoints(), redisClient, logger)

	engineCfg := cfg.Engine()
	store := corpus.NewStore(photos, blobs, logger,
		corpus.WithDescriptorCache(descriptors),
		corpus.WithUploadValidation(preprocess.Options{
			MaxDimension:    engineCfg.MaxDimension,
			MaxSourcePixels: engineCfg.MaxSourcePixels,
			AllowedFormats:  engineCfg.AllowedFormats,
		}))
	matcher := engine.New(store, extractor, engineCfg, logger, engine.WithDescriptorCache(descriptors))

	resultCache := usecase.NewRedisCache(redisClient)
	uc := usecase.NewLostFoundUseCase(store, matcher, comparisons, resultCache, logger)

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTAudience)
	if err != nil {
		logger.Fatal("invalid auth configuration", zap.Error(err))
	}

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(r, uc, verifier.Middleware())

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	var onShutdown func()
	if cfg.GRPCAddr != "" {
		onShutdown = startHealthServer(cfg.GRPCAddr, db, resultCache, logger)
	}

	logger.Info("lost and found API listening", zap.String("addr", cfg.HTTPAddr))
	if err := serveHTTPServerWithOptions(server, cfg.ShutdownTimeout, logger, nil, nil, onShutdown); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

// descriptorCache keys entries by the extractor's effective keypoint cap.
func descriptorCache(cfg config.Config, maxKeypoints int, client *redis.Client, logger *zap.Logger) engine.DescriptorCache {
	keys := descriptorcache.Keyspace{MaxDimension: cfg.Matching.MaxDimension, MaxKeypoints: maxKeypoints}
	return descriptorcache.New(cfg.DescriptorCache, keys, cfg.DescriptorCacheTTL, client, logger)
}

// startHealthServer serves gRPC health on addr and returns its stop hook.
func startHealthServer(addr string, db *gorm.DB, cache *usecase.RedisCache, logger *zap.Logger) func() {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("failed to listen for grpc", zap.String("addr", addr), zap.Error(err))
	}

	health := grpcserver.New(logger, map[string]grpcserver.Checker{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": cache.Ping,
	})

	watchCtx, stopWatch := context.WithCancel(context.Background())
	health.Refresh(watchCtx)
	go health.Watch(watchCtx, 10*time.Second)
	go func() {
		if err := health.Serve(lis); err != nil {
			logger.Error("grpc server failed", zap.Error(err))
		}
	}()

	return func() {
		stopWatch()
		health.Stop()
	}
}

// serveHTTPServerWithOptions runs server until it fails or a signal arrives.
// onShutdown, when set, runs before the HTTP server starts draining.
func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal, onShutdown func()) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		if onShutdown != nil {
			onShutdown()
		}
		return err
	case sig, ok := <-sigCh:
		if onShutdown != nil {
			onShutdown()
		}
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
