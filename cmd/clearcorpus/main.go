// Command clearcorpus removes every stored lost-item report and its image.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/lostfound/internal/config"
	"github.com/example/lostfound/internal/corpus"
	"github.com/example/lostfound/internal/descriptorcache"
	"github.com/example/lostfound/internal/logging"
	"github.com/example/lostfound/internal/repository"
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "overall deadline")
	yes := flag.Bool("yes", false, "confirm removal of every report")
	flag.Parse()

	if !*yes {
		fmt.Fprintln(os.Stderr, "refusing to clear the corpus without -yes")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	blobs, err := corpus.NewBlobStore(cfg.MediaRoot, "")
	if err != nil {
		logger.Fatal("failed to open media root", zap.Error(err))
	}

	var opts []corpus.StoreOption
	if cfg.DescriptorCache == config.CacheRedis {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, cached descriptors will expire on their own", zap.Error(err))
		} else {
			keys := descriptorcache.Keyspace{MaxDimension: cfg.Matching.MaxDimension, MaxKeypoints: cfg.Matching.MaxKeypoints}
			opts = append(opts, corpus.WithDescriptorCache(descriptorcache.New(cfg.DescriptorCache, keys, cfg.DescriptorCacheTTL, client, logger)))
		}
	}
	store := corpus.NewStore(repository.NewPhotoRepository(db, logger), blobs, logger, opts...)

	removed, err := store.Clear(ctx)
	if err != nil {
		logger.Fatal("clear failed", zap.Int("removed", removed), zap.Error(err))
	}
	logger.Info("corpus cleared", zap.Int("removed", removed))
}
