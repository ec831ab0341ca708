// Command poller runs the GX status poller (C12): the ticker loop that
// reconciles in-flight Gx rows against the downstream GX ingestion
// service, plus the supplemental stale-upload sweep.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/kraklabs/docingest/internal/config"
	"github.com/kraklabs/docingest/internal/gxclient"
	"github.com/kraklabs/docingest/internal/gxpoller"
	"github.com/kraklabs/docingest/internal/pkg/distlock"
	"github.com/kraklabs/docingest/internal/repository/postgres"
)

func main() {
	log.Println("Starting docingest GX poller...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())
	db.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime())

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	var redisClient *redis.Client
	if cfg.Lock.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Lock.RedisAddr})
		redisPingCtx, redisPingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(redisPingCtx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed (%s): %v — falling back to PG advisory locks", cfg.Lock.RedisAddr, err)
			redisClient.Close()
			redisClient = nil
		}
		redisPingCancel()
	}

	gxRepo := postgres.NewGxRepo(db)
	jobRepo := postgres.NewJobRepo(db)

	client := gxclient.New(cfg.Gx.BaseURL, cfg.Gx.APIKey, cfg.Gx.Timeout(), cfg.Gx.MaxRetries)

	poller := &gxpoller.Poller{
		Gx:       gxRepo,
		Client:   client,
		Lock:     distlock.NewLock(redisClient, db, "gx-status-poller", cfg.Lock.TTL()),
		Interval: cfg.Scheduler.FetchDocStatusInterval(),
	}

	staleSweeper := &gxpoller.StaleSweeper{
		Jobs:           jobRepo,
		Lock:           distlock.NewLock(redisClient, db, "gx-stale-upload-sweeper", cfg.Lock.TTL()),
		Interval:       cfg.Scheduler.StaleJobInterval(),
		StaleThreshold: cfg.Scheduler.StaleJobThreshold(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go poller.Run(ctx)
	go staleSweeper.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down GX poller...")
	cancel()
	time.Sleep(2 * time.Second)
	log.Println("GX poller stopped")
}
