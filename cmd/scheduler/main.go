// Command scheduler runs the lifecycle scheduler (C11): the periodic
// reconciliation loop that folds a Job's settled children back onto its
// own terminal status, plus the supplemental stale-claim sweep.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/kraklabs/docingest/internal/config"
	"github.com/kraklabs/docingest/internal/lifecycle"
	"github.com/kraklabs/docingest/internal/pkg/distlock"
	"github.com/kraklabs/docingest/internal/pkg/txn"
	"github.com/kraklabs/docingest/internal/queue"
	"github.com/kraklabs/docingest/internal/repository/postgres"
	"github.com/kraklabs/docingest/internal/scheduler"
)

func main() {
	log.Println("Starting docingest lifecycle scheduler...")

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
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed (%s): %v — falling back to PG advisory locks", cfg.Lock.RedisAddr, err)
			redisClient.Close()
			redisClient = nil
		}
		pingCancel()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Storage.Region))
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg)
	q := queue.NewSQSQueue(sqsClient, cfg.Queue.VisibilityTimeoutSec, cfg.Queue.WaitTimeSeconds)

	jobRepo := postgres.NewJobRepo(db)
	zipRepo := postgres.NewZipRepo(db)
	fileRepo := postgres.NewFileRepo(db)
	gxRepo := postgres.NewGxRepo(db)

	lc := &lifecycle.Service{
		Txn:          txn.NewRunner(db),
		Jobs:         jobRepo,
		Zips:         zipRepo,
		Files:        fileRepo,
		Gx:           gxRepo,
		Queue:        q,
		ZipQueueURL:  cfg.Queue.ZipQueueURL,
		FileQueueURL: cfg.Queue.FileQueueURL,
	}

	reconciler := &scheduler.Reconciler{
		Jobs:      jobRepo,
		Zips:      zipRepo,
		Files:     fileRepo,
		Gx:        gxRepo,
		Lifecycle: lc,
		Lock:      distlock.NewLock(redisClient, db, "lifecycle-scheduler", cfg.Lock.TTL()),
		Interval:  cfg.Scheduler.JobCompletionInterval(),
	}

	sweeper := &scheduler.StaleClaimSweeper{
		Files:        fileRepo,
		Zips:         zipRepo,
		Queue:        q,
		FileQueueURL: cfg.Queue.FileQueueURL,
		ZipQueueURL:  cfg.Queue.ZipQueueURL,
		StaleAfter:   cfg.Scheduler.StaleLockThreshold(),
		Interval:     cfg.Scheduler.StaleLockSweepInterval(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go reconciler.Run(ctx)
	go sweeper.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down scheduler...")
	cancel()
	time.Sleep(2 * time.Second)
	log.Println("Scheduler stopped")
}
