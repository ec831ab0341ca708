// Command zipworker runs the ZIP ingestion consumer (C6): it long-polls
// the zip queue and streams each archive through internal/zipingest.
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
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq"

	"github.com/kraklabs/docingest/internal/config"
	"github.com/kraklabs/docingest/internal/gxclient"
	"github.com/kraklabs/docingest/internal/lifecycle"
	"github.com/kraklabs/docingest/internal/pkg/logger"
	"github.com/kraklabs/docingest/internal/pkg/txn"
	"github.com/kraklabs/docingest/internal/queue"
	"github.com/kraklabs/docingest/internal/repository/postgres"
	"github.com/kraklabs/docingest/internal/storage"
	"github.com/kraklabs/docingest/internal/zipingest"
)

func main() {
	log.Println("Starting docingest zip worker...")

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

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Storage.Region))
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	store, err := storage.NewS3Storage(context.Background(), cfg.Storage.Bucket, cfg.Storage.Region, cfg.Storage.Profile,
		cfg.Storage.PresignTTL(), cfg.Storage.MultipartPartMBSize)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	sqsClient := sqs.NewFromConfig(awsCfg)
	q := queue.NewSQSQueue(sqsClient, cfg.Queue.VisibilityTimeoutSec, cfg.Queue.WaitTimeSeconds)

	gx := gxclient.New(cfg.Gx.BaseURL, cfg.Gx.APIKey, cfg.Gx.Timeout(), cfg.Gx.MaxRetries)
	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	buckets := zipingest.NewBucketCache(dynamoClient, "gx_buckets", gx.CreateBucket)

	jobRepo := postgres.NewJobRepo(db)
	zipRepo := postgres.NewZipRepo(db)
	fileRepo := postgres.NewFileRepo(db)

	lc := &lifecycle.Service{
		Txn:          txn.NewRunner(db),
		Jobs:         jobRepo,
		Zips:         zipRepo,
		Files:        fileRepo,
		Gx:           postgres.NewGxRepo(db),
		Queue:        q,
		ZipQueueURL:  cfg.Queue.ZipQueueURL,
		FileQueueURL: cfg.Queue.FileQueueURL,
	}

	svc := &zipingest.Service{
		Txn:          txn.NewRunner(db),
		Jobs:         jobRepo,
		Zips:         zipRepo,
		Files:        fileRepo,
		Storage:      store,
		Queue:        q,
		FileQueueURL: cfg.Queue.FileQueueURL,
		Buckets:      buckets,
		Lifecycle:    lc,
		TempDir:      cfg.Zip.TempDir,
		Concurrency:  cfg.Zip.ConcurrencyLimit,
		Supported:    defaultSupportedExtensions(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := queue.NewConsumer(q, cfg.Queue.ZipQueueURL, cfg.Queue.MaxMessagesPerPoll, svc.Handle)
	go consumer.Run(ctx)
	logger.Info("zip worker consuming", "queue", cfg.Queue.ZipQueueURL)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down zip worker...")
	cancel()
	time.Sleep(2 * time.Second)
	log.Println("Zip worker stopped")
}

// defaultSupportedExtensions lists the archive-entry extensions this
// core will admit for extraction; anything else is rejected per
// spec.md §4.6's validation step.
func defaultSupportedExtensions() map[string]bool {
	return map[string]bool{
		"pdf": true, "doc": true, "docx": true, "xls": true, "xlsx": true,
		"ppt": true, "pptx": true, "txt": true, "csv": true, "png": true,
		"jpg": true, "jpeg": true, "tif": true, "tiff": true,
	}
}
