// Command admin runs the document-ingestion core's HTTP API: upload
// reservation, job control (trigger/retry/terminate), the admin view
// listing/metrics surface, and presigned-download resolution.
package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq"

	"github.com/kraklabs/docingest/internal/api"
	"github.com/kraklabs/docingest/internal/config"
	"github.com/kraklabs/docingest/internal/gxpoller"
	"github.com/kraklabs/docingest/internal/jobs"
	"github.com/kraklabs/docingest/internal/lifecycle"
	"github.com/kraklabs/docingest/internal/pkg/logger"
	"github.com/kraklabs/docingest/internal/pkg/txn"
	"github.com/kraklabs/docingest/internal/queue"
	"github.com/kraklabs/docingest/internal/repository/postgres"
	"github.com/kraklabs/docingest/internal/storage"
	"github.com/kraklabs/docingest/internal/views"
)

func main() {
	log.Println("Starting docingest admin API...")

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

	jobRepo := postgres.NewJobRepo(db)
	zipRepo := postgres.NewZipRepo(db)
	fileRepo := postgres.NewFileRepo(db)
	gxRepo := postgres.NewGxRepo(db)

	jobsSvc := &jobs.Service{
		Txn:          txn.NewRunner(db),
		Jobs:         jobRepo,
		Zips:         zipRepo,
		Files:        fileRepo,
		Storage:      store,
		Queue:        q,
		ZipQueueURL:  cfg.Queue.ZipQueueURL,
		FileQueueURL: cfg.Queue.FileQueueURL,
	}

	lifecycleSvc := &lifecycle.Service{
		Txn:          txn.NewRunner(db),
		Jobs:         jobRepo,
		Zips:         zipRepo,
		Files:        fileRepo,
		Gx:           gxRepo,
		Queue:        q,
		ZipQueueURL:  cfg.Queue.ZipQueueURL,
		FileQueueURL: cfg.Queue.FileQueueURL,
	}

	retrier := &gxpoller.Retrier{
		Files:        fileRepo,
		Gx:           gxRepo,
		Jobs:         jobRepo,
		Queue:        q,
		FileQueueURL: cfg.Queue.FileQueueURL,
	}

	viewsSvc := &views.Service{
		Gx:      gxRepo,
		Files:   fileRepo,
		Storage: store,
	}

	handlers := &api.Handlers{
		Jobs:      jobsSvc,
		Lifecycle: lifecycleSvc,
		Retrier:   retrier,
		Views:     viewsSvc,
	}
	server := api.NewServer(handlers)

	addr := cfg.Server.Addr()
	go func() {
		logger.Info("admin API listening", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("admin API server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down admin API...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("admin API shutdown error: %v", err)
	}
	log.Println("Admin API stopped")
}
