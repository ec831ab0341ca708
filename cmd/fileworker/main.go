// Command fileworker runs the document processing pipeline consumer
// (C7): it long-polls the file queue, hashes and deduplicates each
// direct upload, dispatches to a registered format handler, and uploads
// the resulting artifacts for GX handoff.
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

	"github.com/kraklabs/docingest/internal/config"
	"github.com/kraklabs/docingest/internal/lifecycle"
	"github.com/kraklabs/docingest/internal/pipeline"
	"github.com/kraklabs/docingest/internal/pkg/logger"
	"github.com/kraklabs/docingest/internal/pkg/txn"
	"github.com/kraklabs/docingest/internal/queue"
	"github.com/kraklabs/docingest/internal/repository/postgres"
	"github.com/kraklabs/docingest/internal/storage"
	"github.com/kraklabs/docingest/internal/upload"
)

func main() {
	log.Println("Starting docingest file worker...")

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

	fileRepo := postgres.NewFileRepo(db)
	gxRepo := postgres.NewGxRepo(db)

	lc := &lifecycle.Service{
		Txn:          txn.NewRunner(db),
		Jobs:         postgres.NewJobRepo(db),
		Zips:         postgres.NewZipRepo(db),
		Files:        fileRepo,
		Gx:           gxRepo,
		Queue:        q,
		ZipQueueURL:  cfg.Queue.ZipQueueURL,
		FileQueueURL: cfg.Queue.FileQueueURL,
	}

	handlers := pipeline.NewRegistry()
	passthrough := pipeline.PassthroughHandler{}
	for _, ext := range defaultPassthroughExtensions() {
		handlers.Register(ext, passthrough)
	}

	svc := &pipeline.Service{
		Txn:          txn.NewRunner(db),
		Files:        fileRepo,
		Gx:           gxRepo,
		Storage:      store,
		Queue:        q,
		FileQueueURL: cfg.Queue.FileQueueURL,
		Handlers:     handlers,
		Uploader:     &upload.Uploader{Storage: store, TempDir: cfg.Zip.TempDir},
		Lifecycle:    lc,
		TempDir:      cfg.Zip.TempDir,
		Supported:    defaultSupportedExtensions(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := queue.NewConsumer(q, cfg.Queue.FileQueueURL, cfg.Queue.MaxMessagesPerPoll, svc.Handle)
	go consumer.Run(ctx)
	logger.Info("file worker consuming", "queue", cfg.Queue.FileQueueURL)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down file worker...")
	cancel()
	time.Sleep(2 * time.Second)
	log.Println("File worker stopped")
}

// defaultSupportedExtensions mirrors the zip worker's validation set: a
// source extension outside this set is rejected before handler dispatch.
func defaultSupportedExtensions() map[string]bool {
	return map[string]bool{
		"pdf": true, "doc": true, "docx": true, "xls": true, "xlsx": true,
		"ppt": true, "pptx": true, "txt": true, "csv": true, "png": true,
		"jpg": true, "jpeg": true, "tif": true, "tiff": true,
	}
}

// defaultPassthroughExtensions lists the extensions this deployment
// forwards to GX unchanged, with no format conversion. A real deployment
// registers dedicated handlers (Office conversion via LibreOffice, MSG
// parsing, image normalization) in their place.
func defaultPassthroughExtensions() []string {
	return []string{"pdf", "txt", "csv", "png", "jpg", "jpeg", "tif", "tiff"}
}
