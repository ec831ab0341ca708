package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kraklabs/docingest/internal/pkg/logger"
)

// S3Storage is the production Storage implementation, backed by an
// S3-compatible bucket.
type S3Storage struct {
	client     *s3.Client
	presign    *s3.PresignClient
	uploader   *manager.Uploader
	bucket     string
	presignTTL time.Duration
}

// NewS3Storage loads AWS credentials/region from the environment (shared
// config, optionally a named profile) and wires an S3 client, presign
// client, and multipart-capable uploader against bucket.
func NewS3Storage(ctx context.Context, bucket, region, profile string, presignTTL time.Duration, partSizeMB int) (*S3Storage, error) {
	var cfg aws.Config
	var err error
	if profile != "" {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithSharedConfigProfile(profile),
		)
	} else {
		cfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(region))
	}
	if err != nil {
		return nil, fmt.Errorf("storage: loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if partSizeMB > 0 {
			u.PartSize = int64(partSizeMB) * 1024 * 1024
		}
	})

	return &S3Storage{
		client:     client,
		presign:    s3.NewPresignClient(client),
		uploader:   uploader,
		bucket:     bucket,
		presignTTL: presignTTL,
	}, nil
}

func (s *S3Storage) PresignUpload(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return "", fmt.Errorf("storage: presign upload %s: %w", key, err)
	}
	return req.URL, nil
}

func (s *S3Storage) PresignDownload(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return "", fmt.Errorf("storage: presign download %s: %w", key, err)
	}
	return req.URL, nil
}

func (s *S3Storage) InitiateMultipart(ctx context.Context, key string) (string, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("storage: initiate multipart %s: %w", key, err)
	}
	return aws.ToString(out.UploadId), nil
}

func (s *S3Storage) PresignPart(ctx context.Context, key, uploadID string, partNumber int32) (string, error) {
	if partNumber < 1 || partNumber > 10000 {
		return "", fmt.Errorf("storage: part number %d out of range [1,10000]", partNumber)
	}
	req, err := s.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
	}, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return "", fmt.Errorf("storage: presign part %d for %s: %w", partNumber, key, err)
	}
	return req.URL, nil
}

func (s *S3Storage) CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) error {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		}
	}
	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return fmt.Errorf("storage: complete multipart %s: %w", key, err)
	}
	return nil
}

func (s *S3Storage) DownloadStream(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: download %s: %w", key, err)
	}
	return out.Body, nil
}

// Upload streams body to key using the multipart-capable uploader, which
// transparently falls back to a single PUT for small inputs.
func (s *S3Storage) Upload(ctx context.Context, key string, body io.Reader, length int64) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("storage: upload %s: %w", key, err)
	}
	return nil
}

// UploadAsync uploads body to key on a background goroutine and resolves
// the returned Future when the upload finishes. The caller retains
// ownership of body and must ensure it remains valid until the future
// resolves.
func (s *S3Storage) UploadAsync(ctx context.Context, key string, body io.Reader) *Future {
	future := NewFuture()
	go func() {
		err := s.Upload(ctx, key, body, -1)
		if err != nil {
			logger.Warn("async upload failed", "key", key, "error", err.Error())
		}
		future.Resolve(err)
	}()
	return future
}

func (s *S3Storage) Copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(s.bucket + "/" + srcKey),
	})
	if err != nil {
		return fmt.Errorf("storage: copy %s -> %s: %w", srcKey, dstKey, err)
	}
	return nil
}
