// Package views implements the read-only admin surface: a paginated,
// filterable listing of a bucket's GX artifacts, and a per-bucket
// status-count summary, plus presigned-download resolution for a single
// File or Gx artifact.
package views

import (
	"context"
	"fmt"

	"github.com/kraklabs/docingest/internal/domain"
	"github.com/kraklabs/docingest/internal/pkg/apierr"
	"github.com/kraklabs/docingest/internal/repository"
	"github.com/kraklabs/docingest/internal/storage"
)

// ListFilter narrows a bucket listing to a status subset and pages
// through the result with limit/offset.
type ListFilter struct {
	Statuses []domain.GxStatus
	Limit    int
	Offset   int
}

// Page is one page of a bucket's GX artifacts.
type Page struct {
	Items []domain.GxMaster
	Total int
}

// StatusCount is one (status, count) pair in a bucket's metrics summary.
type StatusCount struct {
	Status domain.GxStatus `json:"status"`
	Count  int             `json:"count"`
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Service backs the /views HTTP surface.
type Service struct {
	Gx      repository.GxRepository
	Files   repository.FileRepository
	Storage storage.Storage
}

// List returns one page of gxBucketID's GX artifacts.
func (s *Service) List(ctx context.Context, gxBucketID string, filter ListFilter) (Page, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	items, total, err := s.Gx.ListByBucketPaginated(ctx, gxBucketID, filter.Statuses, limit, filter.Offset)
	if err != nil {
		return Page{}, apierr.Transient("list bucket artifacts", err)
	}
	return Page{Items: items, Total: total}, nil
}

// Metrics returns a per-bucket status-count breakdown for every id in
// gxBucketIDs.
func (s *Service) Metrics(ctx context.Context, gxBucketIDs []string) (map[string][]StatusCount, error) {
	counts, err := s.Gx.CountByStatusForBuckets(ctx, gxBucketIDs)
	if err != nil {
		return nil, apierr.Transient("count bucket metrics", err)
	}

	out := make(map[string][]StatusCount, len(gxBucketIDs))
	for _, bucket := range gxBucketIDs {
		byStatus := counts[bucket]
		list := make([]StatusCount, 0, len(byStatus))
		for status, n := range byStatus {
			list = append(list, StatusCount{Status: status, Count: n})
		}
		out[bucket] = list
	}
	return out, nil
}

// PresignedDownload resolves a presigned GET URL for exactly one of
// fileMasterID or gxMasterID, with gxMasterID taking priority when both
// are given, per spec.md §6.
func (s *Service) PresignedDownload(ctx context.Context, fileMasterID, gxMasterID string) (string, error) {
	if gxMasterID != "" {
		g, err := s.Gx.Get(ctx, gxMasterID)
		if err != nil {
			return "", apierr.Transient("load gx for download", err)
		}
		return s.presign(ctx, g.FileLocation)
	}
	if fileMasterID != "" {
		f, err := s.Files.Get(ctx, fileMasterID)
		if err != nil {
			return "", apierr.Transient("load file for download", err)
		}
		return s.presign(ctx, f.FileLocation)
	}
	return "", apierr.Validation("one of fileMasterId or gxMasterId is required", nil)
}

func (s *Service) presign(ctx context.Context, key string) (string, error) {
	url, err := s.Storage.PresignDownload(ctx, key)
	if err != nil {
		return "", apierr.Transient(fmt.Sprintf("presign download for %s", key), err)
	}
	return url, nil
}
