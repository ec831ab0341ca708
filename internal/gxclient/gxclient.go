// Package gxclient wraps HTTP calls to the downstream GX ingestion
// service: bucket creation, ingest submission, ingest status, and
// download status, all under a fixed client timeout with retry on
// transient failures.
package gxclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kraklabs/docingest/internal/pkg/apierr"
	"github.com/kraklabs/docingest/internal/pkg/httpretry"
)

// Client talks to the GX HTTP API.
type Client struct {
	http    httpretry.HTTPDoer
	baseURL string
	apiKey  string
	timeout time.Duration
}

// New builds a GX client. maxRetries is passed through to the underlying
// retry client; timeout bounds every individual request.
func New(baseURL, apiKey string, timeout time.Duration, maxRetries int) *Client {
	httpClient := &http.Client{Timeout: timeout}
	return &Client{
		http:    httpretry.NewRetryClient(httpClient, maxRetries),
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: timeout,
	}
}

// BucketStatus is the aggregate status returned for an ingested document
// on an ingest-status poll.
type BucketStatus struct {
	GxProcessID   string
	Status        string // raw string as reported by GX, translated by the caller
	StatusMessage string
}

// CreateBucket creates (or idempotently returns) the GX bucket with the
// given name, returning its gxBucketId.
func (c *Client) CreateBucket(ctx context.Context, name string) (string, error) {
	var out struct {
		BucketID string `json:"gxBucketId"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/buckets", map[string]string{"name": name}, &out); err != nil {
		return "", err
	}
	return out.BucketID, nil
}

// SubmitIngest submits a final artifact for ingestion, returning the
// gxProcessId GX assigned to track it.
func (c *Client) SubmitIngest(ctx context.Context, gxBucketID, fileLocation, fileName string) (string, error) {
	var out struct {
		GxProcessID string `json:"gxProcessId"`
	}
	body := map[string]string{
		"gxBucketId":   gxBucketID,
		"fileLocation": fileLocation,
		"fileName":     fileName,
	}
	if err := c.doJSON(ctx, http.MethodPost, "/ingest", body, &out); err != nil {
		return "", err
	}
	return out.GxProcessID, nil
}

// IngestStatus polls the status of a previously submitted artifact.
func (c *Client) IngestStatus(ctx context.Context, gxProcessID string) (BucketStatus, error) {
	var out BucketStatus
	path := fmt.Sprintf("/ingest/%s/status", gxProcessID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return BucketStatus{}, err
	}
	return out, nil
}

// DownloadStatus checks whether a final artifact has been fully
// downloaded/acknowledged by GX.
func (c *Client) DownloadStatus(ctx context.Context, gxProcessID string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	path := fmt.Sprintf("/ingest/%s/download-status", gxProcessID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return apierr.Validation("marshal gx request", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apierr.Transient("build gx request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.GetBody = func() (io.ReadCloser, error) {
			b, _ := json.Marshal(body)
			return io.NopCloser(bytes.NewReader(b)), nil
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apierr.Transient("gx request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return apierr.Downstream(fmt.Sprintf("gx returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return apierr.Validation(fmt.Sprintf("gx returned %d: %s", resp.StatusCode, string(data)), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apierr.Transient("decode gx response", err)
	}
	return nil
}
