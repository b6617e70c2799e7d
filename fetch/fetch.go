// Package fetch downloads remote media into local scratch files.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"insta-mirror/pkg/mirror"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Fetcher downloads media over HTTP.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

// New creates a fetcher. A nil client means http.DefaultClient.
func New(client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		client: client,
		logger: logger,
	}
}

// Fetch downloads url into dest, replacing any existing file, and returns dest.
// Every failure is a TransferError. A failed download may leave dest truncated;
// removing it is the caller's job.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string) (string, error) {
	if err := f.fetch(ctx, url, dest); err != nil {
		return "", mirror.NewError(mirror.TransferError, "", "fetch media", err)
	}
	return dest, nil
}

func (f *Fetcher) fetch(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	startTime := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("get %s: HTTP %d", url, resp.StatusCode)
	}

	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	n, err := io.Copy(file, resp.Body)
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	f.logger.Debug("Media downloaded",
		"url", url,
		"path", dest,
		"bytes", n,
		"duration_ms", time.Since(startTime).Milliseconds())
	return nil
}
