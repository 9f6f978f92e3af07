package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/foxxcyber/dococr/internal/apperr"
)

const (
	defaultDownloadTimeout = 30 * time.Second
	maxDownloadBytes       = 50 * 1024 * 1024
)

// Downloader fetches remote images for OCR
type Downloader struct {
	httpClient *http.Client
	maxBytes   int64
}

// NewDownloader creates a downloader with the given request timeout
func NewDownloader(timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = defaultDownloadTimeout
	}
	return &Downloader{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxBytes: maxDownloadBytes,
	}
}

// Fetch downloads the image at rawURL into a unique file under dir and
// returns its path. The caller removes the file.
func (d *Downloader) Fetch(ctx context.Context, rawURL, dir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: invalid image URL %q", apperr.ErrDownloadFailure, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", apperr.ErrDownloadFailure, err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrDownloadFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: unexpected status %d", apperr.ErrDownloadFailure, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read body: %v", apperr.ErrDownloadFailure, err)
	}
	if int64(len(data)) > d.maxBytes {
		return "", fmt.Errorf("%w: image exceeds %d bytes", apperr.ErrDownloadFailure, d.maxBytes)
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: response is not a supported image: %v", apperr.ErrDownloadFailure, err)
	}

	tmpFile, err := os.CreateTemp(dir, "download-*."+format)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}

	return tmpFile.Name(), nil
}
