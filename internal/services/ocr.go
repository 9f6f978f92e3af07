package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/foxxcyber/dococr/internal/apperr"
	"github.com/foxxcyber/dococr/internal/extract"
	"github.com/foxxcyber/dococr/internal/models"
)

// OCRService runs OCR on single images
type OCRService struct {
	invoker    *Invoker
	extractor  *extract.Extractor
	downloader *Downloader
	tempDir    string
	meta       models.RuntimeMeta
	log        *logrus.Logger
}

// NewOCRService creates a new OCR service
func NewOCRService(invoker *Invoker, extractor *extract.Extractor, downloader *Downloader, tempDir string, meta models.RuntimeMeta, log *logrus.Logger) (*OCRService, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	if meta.Backend == "" {
		meta.Backend = invoker.BackendName()
	}
	if meta.GoVersion == "" {
		meta.GoVersion = runtime.Version()
	}
	return &OCRService{
		invoker:    invoker,
		extractor:  extractor,
		downloader: downloader,
		tempDir:    tempDir,
		meta:       meta,
		log:        log,
	}, nil
}

// Meta describes the model and device serving requests
func (s *OCRService) Meta() models.RuntimeMeta {
	return s.meta
}

// RunOnPath runs OCR on an image already on disk
func (s *OCRService) RunOnPath(ctx context.Context, imagePath, prompt string) (*models.OCRResult, error) {
	start := time.Now()

	run, err := s.invoker.Invoke(ctx, imagePath, prompt)
	if err != nil {
		return nil, err
	}
	defer s.invoker.Release(run)

	result, err := s.extractor.Extract(*run)
	if err != nil {
		return nil, err
	}

	meta := s.meta
	result.ElapsedMS = time.Since(start).Milliseconds()
	result.Meta = &meta

	s.log.WithFields(logrus.Fields{
		"source": result.Source,
		"lines":  len(result.Lines),
		"ms":     result.ElapsedMS,
	}).Info("OCR completed")

	return result, nil
}

// RunOnURL downloads the image and runs OCR on it
func (s *OCRService) RunOnURL(ctx context.Context, imageURL, prompt string) (*models.OCRResult, error) {
	start := time.Now()

	path, err := s.downloader.Fetch(ctx, imageURL, s.tempDir)
	if err != nil {
		return nil, err
	}
	defer s.removeTemp(path)

	result, err := s.RunOnPath(ctx, path, prompt)
	if err != nil {
		return nil, err
	}
	result.ElapsedMS = time.Since(start).Milliseconds()
	return result, nil
}

// RunOnBytes validates uploaded image bytes, persists them to a temp file
// and runs OCR on it. The temp file is removed afterwards.
func (s *OCRService) RunOnBytes(ctx context.Context, data []byte, ext, prompt string) (*models.OCRResult, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", apperr.ErrInvalidInput)
	}
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: unsupported or corrupt image: %v", apperr.ErrInvalidInput, err)
	} else if ext == "" {
		ext = "." + format
	}

	path, err := s.writeTemp(data, ext)
	if err != nil {
		return nil, err
	}
	defer s.removeTemp(path)

	return s.RunOnPath(ctx, path, prompt)
}

func (s *OCRService) writeTemp(data []byte, ext string) (string, error) {
	tmpFile, err := os.CreateTemp(s.tempDir, "upload-*"+strings.ToLower(ext))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer tmpFile.Close()

	if _, err := tmpFile.Write(data); err != nil {
		s.removeTemp(tmpFile.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	return tmpFile.Name(), nil
}

func (s *OCRService) removeTemp(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.WithError(err).WithField("path", filepath.Base(path)).Error("Failed to remove temp file")
	}
}
