package services

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/foxxcyber/dococr/internal/apperr"
	"github.com/foxxcyber/dococr/internal/models"
	"github.com/foxxcyber/dococr/internal/pdf"
)

// DocumentService runs OCR over multi-page documents
type DocumentService struct {
	rasterizer *pdf.Rasterizer
	ocr        *OCRService
	tempDir    string
	splitDir   string
	dpi        int
	log        *logrus.Logger
}

// NewDocumentService creates a new document service
func NewDocumentService(rasterizer *pdf.Rasterizer, ocr *OCRService, tempDir, splitDir string, dpi int, log *logrus.Logger) (*DocumentService, error) {
	for _, dir := range []string{tempDir, splitDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &DocumentService{
		rasterizer: rasterizer,
		ocr:        ocr,
		tempDir:    tempDir,
		splitDir:   splitDir,
		dpi:        dpi,
		log:        log,
	}, nil
}

// Process renders each page and runs OCR on it, one page at a time.
// Document-level failures are returned as errors; a failing page is
// recorded on its PageResult and the remaining pages still run.
func (s *DocumentService) Process(ctx context.Context, data []byte, password *string, prompt string) (*models.DocumentResult, error) {
	start := time.Now()

	session, err := s.rasterizer.Open(ctx, data, password)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	count := session.PageCount()
	result := &models.DocumentResult{
		Pages:     make([]models.PageResult, 0, count),
		PageCount: count,
		Meta:      s.ocr.Meta(),
	}

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("document processing stopped before page %d: %w", i+1, err)
		}

		page, warning := s.processPage(ctx, session, i, prompt)
		if page.Failed() {
			result.FailedPages++
		}
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
		result.Pages = append(result.Pages, page)
	}

	result.FullText = models.JoinPages(result.Pages)
	result.ElapsedMS = time.Since(start).Milliseconds()

	s.log.WithFields(logrus.Fields{
		"pages":  result.PageCount,
		"failed": result.FailedPages,
		"ms":     result.ElapsedMS,
	}).Info("Document OCR completed")

	return result, nil
}

// processPage handles one page end to end. The page image never outlives
// this call.
func (s *DocumentService) processPage(ctx context.Context, session *pdf.Session, index int, prompt string) (models.PageResult, string) {
	pageStart := time.Now()
	page := models.PageResult{PageNumber: index + 1, Lines: []string{}}
	logger := s.log.WithField("page", index+1)

	img, err := session.Render(ctx, index, s.dpi)
	// The engine instance is not held while the page is OCR'd
	session.Release()
	if err != nil {
		page.Error = errorInfo(err)
		logger.WithError(err).Warn("Page render failed")
		return page, ""
	}

	path := filepath.Join(s.tempDir, fmt.Sprintf("page_%d_%d_%s.png", time.Now().UnixNano(), index, uuid.New().String()[:8]))
	if err := writePNG(path, img); err != nil {
		page.Error = errorInfo(err)
		logger.WithError(err).Warn("Failed to persist page image")
		return page, s.removePageFile(path, index)
	}

	ocrResult, err := s.ocr.RunOnPath(ctx, path, prompt)
	warning := s.removePageFile(path, index)
	page.ElapsedMS = time.Since(pageStart).Milliseconds()
	if err != nil {
		page.Error = errorInfo(err)
		logger.WithError(err).Warn("Page OCR failed")
		return page, warning
	}

	page.Text = ocrResult.FullText
	page.Lines = ocrResult.Lines
	page.Source = string(ocrResult.Source)
	return page, warning
}

func (s *DocumentService) removePageFile(path string, index int) string {
	err := os.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return ""
	}
	s.log.WithError(err).WithField("path", path).Error("Failed to remove page image")
	return fmt.Sprintf("page %d: temporary image %s was not removed: %v", index+1, filepath.Base(path), err)
}

// Split renders every page and stores each as a PNG in a new directory
// under the split directory. The files belong to the caller and are not
// cleaned up by the service.
func (s *DocumentService) Split(ctx context.Context, data []byte, password *string) (*models.SplitResult, error) {
	pages, err := s.rasterizer.Rasterize(ctx, data, password, s.dpi)
	if err != nil {
		return nil, err
	}

	dir, err := filepath.Abs(filepath.Join(s.splitDir, uuid.New().String()))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve split directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create split directory: %w", err)
	}

	paths := make([]string, 0, len(pages))
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			s.discardSplit(dir)
			return nil, fmt.Errorf("split cancelled: %w", err)
		}
		path := filepath.Join(dir, fmt.Sprintf("page_%04d.png", page.Number()))
		if err := writePNG(path, page); err != nil {
			s.discardSplit(dir)
			return nil, err
		}
		paths = append(paths, path)
	}

	s.log.WithFields(logrus.Fields{
		"pages": len(paths),
		"dir":   dir,
	}).Info("Document split into page images")

	return &models.SplitResult{
		Directory: dir,
		Paths:     paths,
		PageCount: len(paths),
	}, nil
}

func (s *DocumentService) discardSplit(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		s.log.WithError(err).WithField("dir", dir).Error("Failed to remove partial split output")
	}
}

func writePNG(path string, page pdf.PageImage) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create page image: %w", err)
	}
	if err := png.Encode(f, page.Image); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode page %d: %w", page.Number(), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write page image: %w", err)
	}
	return nil
}

func errorInfo(err error) *models.ErrorInfo {
	return &models.ErrorInfo{
		Kind:    string(apperr.KindOf(err)),
		Message: err.Error(),
	}
}
