package services

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/foxxcyber/dococr/internal/backend"
	"github.com/foxxcyber/dococr/internal/config"
	"github.com/foxxcyber/dococr/internal/extract"
	"github.com/foxxcyber/dococr/internal/models"
	"github.com/foxxcyber/dococr/internal/pdf"
)

// Pipeline is the fully wired OCR stack shared by the server and the CLI
type Pipeline struct {
	Backend  backend.Backend
	Engine   *pdf.PdfiumEngine
	OCR      *OCRService
	Document *DocumentService
	log      *logrus.Logger
}

// NewPipeline builds the backend, PDF engine and services described by cfg
func NewPipeline(cfg *config.Config, log *logrus.Logger) (*Pipeline, error) {
	opts := backend.Options{
		BaseSize:     cfg.BaseSize,
		ImageSize:    cfg.ImageSize,
		CropMode:     cfg.CropMode,
		SaveResults:  true,
		TestCompress: true,
	}

	b, err := backend.New(backend.Config{
		Kind:        cfg.OCRBackend,
		ModelID:     cfg.ModelID,
		Device:      cfg.Device,
		Options:     opts,
		Python:      cfg.PythonPath,
		Script:      cfg.InferScript,
		Language:    cfg.TesseractLanguage,
		VisionURL:   cfg.VisionAPIURL,
		VisionKey:   cfg.VisionAPIKey,
		VisionModel: cfg.VisionModel,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCR backend: %w", err)
	}

	gate, err := NewGate(cfg.OCRConcurrency, cfg.OCRLockFile, log)
	if err != nil {
		b.Close()
		return nil, err
	}

	invoker := NewInvoker(b, gate, InvokerConfig{
		WorkDir:       cfg.WorkDir,
		Options:       opts,
		Timeout:       cfg.OCRTimeout,
		KeepArtifacts: cfg.KeepArtifacts,
	}, log)

	ocr, err := NewOCRService(invoker, extract.New(), NewDownloader(cfg.DownloadTimeout), cfg.TempDir,
		models.RuntimeMeta{ModelID: cfg.ModelID, Device: cfg.Device}, log)
	if err != nil {
		b.Close()
		return nil, err
	}

	engine, err := pdf.NewPdfiumEngine(cfg.PdfiumWorkers)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to start PDF engine: %w", err)
	}

	document, err := NewDocumentService(pdf.NewRasterizer(engine, log), ocr, cfg.TempDir, cfg.SplitDir, cfg.PDFDPI, log)
	if err != nil {
		engine.Close()
		b.Close()
		return nil, err
	}

	return &Pipeline{Backend: b, Engine: engine, OCR: ocr, Document: document, log: log}, nil
}

// RunDirs are the directories the janitor sweeps for leftovers
func RunDirs(cfg *config.Config) []string {
	return []string{filepath.Join(cfg.WorkDir, "runs"), cfg.TempDir}
}

// Close releases the PDF engine and the backend
func (p *Pipeline) Close() {
	if err := p.Engine.Close(); err != nil {
		p.log.WithError(err).Warn("Failed to close PDF engine")
	}
	if err := p.Backend.Close(); err != nil {
		p.log.WithError(err).Warn("Failed to close OCR backend")
	}
}
