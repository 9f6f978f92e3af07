package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/foxxcyber/dococr/internal/apperr"
	"github.com/foxxcyber/dococr/internal/backend"
	"github.com/foxxcyber/dococr/internal/models"
)

// DefaultPrompt asks the model for plain OCR of the image
const DefaultPrompt = "<image>\nFree OCR."

// InvokerConfig configures an Invoker
type InvokerConfig struct {
	WorkDir       string
	Options       backend.Options
	Timeout       time.Duration
	KeepArtifacts bool
}

// Invoker runs the backend once per image in a private run directory and
// captures its console output for that call only.
type Invoker struct {
	backend backend.Backend
	gate    *Gate
	cfg     InvokerConfig
	log     *logrus.Logger
}

// NewInvoker creates an invoker. gate may be nil for unbounded calls.
func NewInvoker(b backend.Backend, gate *Gate, cfg InvokerConfig, log *logrus.Logger) *Invoker {
	return &Invoker{backend: b, gate: gate, cfg: cfg, log: log}
}

// Invoke runs OCR on the image at imagePath. The caller must Release the
// returned run once its artifacts have been read.
func (inv *Invoker) Invoke(ctx context.Context, imagePath, prompt string) (*models.RawRun, error) {
	if inv.backend == nil {
		return nil, apperr.ErrBackendUnavailable
	}

	info, err := os.Stat(imagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperr.ErrImageNotFound, imagePath)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", apperr.ErrImageNotFound, imagePath)
	}
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrImageNotFound, imagePath, err)
	}
	f.Close()

	absPath, err := filepath.Abs(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	if prompt == "" {
		prompt = DefaultPrompt
	}

	if inv.gate != nil {
		release, err := inv.gate.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	runDir := filepath.Join(inv.cfg.WorkDir, "runs", uuid.New().String())
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	var stdout, stderr bytes.Buffer
	start := time.Now()
	err = inv.infer(ctx, backend.Request{
		Prompt:    prompt,
		ImagePath: absPath,
		OutputDir: runDir,
		Options:   inv.cfg.Options,
		Stdout:    &stdout,
		Stderr:    &stderr,
	})
	run := &models.RawRun{
		ArtifactDir: runDir,
		Stdout:      stdout.String(),
		Stderr:      stderr.String(),
		Elapsed:     time.Since(start),
	}

	logger := inv.log.WithFields(logrus.Fields{
		"backend": inv.backend.Name(),
		"run":     filepath.Base(runDir),
		"elapsed": run.Elapsed.Round(time.Millisecond),
	})
	if err != nil {
		logger.WithError(err).Warn("OCR backend call failed")
		inv.Release(run)
		return nil, err
	}
	logger.Debug("OCR backend call completed")

	return run, nil
}

// infer calls the backend with the configured timeout and turns a panic
// inside the backend into an error.
func (inv *Invoker) infer(ctx context.Context, req backend.Request) (err error) {
	if inv.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.cfg.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", apperr.ErrBackendFailed, r)
		}
	}()

	return inv.backend.Infer(ctx, req)
}

// Release removes the run directory unless artifacts are kept
func (inv *Invoker) Release(run *models.RawRun) {
	if run == nil || run.ArtifactDir == "" || inv.cfg.KeepArtifacts {
		return
	}
	if err := os.RemoveAll(run.ArtifactDir); err != nil {
		inv.log.WithError(err).WithField("dir", run.ArtifactDir).Error("Failed to remove run directory")
	}
}

// BackendName returns the name of the configured backend
func (inv *Invoker) BackendName() string {
	if inv.backend == nil {
		return ""
	}
	return inv.backend.Name()
}
