// Package backend holds the OCR model runtimes. A Backend reads one image,
// writes whatever artifacts it produces into a directory it is given and
// prints any console output to the writers on the request.
package backend

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/foxxcyber/dococr/internal/apperr"
)

// Options are the model inference parameters
type Options struct {
	BaseSize     int
	ImageSize    int
	CropMode     bool
	SaveResults  bool
	TestCompress bool
}

// DefaultOptions returns the parameters the DeepSeek-OCR model is tuned for
func DefaultOptions() Options {
	return Options{
		BaseSize:     1024,
		ImageSize:    640,
		CropMode:     true,
		SaveResults:  true,
		TestCompress: true,
	}
}

// Request is a single inference call
type Request struct {
	Prompt    string
	ImagePath string
	OutputDir string
	Options   Options
	Stdout    io.Writer
	Stderr    io.Writer
}

// Backend runs OCR inference
type Backend interface {
	Name() string
	Infer(ctx context.Context, req Request) error
	Close() error
}

// Config selects and configures a backend
type Config struct {
	Kind        string
	ModelID     string
	Device      string
	Options     Options
	Python      string
	Script      string
	Language    string
	VisionURL   string
	VisionKey   string
	VisionModel string
}

// New constructs the backend named by cfg.Kind
func New(cfg Config, log *logrus.Logger) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Kind {
	case "", KindCommand:
		b, err = NewCommand(cfg, log)
	case KindTesseract:
		b, err = NewTesseract(cfg.Language)
	case KindVision:
		b, err = NewVision(cfg, log)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", apperr.ErrBackendUnavailable, cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

const (
	KindCommand   = "command"
	KindTesseract = "tesseract"
	KindVision    = "vision"
)

func writer(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
