// Package pdf turns PDF bytes into opaque page bitmaps.
//
// Rendering goes through an Engine so the pdfium runtime can be swapped
// for a fake in tests. Document bytes and the password live no longer
// than the Session or Rasterize call that received them.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/sirupsen/logrus"

	"github.com/foxxcyber/dococr/internal/apperr"
)

// DefaultDPI is used when a caller passes a non-positive resolution
const DefaultDPI = 200

// pointsPerInch is the PDF user-space unit
const pointsPerInch = 72.0

// PageImage is one rendered page. Every pixel is fully opaque.
type PageImage struct {
	Image *image.RGBA
	Index int
	DPI   int
}

// Number returns the 1-based page number
func (p PageImage) Number() int {
	return p.Index + 1
}

// Engine opens documents for rendering. Open blocks while the engine has
// no capacity; it returns an error wrapping apperr.ErrBackendUnavailable
// when none frees up in time, or ctx's error.
type Engine interface {
	Open(ctx context.Context, data []byte) (Handle, error)
}

// Handle is an open document inside an Engine
type Handle interface {
	Encrypted() bool
	Authenticate(password string) (bool, error)
	PageCount() (int, error)
	RenderPage(index int, scale float64) (image.Image, error)
	Close() error
}

// Rasterizer renders PDF documents to page images
type Rasterizer struct {
	engine Engine
	log    *logrus.Logger
}

// NewRasterizer creates a rasterizer over the given engine
func NewRasterizer(engine Engine, log *logrus.Logger) *Rasterizer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Rasterizer{engine: engine, log: log}
}

// Rasterize renders every page of the document in physical order.
// Any page failure discards the pages rendered so far.
func (r *Rasterizer) Rasterize(ctx context.Context, data []byte, password *string, dpi int) ([]PageImage, error) {
	session, err := r.Open(ctx, data, password)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	count := session.PageCount()
	pages := make([]PageImage, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("rasterize cancelled: %w", err)
		}
		page, err := session.Render(ctx, i, dpi)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}

	r.log.WithFields(logrus.Fields{
		"pages": len(pages),
		"dpi":   normalizeDPI(dpi),
	}).Debug("Document rasterized")

	return pages, nil
}

// Open validates the document and unlocks it if needed. The caller must
// Close the returned session.
func (r *Rasterizer) Open(ctx context.Context, data []byte, password *string) (*Session, error) {
	handle, count, err := r.unlock(ctx, data, password)
	if err != nil {
		return nil, err
	}
	return &Session{
		rasterizer: r,
		data:       data,
		password:   password,
		handle:     handle,
		pageCount:  count,
	}, nil
}

func (r *Rasterizer) unlock(ctx context.Context, data []byte, password *string) (Handle, int, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("%w: empty document", apperr.ErrInvalidDocument)
	}

	handle, err := r.engine.Open(ctx, data)
	if err != nil {
		if errors.Is(err, apperr.ErrBackendUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("%w: %v", apperr.ErrInvalidDocument, err)
	}

	if handle.Encrypted() {
		if password == nil || *password == "" {
			closeHandle(handle, r.log)
			return nil, 0, apperr.ErrPasswordRequired
		}
		ok, err := handle.Authenticate(*password)
		if err != nil {
			closeHandle(handle, r.log)
			return nil, 0, fmt.Errorf("%w: %v", apperr.ErrInvalidDocument, err)
		}
		if !ok {
			closeHandle(handle, r.log)
			return nil, 0, apperr.ErrInvalidPassword
		}
	}

	count, err := handle.PageCount()
	if err != nil {
		closeHandle(handle, r.log)
		return nil, 0, fmt.Errorf("%w: read page count: %v", apperr.ErrInvalidDocument, err)
	}
	return handle, count, nil
}

// Session is an opened, authenticated document rendered one page at a
// time. It holds the document bytes and password until Close so that the
// engine handle can be given back with Release between pages.
type Session struct {
	rasterizer *Rasterizer
	data       []byte
	password   *string
	handle     Handle
	pageCount  int
	closed     bool
}

// PageCount returns the number of pages in the document
func (s *Session) PageCount() int {
	return s.pageCount
}

// Render rasterizes a single page at the given resolution, reopening the
// document first if the handle was released
func (s *Session) Render(ctx context.Context, index int, dpi int) (PageImage, error) {
	if s.closed {
		return PageImage{}, &apperr.PageRenderError{PageIndex: index, Cause: errors.New("session closed")}
	}
	if index < 0 || index >= s.pageCount {
		return PageImage{}, &apperr.PageRenderError{
			PageIndex: index,
			Cause:     fmt.Errorf("page index out of range [0,%d)", s.pageCount),
		}
	}
	if err := ctx.Err(); err != nil {
		return PageImage{}, fmt.Errorf("render cancelled: %w", err)
	}

	if s.handle == nil {
		handle, count, err := s.rasterizer.unlock(ctx, s.data, s.password)
		if err != nil {
			return PageImage{}, fmt.Errorf("reopen document for page %d: %w", index+1, err)
		}
		if count != s.pageCount {
			closeHandle(handle, s.rasterizer.log)
			return PageImage{}, &apperr.PageRenderError{
				PageIndex: index,
				Cause:     fmt.Errorf("page count changed from %d to %d", s.pageCount, count),
			}
		}
		s.handle = handle
	}

	dpi = normalizeDPI(dpi)
	img, err := s.handle.RenderPage(index, float64(dpi)/pointsPerInch)
	if err != nil {
		return PageImage{}, &apperr.PageRenderError{PageIndex: index, Cause: err}
	}
	if img == nil {
		return PageImage{}, &apperr.PageRenderError{PageIndex: index, Cause: errors.New("engine returned no bitmap")}
	}

	return PageImage{Image: Flatten(img), Index: index, DPI: dpi}, nil
}

// Release gives the engine handle back while the session stays usable.
// The next Render reopens the document.
func (s *Session) Release() {
	if s.handle != nil {
		closeHandle(s.handle, s.rasterizer.log)
		s.handle = nil
	}
}

// Close releases the handle and drops the document. It is safe to call twice.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.Release()
	s.data = nil
	s.password = nil
}

func closeHandle(h Handle, log *logrus.Logger) {
	if err := h.Close(); err != nil {
		log.WithError(err).Warn("Failed to close document handle")
	}
}

func normalizeDPI(dpi int) int {
	if dpi <= 0 {
		return DefaultDPI
	}
	return dpi
}
