package pdf

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/klippa-app/go-pdfium"
	pdfiumerrors "github.com/klippa-app/go-pdfium/errors"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
	"golang.org/x/image/draw"

	"github.com/foxxcyber/dococr/internal/apperr"
)

// PdfiumEngine renders documents with pdfium compiled to WebAssembly.
// No CGo or system library is needed.
type PdfiumEngine struct {
	pool    pdfium.Pool
	timeout time.Duration
	mu      sync.Mutex
	closed  bool
}

// NewPdfiumEngine starts a pool of at most workers pdfium instances
func NewPdfiumEngine(workers int) (*PdfiumEngine, error) {
	if workers <= 0 {
		workers = 1
	}
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  workers,
		MaxTotal: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start pdfium: %w", err)
	}
	return &PdfiumEngine{pool: pool, timeout: 30 * time.Second}, nil
}

// acquireSlice bounds each pool wait so ctx is checked between attempts
const acquireSlice = time.Second

// Open loads a document without a password. A password-protected
// document is reported through Encrypted and unlocked with Authenticate.
// The pdfium instance stays checked out until the handle is closed.
func (e *PdfiumEngine) Open(ctx context.Context, data []byte) (Handle, error) {
	instance, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}

	h := &pdfiumHandle{instance: instance, data: data}
	doc, err := instance.OpenDocument(&requests.OpenDocument{File: &h.data})
	if err != nil {
		if isPasswordError(err) {
			h.encrypted = true
			return h, nil
		}
		_ = instance.Close()
		return nil, err
	}
	h.doc = doc.Document
	h.open = true
	return h, nil
}

// acquire waits for a free instance until the engine timeout or ctx ends.
// A pool that stays busy is reported as ErrBackendUnavailable.
func (e *PdfiumEngine) acquire(ctx context.Context) (pdfium.Pdfium, error) {
	deadline := time.Now().Add(e.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var lastErr error
	for {
		e.mu.Lock()
		closed := e.closed
		e.mu.Unlock()
		if closed {
			return nil, fmt.Errorf("%w: pdfium engine closed", apperr.ErrBackendUnavailable)
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("waiting for pdfium instance: %w", err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if lastErr == nil {
				lastErr = errors.New("deadline reached")
			}
			return nil, fmt.Errorf("%w: no pdfium instance free: %v", apperr.ErrBackendUnavailable, lastErr)
		}
		if remaining > acquireSlice {
			remaining = acquireSlice
		}

		instance, err := e.pool.GetInstance(remaining)
		if err == nil {
			return instance, nil
		}
		lastErr = err
	}
}

// Close shuts down the pdfium pool
func (e *PdfiumEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.pool.Close()
}

type pdfiumHandle struct {
	instance  pdfium.Pdfium
	data      []byte
	doc       references.FPDF_DOCUMENT
	open      bool
	encrypted bool
}

func (h *pdfiumHandle) Encrypted() bool {
	return h.encrypted
}

func (h *pdfiumHandle) Authenticate(password string) (bool, error) {
	if h.open {
		return true, nil
	}
	doc, err := h.instance.OpenDocument(&requests.OpenDocument{File: &h.data, Password: &password})
	if err != nil {
		if isPasswordError(err) {
			return false, nil
		}
		return false, err
	}
	h.doc = doc.Document
	h.open = true
	return true, nil
}

func (h *pdfiumHandle) PageCount() (int, error) {
	if !h.open {
		return 0, errors.New("document is locked")
	}
	resp, err := h.instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{Document: h.doc})
	if err != nil {
		return 0, err
	}
	return resp.PageCount, nil
}

func (h *pdfiumHandle) RenderPage(index int, scale float64) (image.Image, error) {
	if !h.open {
		return nil, errors.New("document is locked")
	}

	size, err := h.instance.FPDF_GetPageSizeByIndex(&requests.FPDF_GetPageSizeByIndex{
		Document: h.doc,
		Index:    index,
	})
	if err != nil {
		return nil, fmt.Errorf("read page size: %w", err)
	}

	width := int(math.Round(size.Width * scale))
	height := int(math.Round(size.Height * scale))
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("page has empty size %.1fx%.1f", size.Width, size.Height)
	}

	rendered, err := h.instance.RenderPageInPixels(&requests.RenderPageInPixels{
		Page: requests.Page{
			ByIndex: &requests.PageByIndex{
				Document: h.doc,
				Index:    index,
			},
		},
		Width:  width,
		Height: height,
	})
	if err != nil {
		return nil, err
	}
	defer rendered.Cleanup()

	// The bitmap memory belongs to pdfium and is released by Cleanup.
	src := rendered.Result.Image
	out := image.NewRGBA(src.Bounds())
	draw.Draw(out, out.Bounds(), src, src.Bounds().Min, draw.Src)
	return out, nil
}

func (h *pdfiumHandle) Close() error {
	var closeErr error
	if h.open {
		if _, err := h.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: h.doc}); err != nil {
			closeErr = err
		}
		h.open = false
	}
	h.data = nil
	if err := h.instance.Close(); err != nil && closeErr == nil {
		closeErr = err
	}
	return closeErr
}

func isPasswordError(err error) bool {
	if errors.Is(err, pdfiumerrors.ErrPassword) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "password")
}
