package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/foxxcyber/dococr/internal/apperr"
	"github.com/foxxcyber/dococr/internal/backend"
	"github.com/foxxcyber/dococr/internal/extract"
	"github.com/foxxcyber/dococr/internal/models"
	"github.com/foxxcyber/dococr/internal/pdf"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeBackend writes a result file naming the image it was given
type fakeBackend struct {
	mu       sync.Mutex
	calls    int
	prompts  []string
	images   []string
	failCall int
	panicky  bool
	noOutput bool
	// observe, when set, runs at the start of every call
	observe func(call int, req backend.Request)
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Infer(ctx context.Context, req backend.Request) error {
	b.mu.Lock()
	b.calls++
	call := b.calls
	b.prompts = append(b.prompts, req.Prompt)
	b.images = append(b.images, req.ImagePath)
	b.mu.Unlock()

	if b.observe != nil {
		b.observe(call, req)
	}
	if b.panicky {
		panic("model exploded")
	}
	fmt.Fprintf(req.Stdout, "[INFO] processing %s\n", req.ImagePath)
	if call == b.failCall {
		fmt.Fprintln(req.Stderr, "RuntimeError: out of memory")
		return fmt.Errorf("%w: exit status 1", apperr.ErrBackendFailed)
	}
	if b.noOutput {
		return nil
	}
	text := fmt.Sprintf("recognized text for call %d\nsecond line", call)
	return os.WriteFile(filepath.Join(req.OutputDir, "result.mmd"), []byte(text), 0o644)
}

func (b *fakeBackend) Close() error { return nil }

type fakeEngine struct {
	pages     int
	failPage  int
	encrypted bool
	password  string
	busy      bool

	mu    sync.Mutex
	opens int
	held  int
}

func (e *fakeEngine) Open(ctx context.Context, data []byte) (pdf.Handle, error) {
	if e.busy {
		return nil, fmt.Errorf("%w: no pdfium instance free", apperr.ErrBackendUnavailable)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return nil, errors.New("not a pdf")
	}
	e.mu.Lock()
	e.opens++
	e.held++
	e.mu.Unlock()
	return &fakeHandle{engine: e}, nil
}

// inUse reports how many handles are open right now
func (e *fakeEngine) inUse() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.held
}

type fakeHandle struct {
	engine   *fakeEngine
	unlocked bool
	closed   bool
}

func (h *fakeHandle) Encrypted() bool { return h.engine.encrypted }

func (h *fakeHandle) Authenticate(password string) (bool, error) {
	h.unlocked = password == h.engine.password
	return h.unlocked, nil
}

func (h *fakeHandle) PageCount() (int, error) { return h.engine.pages, nil }

func (h *fakeHandle) RenderPage(index int, scale float64) (image.Image, error) {
	if index == h.engine.failPage {
		return nil, errors.New("broken page tree")
	}
	return solidImage(8, 8), nil
}

func (h *fakeHandle) Close() error {
	if !h.closed {
		h.closed = true
		h.engine.mu.Lock()
		h.engine.held--
		h.engine.mu.Unlock()
	}
	return nil
}

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "img.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, solidImage(4, 4)))
	require.NoError(t, f.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

type fixture struct {
	root     string
	backend  *fakeBackend
	engine   *fakeEngine
	invoker  *Invoker
	ocr      *OCRService
	document *DocumentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	log := quietLogger()

	fb := &fakeBackend{failCall: -1}
	gate, err := NewGate(1, "", log)
	require.NoError(t, err)

	invoker := NewInvoker(fb, gate, InvokerConfig{
		WorkDir: root,
		Options: backend.DefaultOptions(),
	}, log)

	ocr, err := NewOCRService(invoker, extract.New(), NewDownloader(0), filepath.Join(root, "tmp"),
		models.RuntimeMeta{ModelID: "test-model", Device: "cpu"}, log)
	require.NoError(t, err)

	engine := &fakeEngine{pages: 3, failPage: -1}
	doc, err := NewDocumentService(pdf.NewRasterizer(engine, log), ocr,
		filepath.Join(root, "tmp"), filepath.Join(root, "split"), 72, log)
	require.NoError(t, err)

	return &fixture{root: root, backend: fb, engine: engine, invoker: invoker, ocr: ocr, document: doc}
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
