package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxxcyber/dococr/internal/apperr"
	"github.com/foxxcyber/dococr/internal/backend"
	"github.com/foxxcyber/dococr/internal/config"
	"github.com/foxxcyber/dococr/internal/database"
	"github.com/foxxcyber/dococr/internal/extract"
	"github.com/foxxcyber/dococr/internal/middleware"
	"github.com/foxxcyber/dococr/internal/models"
	"github.com/foxxcyber/dococr/internal/pdf"
	"github.com/foxxcyber/dococr/internal/services"
)

type stubBackend struct {
	mu    sync.Mutex
	calls int
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Infer(ctx context.Context, req backend.Request) error {
	b.mu.Lock()
	b.calls++
	call := b.calls
	b.mu.Unlock()
	text := fmt.Sprintf("handler text number %d", call)
	return os.WriteFile(filepath.Join(req.OutputDir, "result.mmd"), []byte(text), 0o644)
}

func (b *stubBackend) Close() error { return nil }

type stubEngine struct {
	pages     int
	failPage  int
	encrypted bool
	busy      bool
}

func (e *stubEngine) Open(ctx context.Context, data []byte) (pdf.Handle, error) {
	if e.busy {
		return nil, fmt.Errorf("%w: no pdfium instance free", apperr.ErrBackendUnavailable)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return nil, errors.New("not a pdf")
	}
	return &stubHandle{engine: e}, nil
}

type stubHandle struct{ engine *stubEngine }

func (h *stubHandle) Encrypted() bool                     { return h.engine.encrypted }
func (h *stubHandle) Authenticate(pw string) (bool, error) { return pw == "secret", nil }
func (h *stubHandle) PageCount() (int, error)             { return h.engine.pages, nil }
func (h *stubHandle) Close() error                        { return nil }

func (h *stubHandle) RenderPage(index int, scale float64) (image.Image, error) {
	if index == h.engine.failPage {
		return nil, errors.New("corrupt content stream")
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img, nil
}

type memoryRuns struct {
	mu        sync.Mutex
	runs      []*models.OCRRun
	createErr error
}

func (m *memoryRuns) CreateRun(ctx context.Context, req *models.CreateRunRequest) (*models.OCRRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	run := &models.OCRRun{
		ID:          len(m.runs) + 1,
		Kind:        req.Kind,
		Status:      req.Status,
		InputDigest: req.InputDigest,
		InputName:   req.InputName,
		Backend:     req.Backend,
		PageCount:   req.PageCount,
		FailedPages: req.FailedPages,
		TextLength:  req.TextLength,
		ErrorKind:   req.ErrorKind,
	}
	m.runs = append(m.runs, run)
	return run, nil
}

func (m *memoryRuns) GetRunByID(ctx context.Context, id int) (*models.OCRRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 1 || id > len(m.runs) {
		return nil, database.ErrRunNotFound
	}
	return m.runs[id-1], nil
}

func (m *memoryRuns) ListRuns(ctx context.Context, params *models.RunListParams) ([]*models.OCRRun, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs, len(m.runs), nil
}

type testServer struct {
	app    *fiber.App
	engine *stubEngine
	runs   *memoryRuns
	logs   *logtest.Hook
	root   string
}

func newTestServer(t *testing.T, withHistory bool) *testServer {
	t.Helper()
	root := t.TempDir()
	log, hook := logtest.NewNullLogger()

	gate, err := services.NewGate(1, "", log)
	require.NoError(t, err)
	invoker := services.NewInvoker(&stubBackend{}, gate, services.InvokerConfig{
		WorkDir: root,
		Options: backend.DefaultOptions(),
	}, log)
	ocr, err := services.NewOCRService(invoker, extract.New(), services.NewDownloader(0),
		filepath.Join(root, "tmp"), models.RuntimeMeta{ModelID: "test-model", Device: "cpu"}, log)
	require.NoError(t, err)

	engine := &stubEngine{pages: 2, failPage: -1}
	doc, err := services.NewDocumentService(pdf.NewRasterizer(engine, log), ocr,
		filepath.Join(root, "tmp"), filepath.Join(root, "split"), 72, log)
	require.NoError(t, err)

	cfg := &config.Config{UploadMaxBytes: 1 << 20}

	ts := &testServer{engine: engine, logs: hook, root: root}
	var runs RunStore
	if withHistory {
		ts.runs = &memoryRuns{}
		runs = ts.runs
	}

	ts.app = fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	ts.app.Use(middleware.RequestLogger(log))
	SetupRoutes(ts.app, New(cfg, ocr, doc, nil, runs, log))
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func jsonRequest(path string, body interface{}) *http.Request {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadRequest(t *testing.T, path, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func errorKind(body map[string]interface{}) string {
	detail, _ := body["error"].(map[string]interface{})
	kind, _ := detail["kind"].(string)
	return kind
}

func pngData(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

var fakePDF = []byte("%PDF-1.7 test")

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)

	status, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "cpu", body["device"])
	assert.Equal(t, "test-model", body["model_id"])
	assert.Equal(t, "stub", body["backend"])
}

func TestOCRFromPath(t *testing.T) {
	t.Run("missing image", func(t *testing.T) {
		ts := newTestServer(t, false)
		status, body := ts.do(t, jsonRequest("/ocr/local", OCRLocalRequest{ImagePath: "/no/such/file.png"}))
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, string(apperr.KindImageNotFound), errorKind(body))
	})

	t.Run("existing image", func(t *testing.T) {
		ts := newTestServer(t, true)
		path := filepath.Join(t.TempDir(), "scan.png")
		require.NoError(t, os.WriteFile(path, pngData(t), 0o644))

		status, body := ts.do(t, jsonRequest("/ocr/local", OCRLocalRequest{ImagePath: path}))
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "handler text number 1", body["full_text"])
		assert.Equal(t, "artifact", body["source"])

		require.Len(t, ts.runs.runs, 1)
		assert.Equal(t, models.RunStatusCompleted, ts.runs.runs[0].Status)
		assert.Equal(t, "stub", ts.runs.runs[0].Backend)
	})

	t.Run("missing path", func(t *testing.T) {
		ts := newTestServer(t, false)
		status, body := ts.do(t, jsonRequest("/ocr/local", OCRLocalRequest{}))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, string(apperr.KindInvalidInput), errorKind(body))
	})
}

func TestOCRFromURLBase64(t *testing.T) {
	ts := newTestServer(t, false)

	encoded := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData(t))
	status, body := ts.do(t, jsonRequest("/ocr", OCRRequest{ImageBase64: encoded}))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "handler text number 1", body["full_text"])

	status, body = ts.do(t, jsonRequest("/ocr", OCRRequest{}))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(apperr.KindInvalidInput), errorKind(body))
}

func TestOCRFromUpload(t *testing.T) {
	t.Run("unsupported extension", func(t *testing.T) {
		ts := newTestServer(t, false)
		status, body := ts.do(t, uploadRequest(t, "/ocr/upload", "notes.txt", []byte("hello"), nil))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, string(apperr.KindInvalidInput), errorKind(body))
	})

	t.Run("png upload", func(t *testing.T) {
		ts := newTestServer(t, false)
		status, body := ts.do(t, uploadRequest(t, "/ocr/upload", "scan.png", pngData(t), nil))
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "handler text number 1", body["full_text"])
		assert.Empty(t, entries(t, filepath.Join(ts.root, "tmp")))
	})

	t.Run("corrupt image", func(t *testing.T) {
		ts := newTestServer(t, false)
		status, body := ts.do(t, uploadRequest(t, "/ocr/upload", "scan.png", []byte("not really a png"), nil))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, string(apperr.KindInvalidInput), errorKind(body))
	})
}

func TestOCRFromPDF(t *testing.T) {
	t.Run("all pages", func(t *testing.T) {
		ts := newTestServer(t, true)
		status, body := ts.do(t, uploadRequest(t, "/ocr/pdf", "doc.pdf", fakePDF, nil))
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, float64(2), body["page_count"])
		assert.Equal(t, float64(0), body["failed_pages"])
		assert.Equal(t, "[Page 1]\nhandler text number 1\n\n[Page 2]\nhandler text number 2", body["full_text"])

		require.Len(t, ts.runs.runs, 1)
		assert.Equal(t, models.RunKindDocument, ts.runs.runs[0].Kind)
		assert.Equal(t, models.RunStatusCompleted, ts.runs.runs[0].Status)
	})

	t.Run("failing page is partial", func(t *testing.T) {
		ts := newTestServer(t, true)
		ts.engine.failPage = 0
		status, body := ts.do(t, uploadRequest(t, "/ocr/pdf", "doc.pdf", fakePDF, nil))
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, float64(1), body["failed_pages"])

		pages := body["pages"].([]interface{})
		require.Len(t, pages, 2)
		first := pages[0].(map[string]interface{})
		assert.Equal(t, string(apperr.KindPageRender), first["error"].(map[string]interface{})["kind"])

		assert.Equal(t, models.RunStatusPartial, ts.runs.runs[0].Status)
	})

	t.Run("password required", func(t *testing.T) {
		ts := newTestServer(t, true)
		ts.engine.encrypted = true
		status, body := ts.do(t, uploadRequest(t, "/ocr/pdf", "doc.pdf", fakePDF, nil))
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, string(apperr.KindPasswordRequired), errorKind(body))

		require.Len(t, ts.runs.runs, 1)
		assert.Equal(t, models.RunStatusFailed, ts.runs.runs[0].Status)
		require.NotNil(t, ts.runs.runs[0].ErrorKind)
		assert.Equal(t, string(apperr.KindPasswordRequired), *ts.runs.runs[0].ErrorKind)
	})

	t.Run("wrong password", func(t *testing.T) {
		ts := newTestServer(t, false)
		ts.engine.encrypted = true
		status, body := ts.do(t, uploadRequest(t, "/ocr/pdf", "doc.pdf", fakePDF, map[string]string{"password": "nope"}))
		assert.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, string(apperr.KindInvalidPassword), errorKind(body))
	})

	t.Run("not a pdf", func(t *testing.T) {
		ts := newTestServer(t, false)
		status, body := ts.do(t, uploadRequest(t, "/ocr/pdf", "doc.pdf", []byte("garbage"), nil))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, string(apperr.KindInvalidDocument), errorKind(body))
	})

	t.Run("wrong extension", func(t *testing.T) {
		ts := newTestServer(t, false)
		status, body := ts.do(t, uploadRequest(t, "/ocr/pdf", "doc.docx", fakePDF, nil))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, string(apperr.KindInvalidInput), errorKind(body))
	})
}

func TestSplitPDF(t *testing.T) {
	ts := newTestServer(t, false)

	status, body := ts.do(t, uploadRequest(t, "/pdf/split", "doc.pdf", fakePDF, nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), body["page_count"])

	paths := body["paths"].([]interface{})
	require.Len(t, paths, 2)
	for _, p := range paths {
		assert.FileExists(t, p.(string))
	}

	status, body = ts.do(t, uploadRequest(t, "/pdf/split?archive=true", "doc.pdf", fakePDF, nil))
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, string(apperr.KindBackendUnavailable), errorKind(body))
}

func TestRunsDisabled(t *testing.T) {
	ts := newTestServer(t, false)

	status, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, string(apperr.KindBackendUnavailable), errorKind(body))
}

func TestRunsHistory(t *testing.T) {
	ts := newTestServer(t, true)
	ts.do(t, uploadRequest(t, "/ocr/pdf", "doc.pdf", fakePDF, nil))

	status, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/runs?limit=5", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	meta := body["meta"].(map[string]interface{})
	assert.Equal(t, float64(1), meta["total"])
	assert.Equal(t, float64(5), meta["limit"])

	status, body = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/runs/1", nil))
	assert.Equal(t, http.StatusOK, status)
	run := body["data"].(map[string]interface{})
	assert.Equal(t, "document", run["kind"])
	assert.Equal(t, "doc.pdf", run["input_name"])

	status, _ = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/runs/99", nil))
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/runs/abc", nil))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.KindInvalidInput, http.StatusBadRequest},
		{apperr.KindInvalidDocument, http.StatusBadRequest},
		{apperr.KindPasswordRequired, http.StatusUnauthorized},
		{apperr.KindInvalidPassword, http.StatusForbidden},
		{apperr.KindImageNotFound, http.StatusNotFound},
		{apperr.KindNoResultProduced, http.StatusUnprocessableEntity},
		{apperr.KindPageRender, http.StatusUnprocessableEntity},
		{apperr.KindDownloadFailure, http.StatusBadGateway},
		{apperr.KindBackendUnavailable, http.StatusServiceUnavailable},
		{apperr.KindCancelled, http.StatusRequestTimeout},
		{apperr.KindBackendFailed, http.StatusInternalServerError},
		{apperr.KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.kind))
		})
	}
}

func TestFailMasksInternalErrors(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return Fail(c, errors.New("dial tcp 10.0.0.1:5432: connection refused"))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, apperr.KindInternal, body.Error.Kind)
	assert.Equal(t, "Internal Server Error", body.Error.Message)
}

func entries(t *testing.T, dir string) []string {
	t.Helper()
	list, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(list))
	for _, e := range list {
		names = append(names, e.Name())
	}
	return names
}

func TestOCRFromPDFEngineBusy(t *testing.T) {
	ts := newTestServer(t, false)
	ts.engine.busy = true

	status, body := ts.do(t, uploadRequest(t, "/ocr/pdf", "doc.pdf", []byte("%PDF-1.7"), nil))
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, string(apperr.KindBackendUnavailable), errorKind(body))
}

func TestHandlerLogsCarryRequestID(t *testing.T) {
	ts := newTestServer(t, true)
	ts.runs.createErr = errors.New("connection reset")

	img := filepath.Join(t.TempDir(), "page.png")
	require.NoError(t, os.WriteFile(img, pngData(t), 0o644))

	req := jsonRequest("/ocr/local", OCRLocalRequest{ImagePath: img})
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))

	var recordFailure *logrus.Entry
	for _, entry := range ts.logs.AllEntries() {
		if entry.Message == "Failed to record OCR run" {
			recordFailure = entry
		}
	}
	require.NotNil(t, recordFailure)
	assert.Equal(t, "req-42", recordFailure.Data["request_id"])
	assert.Equal(t, logrus.WarnLevel, recordFailure.Level)
}
