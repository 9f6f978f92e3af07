package handlers

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"

	"github.com/foxxcyber/dococr/internal/apperr"
	"github.com/foxxcyber/dococr/internal/models"
	"github.com/foxxcyber/dococr/internal/services"
)

var allowedImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".gif":  true,
	".webp": true,
}

// OCRRequest is the body of POST /ocr
type OCRRequest struct {
	ImageURL    string `json:"image_url"`
	ImageBase64 string `json:"image_base64"`
	Prompt      string `json:"prompt"`
}

// OCRLocalRequest is the body of POST /ocr/local
type OCRLocalRequest struct {
	ImagePath string `json:"image_path"`
	Prompt    string `json:"prompt"`
}

// OCRFromURL runs OCR on a remote image or on inline base64 data
func (h *Handler) OCRFromURL(c *fiber.Ctx) error {
	var req OCRRequest
	if err := c.BodyParser(&req); err != nil {
		return Error(c, fiber.StatusBadRequest, apperr.KindInvalidInput, "invalid request body")
	}

	ctx := c.UserContext()
	start := time.Now()

	switch {
	case req.ImageURL != "":
		result, err := h.ocr.RunOnURL(ctx, req.ImageURL, req.Prompt)
		h.recordImageRun(c, []byte(req.ImageURL), req.ImageURL, result, err, start)
		if err != nil {
			return Fail(c, err)
		}
		return c.JSON(result)

	case req.ImageBase64 != "":
		data, err := base64.StdEncoding.DecodeString(stripDataURL(req.ImageBase64))
		if err != nil {
			return Error(c, fiber.StatusBadRequest, apperr.KindInvalidInput, "image_base64 is not valid base64")
		}
		result, err := h.ocr.RunOnBytes(ctx, data, "", req.Prompt)
		h.recordImageRun(c, data, "", result, err, start)
		if err != nil {
			return Fail(c, err)
		}
		return c.JSON(result)

	default:
		return Error(c, fiber.StatusBadRequest, apperr.KindInvalidInput, "image_url or image_base64 is required")
	}
}

// OCRFromPath runs OCR on an image already on the server's disk
func (h *Handler) OCRFromPath(c *fiber.Ctx) error {
	var req OCRLocalRequest
	if err := c.BodyParser(&req); err != nil {
		return Error(c, fiber.StatusBadRequest, apperr.KindInvalidInput, "invalid request body")
	}
	if req.ImagePath == "" {
		return Error(c, fiber.StatusBadRequest, apperr.KindInvalidInput, "image_path is required")
	}

	ctx := c.UserContext()
	start := time.Now()

	result, err := h.ocr.RunOnPath(ctx, req.ImagePath, req.Prompt)
	h.recordImageRun(c, []byte(req.ImagePath), filepath.Base(req.ImagePath), result, err, start)
	if err != nil {
		return Fail(c, err)
	}
	return c.JSON(result)
}

// OCRFromUpload runs OCR on an uploaded image file
func (h *Handler) OCRFromUpload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return Error(c, fiber.StatusBadRequest, apperr.KindInvalidInput, "file is required")
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedImageExtensions[ext] {
		return Error(c, fiber.StatusBadRequest, apperr.KindInvalidInput,
			"unsupported file format. Supported: .jpg, .jpeg, .png, .bmp, .gif, .webp")
	}

	data, err := h.readUpload(file)
	if err != nil {
		return Fail(c, err)
	}

	ctx := c.UserContext()
	start := time.Now()

	result, err := h.ocr.RunOnBytes(ctx, data, ext, c.FormValue("prompt"))
	h.recordImageRun(c, data, file.Filename, result, err, start)
	if err != nil {
		return Fail(c, err)
	}
	return c.JSON(result)
}

// OCRFromPDF runs OCR over every page of an uploaded PDF
func (h *Handler) OCRFromPDF(c *fiber.Ctx) error {
	file, data, err := h.readPDFUpload(c)
	if err != nil {
		return Fail(c, err)
	}

	ctx := c.UserContext()
	start := time.Now()

	result, err := h.document.Process(ctx, data, formPassword(c), c.FormValue("prompt"))

	run := &models.CreateRunRequest{
		Kind:        models.RunKindDocument,
		InputDigest: services.Digest(data),
		InputName:   &file.Filename,
		ElapsedMS:   time.Since(start).Milliseconds(),
	}
	if result != nil {
		run.PageCount = result.PageCount
		run.FailedPages = result.FailedPages
		run.TextLength = utf8.RuneCountInString(result.FullText)
	}
	h.recordRun(c, run, err)

	if err != nil {
		return Fail(c, err)
	}
	return c.JSON(result)
}

func (h *Handler) readUpload(file *multipart.FileHeader) ([]byte, error) {
	if h.cfg.UploadMaxBytes > 0 && file.Size > int64(h.cfg.UploadMaxBytes) {
		return nil, fmt.Errorf("%w: file too large. Maximum size is %d bytes", apperr.ErrInvalidInput, h.cfg.UploadMaxBytes)
	}

	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return data, nil
}

func (h *Handler) readPDFUpload(c *fiber.Ctx) (*multipart.FileHeader, []byte, error) {
	file, err := c.FormFile("file")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: file is required", apperr.ErrInvalidInput)
	}
	if !strings.EqualFold(filepath.Ext(file.Filename), ".pdf") {
		return nil, nil, fmt.Errorf("%w: only .pdf files are accepted", apperr.ErrInvalidInput)
	}
	data, err := h.readUpload(file)
	if err != nil {
		return nil, nil, err
	}
	return file, data, nil
}

func formPassword(c *fiber.Ctx) *string {
	password := c.FormValue("password")
	if password == "" {
		return nil
	}
	return &password
}

func stripDataURL(s string) string {
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		return s[i+len(";base64,"):]
	}
	return s
}

func (h *Handler) recordImageRun(c *fiber.Ctx, input []byte, name string, result *models.OCRResult, err error, start time.Time) {
	run := &models.CreateRunRequest{
		Kind:        models.RunKindImage,
		InputDigest: services.Digest(input),
		ElapsedMS:   time.Since(start).Milliseconds(),
	}
	if name != "" {
		run.InputName = &name
	}
	if result != nil {
		run.PageCount = 1
		run.TextLength = utf8.RuneCountInString(result.FullText)
	}
	h.recordRun(c, run, err)
}

// recordRun stores a run in the history. Failures are logged only.
func (h *Handler) recordRun(c *fiber.Ctx, run *models.CreateRunRequest, runErr error) {
	if h.runs == nil {
		return
	}

	run.Backend = h.ocr.Meta().Backend
	switch {
	case runErr != nil:
		run.Status = models.RunStatusFailed
		kind := string(apperr.KindOf(runErr))
		msg := runErr.Error()
		run.ErrorKind = &kind
		run.ErrorMessage = &msg
	case run.FailedPages > 0:
		run.Status = models.RunStatusPartial
	default:
		run.Status = models.RunStatusCompleted
	}

	if _, err := h.runs.CreateRun(c.UserContext(), run); err != nil {
		h.logger(c).WithError(err).WithField("kind", run.Kind).Warn("Failed to record OCR run")
	}
}
