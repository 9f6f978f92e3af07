package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/foxxcyber/dococr/internal/apperr"
	"github.com/foxxcyber/dococr/internal/config"
	"github.com/foxxcyber/dococr/internal/middleware"
	"github.com/foxxcyber/dococr/internal/models"
	"github.com/foxxcyber/dococr/internal/services"
)

// RunStore records and reads the run history
type RunStore interface {
	CreateRun(ctx context.Context, req *models.CreateRunRequest) (*models.OCRRun, error)
	GetRunByID(ctx context.Context, id int) (*models.OCRRun, error)
	ListRuns(ctx context.Context, params *models.RunListParams) ([]*models.OCRRun, int, error)
}

// Handler holds all handler dependencies
type Handler struct {
	cfg      *config.Config
	ocr      *services.OCRService
	document *services.DocumentService
	storage  *services.StorageService
	runs     RunStore
	log      *logrus.Logger
}

// New creates a new Handler instance. storage and runs are optional.
func New(cfg *config.Config, ocr *services.OCRService, document *services.DocumentService, storage *services.StorageService, runs RunStore, log *logrus.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		ocr:      ocr,
		document: document,
		storage:  storage,
		runs:     runs,
		log:      log,
	}
}

// logger returns the handler logger tagged with the request id
func (h *Handler) logger(c *fiber.Ctx) *logrus.Entry {
	return h.log.WithField("request_id", middleware.GetRequestID(c))
}

// ErrorHandler is a custom error handler for Fiber
func ErrorHandler(c *fiber.Ctx, err error) error {
	// Check if it's a Fiber error
	var e *fiber.Error
	if errors.As(err, &e) {
		kind := apperr.KindInternal
		if e.Code < fiber.StatusInternalServerError {
			kind = apperr.KindInvalidInput
		}
		return Error(c, e.Code, kind, e.Message)
	}
	return Fail(c, err)
}

// ErrorBody is the payload of every error response
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail names the error class and describes it
type ErrorDetail struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

// APIResponse is a standard API response structure
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta contains pagination metadata
type Meta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Success returns a successful response
func Success(c *fiber.Ctx, data interface{}) error {
	return c.JSON(APIResponse{
		Success: true,
		Data:    data,
	})
}

// SuccessWithMeta returns a successful response with pagination
func SuccessWithMeta(c *fiber.Ctx, data interface{}, total, limit, offset int) error {
	return c.JSON(APIResponse{
		Success: true,
		Data:    data,
		Meta: &Meta{
			Total:  total,
			Limit:  limit,
			Offset: offset,
		},
	})
}

// Error returns an error response
func Error(c *fiber.Ctx, status int, kind apperr.Kind, message string) error {
	return c.Status(status).JSON(ErrorBody{
		Error: ErrorDetail{Kind: kind, Message: message},
	})
}

// Fail classifies err and responds with the matching status
func Fail(c *fiber.Ctx, err error) error {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)
	message := err.Error()
	if status == fiber.StatusInternalServerError && kind == apperr.KindInternal {
		message = "Internal Server Error"
	}
	return Error(c, status, kind, message)
}

// StatusFor maps an error kind to an HTTP status code
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidInput, apperr.KindInvalidDocument:
		return fiber.StatusBadRequest
	case apperr.KindPasswordRequired:
		return fiber.StatusUnauthorized
	case apperr.KindInvalidPassword:
		return fiber.StatusForbidden
	case apperr.KindImageNotFound:
		return fiber.StatusNotFound
	case apperr.KindNoResultProduced, apperr.KindPageRender:
		return fiber.StatusUnprocessableEntity
	case apperr.KindDownloadFailure:
		return fiber.StatusBadGateway
	case apperr.KindBackendUnavailable:
		return fiber.StatusServiceUnavailable
	case apperr.KindCancelled:
		return fiber.StatusRequestTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// SetupRoutes registers every endpoint on app
func SetupRoutes(app *fiber.App, h *Handler) {
	app.Get("/", h.Root)
	app.Get("/health", h.Health)

	app.Post("/ocr", h.OCRFromURL)
	app.Post("/ocr/local", h.OCRFromPath)
	app.Post("/ocr/upload", h.OCRFromUpload)
	app.Post("/ocr/pdf", h.OCRFromPDF)

	app.Post("/pdf/split", h.SplitPDF)
	app.Post("/pdf/info", h.PDFInfo)

	api := app.Group("/api")
	api.Get("/runs", h.ListRuns)
	api.Get("/runs/:id", h.GetRun)
}

// Root describes the service
func (h *Handler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message": "DeepSeek OCR API",
		"meta":    h.ocr.Meta(),
	})
}

// Health reports the serving model and device
func (h *Handler) Health(c *fiber.Ctx) error {
	meta := h.ocr.Meta()
	return c.JSON(fiber.Map{
		"status":   "ok",
		"device":   meta.Device,
		"model_id": meta.ModelID,
		"backend":  meta.Backend,
		"extra": fiber.Map{
			"history": h.runs != nil,
			"archive": h.storage != nil,
		},
	})
}
