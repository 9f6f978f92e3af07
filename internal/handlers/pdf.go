package handlers

import (
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/foxxcyber/dococr/internal/apperr"
	"github.com/foxxcyber/dococr/internal/models"
	"github.com/foxxcyber/dococr/internal/pdf"
	"github.com/foxxcyber/dococr/internal/services"
)

// SplitPDF renders every page of an uploaded PDF to a PNG file. With
// archive=true the pages are also uploaded to object storage.
func (h *Handler) SplitPDF(c *fiber.Ctx) error {
	file, data, err := h.readPDFUpload(c)
	if err != nil {
		return Fail(c, err)
	}

	archive := c.QueryBool("archive", false) || c.FormValue("archive") == "true"
	if archive && h.storage == nil {
		return Error(c, fiber.StatusServiceUnavailable, apperr.KindBackendUnavailable, "page archive storage is not configured")
	}

	ctx := c.UserContext()
	start := time.Now()

	result, err := h.document.Split(ctx, data, formPassword(c))
	if err == nil && archive {
		prefix := filepath.Base(result.Directory)
		objects, archiveErr := h.storage.ArchivePages(ctx, prefix, result)
		if archiveErr != nil {
			h.logger(c).WithError(archiveErr).Warn("Failed to archive split pages")
			err = archiveErr
		} else {
			result.Objects = objects
		}
	}

	run := &models.CreateRunRequest{
		Kind:        models.RunKindSplit,
		InputDigest: services.Digest(data),
		InputName:   &file.Filename,
		ElapsedMS:   time.Since(start).Milliseconds(),
	}
	if result != nil {
		run.PageCount = result.PageCount
	}
	h.recordRun(c, run, err)

	if err != nil {
		return Fail(c, err)
	}
	return c.JSON(result)
}

// PDFInfo reports page count and encryption without rendering
func (h *Handler) PDFInfo(c *fiber.Ctx) error {
	_, data, err := h.readPDFUpload(c)
	if err != nil {
		return Fail(c, err)
	}

	info, err := pdf.Inspect(data, formPassword(c))
	if err != nil {
		return Fail(c, err)
	}
	return Success(c, info)
}
