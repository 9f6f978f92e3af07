// Package apperr holds the error taxonomy shared by the OCR pipeline.
// Callers wrap these sentinels with fmt.Errorf("%w: ...") and classify
// with KindOf so the HTTP layer can report a stable kind.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the stable, client-visible name of an error class.
type Kind string

const (
	KindInvalidDocument    Kind = "invalid_document"
	KindPasswordRequired   Kind = "password_required"
	KindInvalidPassword    Kind = "invalid_password"
	KindPageRender         Kind = "page_render_error"
	KindImageNotFound      Kind = "image_not_found"
	KindNoResultProduced   Kind = "no_result_produced"
	KindDownloadFailure    Kind = "download_failure"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindBackendFailed      Kind = "backend_failed"
	KindInvalidInput       Kind = "invalid_input"
	KindCancelled          Kind = "cancelled"
	KindInternal           Kind = "internal"
)

var (
	ErrInvalidDocument    = errors.New("invalid document")
	ErrPasswordRequired   = errors.New("document is encrypted and requires a password")
	ErrInvalidPassword    = errors.New("invalid document password")
	ErrPageRender         = errors.New("page render failed")
	ErrImageNotFound      = errors.New("image not found")
	ErrNoResultProduced   = errors.New("no OCR result produced")
	ErrDownloadFailure    = errors.New("image download failed")
	ErrBackendUnavailable = errors.New("OCR backend unavailable")
	ErrBackendFailed      = errors.New("OCR backend failed")
	ErrInvalidInput       = errors.New("invalid input")
)

// PageRenderError reports a page that could not be rasterized.
type PageRenderError struct {
	PageIndex int
	Cause     error
}

func (e *PageRenderError) Error() string {
	return fmt.Sprintf("render page %d: %v", e.PageIndex+1, e.Cause)
}

func (e *PageRenderError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrPageRender) match any PageRenderError.
func (e *PageRenderError) Is(target error) bool {
	return target == ErrPageRender
}

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrPasswordRequired, KindPasswordRequired},
	{ErrInvalidPassword, KindInvalidPassword},
	{ErrPageRender, KindPageRender},
	{ErrInvalidDocument, KindInvalidDocument},
	{ErrImageNotFound, KindImageNotFound},
	{ErrNoResultProduced, KindNoResultProduced},
	{ErrDownloadFailure, KindDownloadFailure},
	{ErrBackendUnavailable, KindBackendUnavailable},
	{ErrBackendFailed, KindBackendFailed},
	{ErrInvalidInput, KindInvalidInput},
}

// KindOf classifies err. Unrecognised errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}
