package pdf

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/foxxcyber/dococr/internal/apperr"
)

// Info summarizes a document without rendering it
type Info struct {
	PageCount int    `json:"page_count"`
	Encrypted bool   `json:"encrypted"`
	Version   string `json:"version"`
	SizeBytes int    `json:"size_bytes"`
}

// Inspect parses the document structure with pdfcpu and reports its
// page count and encryption state. Errors follow the rasterizer's kinds.
func Inspect(data []byte, password *string) (*Info, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty document", apperr.ErrInvalidDocument)
	}

	conf := model.NewDefaultConfiguration()
	if password != nil {
		conf.UserPW = *password
		conf.OwnerPW = *password
	}

	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, classifyInspectError(err, password)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidDocument, err)
	}

	return &Info{
		PageCount: ctx.PageCount,
		Encrypted: ctx.Encrypt != nil,
		Version:   ctx.VersionString(),
		SizeBytes: len(data),
	}, nil
}

func classifyInspectError(err error, password *string) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "password") {
		if password == nil || *password == "" {
			return apperr.ErrPasswordRequired
		}
		return apperr.ErrInvalidPassword
	}
	return fmt.Errorf("%w: %v", apperr.ErrInvalidDocument, err)
}
