package backend

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"

	"github.com/foxxcyber/dococr/internal/apperr"
)

// Vision sends the page image to an OpenAI-compatible chat endpoint,
// such as a vLLM server hosting DeepSeek-OCR.
type Vision struct {
	client *openai.Client
	model  string
	log    *logrus.Logger
}

// NewVision creates a backend for the configured endpoint
func NewVision(cfg Config, log *logrus.Logger) (*Vision, error) {
	if cfg.VisionURL == "" {
		return nil, fmt.Errorf("%w: VISION_API_URL not configured", apperr.ErrBackendUnavailable)
	}

	model := cfg.VisionModel
	if model == "" {
		model = cfg.ModelID
	}

	var opts []option.RequestOption
	opts = append(opts, option.WithBaseURL(cfg.VisionURL))
	if cfg.VisionKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.VisionKey))
	} else {
		// local servers accept any key but the client insists on one
		opts = append(opts, option.WithAPIKey("none"))
	}

	client := openai.NewClient(opts...)
	return &Vision{client: &client, model: model, log: log}, nil
}

func (v *Vision) Name() string {
	return KindVision
}

// Infer writes the model reply to result.mmd and echoes it to Stdout
func (v *Vision) Infer(ctx context.Context, req Request) error {
	data, err := os.ReadFile(req.ImagePath)
	if err != nil {
		return fmt.Errorf("%w: read image: %v", apperr.ErrBackendFailed, err)
	}

	dataURL := "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
	prompt := strings.TrimSpace(strings.ReplaceAll(req.Prompt, "<image>", ""))

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			openai.TextContentPart(prompt),
		}),
	}

	response, err := v.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    v.model,
		Messages: messages,
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 500 {
			return fmt.Errorf("%w: %v", apperr.ErrBackendUnavailable, err)
		}
		return fmt.Errorf("%w: %v", apperr.ErrBackendFailed, err)
	}
	if len(response.Choices) == 0 {
		return fmt.Errorf("%w: no response choices returned", apperr.ErrBackendFailed)
	}

	text := response.Choices[0].Message.Content
	fmt.Fprintln(writer(req.Stdout), text)

	v.log.WithFields(logrus.Fields{
		"model":  v.model,
		"tokens": response.Usage.TotalTokens,
	}).Debug("Vision OCR completed")

	if err := os.WriteFile(filepath.Join(req.OutputDir, "result.mmd"), []byte(text), 0o644); err != nil {
		return fmt.Errorf("%w: write result: %v", apperr.ErrBackendFailed, err)
	}
	return nil
}

func (v *Vision) Close() error {
	return nil
}
